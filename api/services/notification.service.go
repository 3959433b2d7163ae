package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"orion-bridge/db"
	"orion-bridge/pkg/ontology"
	"orion-bridge/pkg/shared"

	"github.com/google/uuid"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidNotification  = errors.New("invalid notification")
)

// Publisher is the slice of the embedded NATS server the services use.
type Publisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

type NotificationService struct {
	db        *db.Service
	publisher Publisher
	now       func() time.Time
}

// NewNotificationService records broker notifications in the ledger. With a
// publisher, accepted notifications travel through JetStream first.
func NewNotificationService(ledger *db.Service, publisher Publisher) *NotificationService {
	return &NotificationService{db: ledger, publisher: publisher, now: time.Now}
}

// ParseNotification turns a broker notifyContextRequest body into a ledger
// record with a fresh id.
func ParseNotification(body []byte, receivedAt time.Time) (*ontology.Notification, error) {
	var req ontology.NotifyContextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if req.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: missing subscriptionId", ErrInvalidNotification)
	}

	ids := make([]string, 0, len(req.ContextResponses))
	for _, cr := range req.ContextResponses {
		if cr.ContextElement != nil && cr.ContextElement.ID != "" {
			ids = append(ids, cr.ContextElement.ID)
		}
	}

	return &ontology.Notification{
		NotificationID: uuid.New().String(),
		SubscriptionID: req.SubscriptionID,
		Originator:     req.Originator,
		EntityIDs:      ids,
		Payload:        string(body),
		ReceivedAt:     receivedAt.UTC(),
	}, nil
}

// Accept takes a notification posted by the broker. It is published for the
// recorder worker when NATS is available and written straight to the ledger
// otherwise.
func (s *NotificationService) Accept(ctx context.Context, body []byte) (*ontology.Notification, error) {
	n, err := ParseNotification(body, s.now())
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		data, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notification: %w", err)
		}
		err = s.publisher.PublishWithDedup(shared.NotificationSubject(n.SubscriptionID), data, n.NotificationID)
		if err == nil {
			return n, nil
		}
		log.Printf("Failed to publish notification %s, recording directly: %v", n.NotificationID, err)
	}

	if err := s.Record(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Record stores n and stamps the subscription's last notification time.
// A notification id already in the ledger is ignored.
func (s *NotificationService) Record(ctx context.Context, n *ontology.Notification) error {
	entityIDs := n.EntityIDs
	if entityIDs == nil {
		entityIDs = []string{}
	}
	idsJSON, err := json.Marshal(entityIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal entity ids: %w", err)
	}

	receivedAt := n.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	at := db.FormatTime(receivedAt)

	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO notifications (notification_id, subscription_id, originator, entity_ids, payload, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			n.NotificationID, n.SubscriptionID, n.Originator, string(idsJSON), n.Payload, at,
		)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE subscriptions SET last_notified_at = ?
			 WHERE subscription_id = ? AND (last_notified_at IS NULL OR last_notified_at < ?)`,
			at, n.SubscriptionID, at,
		)
		if err != nil {
			return fmt.Errorf("failed to stamp subscription: %w", err)
		}
		return nil
	})
}

// List returns notifications newest first, optionally for one subscription.
func (s *NotificationService) List(ctx context.Context, subscriptionID string, limit int) ([]ontology.Notification, error) {
	if limit <= 0 {
		limit = shared.DefaultListLimit
	}
	if limit > shared.MaxListLimit {
		limit = shared.MaxListLimit
	}

	query := `SELECT notification_id, subscription_id, originator, entity_ids, payload, received_at FROM notifications`
	args := []interface{}{}
	if subscriptionID != "" {
		query += ` WHERE subscription_id = ?`
		args = append(args, subscriptionID)
	}
	query += ` ORDER BY received_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []ontology.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	return notifications, nil
}

// Latest returns the most recent notification for subscriptionID.
func (s *NotificationService) Latest(ctx context.Context, subscriptionID string) (*ontology.Notification, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT notification_id, subscription_id, originator, entity_ids, payload, received_at
		 FROM notifications WHERE subscription_id = ?
		 ORDER BY received_at DESC, rowid DESC LIMIT 1`,
		subscriptionID,
	)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row scanner) (*ontology.Notification, error) {
	var n ontology.Notification
	var idsJSON, receivedAt string

	if err := row.Scan(&n.NotificationID, &n.SubscriptionID, &n.Originator, &idsJSON, &n.Payload, &receivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	if err := json.Unmarshal([]byte(idsJSON), &n.EntityIDs); err != nil {
		return nil, fmt.Errorf("failed to decode entity ids: %w", err)
	}
	t, err := db.ParseTime(receivedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse received_at: %w", err)
	}
	n.ReceivedAt = t
	return &n, nil
}
