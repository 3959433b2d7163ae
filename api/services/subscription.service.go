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
	"orion-bridge/pkg/orion"
	"orion-bridge/pkg/shared"

	"github.com/google/uuid"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// Broker is the part of orion.Client the subscription service drives.
type Broker interface {
	BuildSubscription(req orion.SubscriptionRequest) (*ontology.SubscribeContextRequest, error)
	Subscribe(ctx context.Context, req orion.SubscriptionRequest) (*ontology.SubscribeResponse, error)
	CancelSubscription(ctx context.Context, id string) (*ontology.UnsubscribeResponse, error)
}

type SubscriptionService struct {
	db        *db.Service
	broker    Broker
	publisher Publisher
	now       func() time.Time
}

func NewSubscriptionService(ledger *db.Service, broker Broker, publisher Publisher) *SubscriptionService {
	return &SubscriptionService{db: ledger, broker: broker, publisher: publisher, now: time.Now}
}

// Create subscribes on the broker and records the subscription locally.
func (s *SubscriptionService) Create(ctx context.Context, req *ontology.CreateSubscriptionRequest) (*ontology.Subscription, error) {
	if req.EntityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}

	sr := orion.SubscriptionRequest{
		EntityID:    req.EntityID,
		EntityType:  req.EntityType,
		Attributes:  req.Attributes,
		CallbackURL: req.CallbackURL,
		Duration:    req.Duration,
		Throttling:  req.Throttling,
	}
	msg, err := s.broker.BuildSubscription(sr)
	if err != nil {
		return nil, err
	}

	resp, err := s.broker.Subscribe(ctx, sr)
	if err != nil {
		return nil, fmt.Errorf("broker subscribe failed: %w", err)
	}
	if resp.SubscribeResponse.SubscriptionID == "" {
		return nil, fmt.Errorf("broker returned no subscription id")
	}

	sub := &ontology.Subscription{
		SubscriptionID: resp.SubscribeResponse.SubscriptionID,
		EntityID:       req.EntityID,
		EntityType:     req.EntityType,
		Attributes:     msg.Attributes,
		Reference:      msg.Reference,
		Duration:       msg.Duration,
		Throttling:     msg.Throttling,
		CreatedAt:      s.now().UTC(),
	}
	if resp.SubscribeResponse.Duration != "" {
		sub.Duration = resp.SubscribeResponse.Duration
	}
	if resp.SubscribeResponse.Throttling != "" {
		sub.Throttling = resp.SubscribeResponse.Throttling
	}

	attrsJSON, err := json.Marshal(sub.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO subscriptions (subscription_id, entity_id, entity_type, attributes, reference, duration, throttling, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.SubscriptionID, sub.EntityID, sub.EntityType, string(attrsJSON),
		sub.Reference, sub.Duration, sub.Throttling, db.FormatTime(sub.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record subscription: %w", err)
	}

	s.publishEvent(shared.EventTypeCreated, shared.SubscriptionCreatedSubject(sub.SubscriptionID), sub.SubscriptionID, map[string]interface{}{
		"entity_id":  sub.EntityID,
		"attributes": sub.Attributes,
		"reference":  sub.Reference,
		"duration":   sub.Duration,
	})

	log.Printf("Created subscription %s on %s", sub.SubscriptionID, sub.EntityID)
	return sub, nil
}

// Cancel removes the subscription from the broker and marks it cancelled in
// the ledger. Subscriptions the ledger never saw are still cancelled on the
// broker.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID string) (*ontology.UnsubscribeResponse, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required")
	}

	resp, err := s.broker.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("broker unsubscribe failed: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx,
		`UPDATE subscriptions SET cancelled_at = ? WHERE subscription_id = ? AND cancelled_at IS NULL`,
		db.FormatTime(s.now()), subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark subscription cancelled: %w", err)
	}

	s.publishEvent(shared.EventTypeCancelled, shared.SubscriptionCancelledSubject(subscriptionID), subscriptionID, map[string]interface{}{
		"status_code": resp.StatusCode.Code,
	})

	log.Printf("Cancelled subscription %s", subscriptionID)
	return resp, nil
}

func (s *SubscriptionService) Get(ctx context.Context, subscriptionID string) (*ontology.Subscription, error) {
	row := s.db.DB.QueryRowContext(ctx, subscriptionColumns+` WHERE subscription_id = ?`, subscriptionID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

// List returns ledger subscriptions newest first.
func (s *SubscriptionService) List(ctx context.Context, activeOnly bool) ([]ontology.Subscription, error) {
	query := subscriptionColumns
	if activeOnly {
		query += ` WHERE cancelled_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []ontology.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SubscriptionService) publishEvent(eventType, subject, subscriptionID string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}

	event := shared.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subscriptionID,
		Data:      data,
		Timestamp: s.now().UTC(),
		Source:    shared.SourceSubscriptionService,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", eventType, err)
		return
	}
	if err := s.publisher.PublishWithDedup(subject, payload, event.ID); err != nil {
		log.Printf("Failed to publish %s event for %s: %v", eventType, subscriptionID, err)
	}
}

const subscriptionColumns = `SELECT subscription_id, entity_id, entity_type, attributes, reference, duration, throttling,
	created_at, last_notified_at, cancelled_at FROM subscriptions`

func scanSubscription(row scanner) (*ontology.Subscription, error) {
	var sub ontology.Subscription
	var attrsJSON, createdAt string
	var lastNotified, cancelled sql.NullString

	err := row.Scan(&sub.SubscriptionID, &sub.EntityID, &sub.EntityType, &attrsJSON,
		&sub.Reference, &sub.Duration, &sub.Throttling, &createdAt, &lastNotified, &cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	if err := json.Unmarshal([]byte(attrsJSON), &sub.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if sub.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if sub.LastNotifiedAt, err = parseNullTime(lastNotified); err != nil {
		return nil, fmt.Errorf("failed to parse last_notified_at: %w", err)
	}
	if sub.CancelledAt, err = parseNullTime(cancelled); err != nil {
		return nil, fmt.Errorf("failed to parse cancelled_at: %w", err)
	}
	return &sub, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := db.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
