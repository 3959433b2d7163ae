package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"orion-bridge/pkg/ontology"
	"orion-bridge/pkg/shared"

	"github.com/nats-io/nats.go"
)

// NotificationRecorder persists a broker notification. Recording the same
// notification id twice must be harmless.
type NotificationRecorder interface {
	Record(ctx context.Context, n *ontology.Notification) error
}

// NotificationWorker drains relayed broker notifications into the ledger.
type NotificationWorker struct {
	*BaseWorker
	recorder NotificationRecorder
}

func NewNotificationWorker(js nats.JetStreamContext, recorder NotificationRecorder) *NotificationWorker {
	return &NotificationWorker{
		BaseWorker: NewBaseWorker(
			"NotificationWorker",
			js,
			shared.StreamNotifications,
			shared.ConsumerNotificationRecorder,
			shared.SubjectNotificationsAll,
		),
		recorder: recorder,
	}
}

func (w *NotificationWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, w.handle)
}

func (w *NotificationWorker) handle(ctx context.Context, msg *nats.Msg) error {
	var n ontology.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		// Redelivery cannot fix a malformed payload.
		log.Printf("[%s] Dropping malformed notification on %s: %v", w.Name(), msg.Subject, err)
		return nil
	}

	if err := w.recorder.Record(ctx, &n); err != nil {
		return fmt.Errorf("record notification %s: %w", n.NotificationID, err)
	}

	log.Printf("[%s] Recorded notification %s for subscription %s (%d entities)",
		w.Name(), n.NotificationID, n.SubscriptionID, len(n.EntityIDs))
	return nil
}
