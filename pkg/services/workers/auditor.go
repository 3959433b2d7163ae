package workers

import (
	"context"
	"encoding/json"
	"log"

	"orion-bridge/pkg/shared"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

// SubscriptionAuditor logs subscription lifecycle events and counts them
// by type.
type SubscriptionAuditor struct {
	*BaseWorker
	events *prometheus.CounterVec
}

func NewSubscriptionAuditor(js nats.JetStreamContext, events *prometheus.CounterVec) *SubscriptionAuditor {
	return &SubscriptionAuditor{
		BaseWorker: NewBaseWorker(
			"SubscriptionAuditor",
			js,
			shared.StreamSubscriptions,
			shared.ConsumerSubscriptionAuditor,
			shared.SubjectSubscriptionsAll,
		),
		events: events,
	}
}

func (w *SubscriptionAuditor) Start(ctx context.Context) error {
	return w.processMessages(ctx, w.handle)
}

func (w *SubscriptionAuditor) handle(_ context.Context, msg *nats.Msg) error {
	var event shared.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("[%s] Raw message data: %s", w.Name(), string(msg.Data))
		return nil
	}

	if w.events != nil {
		w.events.WithLabelValues(event.Type).Inc()
	}

	data, _ := json.Marshal(event.Data)
	log.Printf("[%s] Subscription %s %s: %s", w.Name(), event.Subject, event.Type, data)
	return nil
}
