package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	embeddednats "orion-bridge/pkg/services/embedded-nats"
	"orion-bridge/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
)

type Manager struct {
	workers []Worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager provisions the relay's durable consumers and builds its
// workers. reg may be nil.
func NewManager(natsClient *embeddednats.EmbeddedNATS, recorder NotificationRecorder, reg prometheus.Registerer) (*Manager, error) {
	if natsClient.Connection() == nil {
		return nil, fmt.Errorf("NATS connection not initialized")
	}

	js := natsClient.JetStream()
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}
	if recorder == nil {
		return nil, fmt.Errorf("notification recorder is required")
	}

	consumers := []struct {
		stream   string
		consumer string
		filter   string
	}{
		{shared.StreamNotifications, shared.ConsumerNotificationRecorder, shared.SubjectNotificationsAll},
		{shared.StreamSubscriptions, shared.ConsumerSubscriptionAuditor, shared.SubjectSubscriptionsAll},
	}
	for _, c := range consumers {
		if err := natsClient.CreateDurableConsumer(c.stream, c.consumer, c.filter); err != nil {
			return nil, fmt.Errorf("failed to create consumer %s: %w", c.consumer, err)
		}
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orion_relay_subscription_events_total",
		Help: "Subscription lifecycle events seen by the relay, by type.",
	}, []string{"type"})
	if reg != nil {
		if err := reg.Register(events); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("failed to register worker metrics: %w", err)
			}
			events = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		workers: []Worker{
			NewNotificationWorker(js, recorder),
			NewSubscriptionAuditor(js, events),
		},
	}, nil
}

func (m *Manager) Start() error {
	log.Println("Starting NATS workers...")

	for _, worker := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()

			log.Printf("Starting worker: %s", w.Name())
			if err := w.Start(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Worker %s error: %v", w.Name(), err)
			}
			log.Printf("Worker %s stopped", w.Name())
		}(worker)
	}

	log.Printf("Started %d workers", len(m.workers))
	return nil
}

// Stop cancels the workers and waits for their fetch loops to return. The
// NATS connection belongs to the embedded server and is left open.
func (m *Manager) Stop() error {
	log.Println("Stopping NATS workers...")

	m.cancel()
	m.wg.Wait()

	for _, worker := range m.workers {
		if err := worker.Stop(); err != nil {
			log.Printf("Error stopping worker %s: %v", worker.Name(), err)
		}
	}

	log.Println("All workers stopped")
	return nil
}
