package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"orion-bridge/pkg/ontology"
	embeddednats "orion-bridge/pkg/services/embedded-nats"
	"orion-bridge/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu       sync.Mutex
	failures int
	recorded []ontology.Notification
}

func (r *fakeRecorder) Record(_ context.Context, n *ontology.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("ledger busy")
	}
	r.recorded = append(r.recorded, *n)
	return nil
}

func (r *fakeRecorder) snapshot() []ontology.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ontology.Notification(nil), r.recorded...)
}

func startRelay(t *testing.T, recorder NotificationRecorder, reg prometheus.Registerer) (*embeddednats.EmbeddedNATS, *Manager) {
	t.Helper()

	cfg := embeddednats.DefaultConfig()
	cfg.Port = -1
	cfg.DataDir = t.TempDir()
	cfg.NoLog = true

	en, err := embeddednats.New(cfg)
	require.NoError(t, err)
	require.NoError(t, en.Start())
	require.NoError(t, en.CreateRelayStreams())

	m, err := NewManager(en, recorder, reg)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	t.Cleanup(func() {
		_ = m.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = en.Shutdown(ctx)
	})
	return en, m
}

func publishNotification(t *testing.T, en *embeddednats.EmbeddedNATS, n ontology.Notification) {
	t.Helper()
	data, err := json.Marshal(n)
	require.NoError(t, err)
	require.NoError(t, en.PublishWithDedup(shared.NotificationSubject(n.SubscriptionID), data, n.NotificationID))
}

func TestNewManager_RequiresRecorder(t *testing.T) {
	cfg := embeddednats.DefaultConfig()
	en, err := embeddednats.New(cfg)
	require.NoError(t, err)

	_, err = NewManager(en, &fakeRecorder{}, nil)
	assert.Error(t, err, "not started")
}

func TestNotificationWorker_Records(t *testing.T) {
	rec := &fakeRecorder{}
	en, _ := startRelay(t, rec, nil)

	publishNotification(t, en, ontology.Notification{
		NotificationID: "n-1",
		SubscriptionID: "51c04a21d714fb3b37d7d5a7",
		Originator:     "localhost",
		EntityIDs:      []string{"opentrack:race:1"},
		Payload:        `{"subscriptionId":"51c04a21d714fb3b37d7d5a7"}`,
		ReceivedAt:     time.Now().UTC(),
	})
	// Same message id is dropped by the stream.
	publishNotification(t, en, ontology.Notification{NotificationID: "n-1", SubscriptionID: "51c04a21d714fb3b37d7d5a7"})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 10*time.Second, 50*time.Millisecond)

	got := rec.snapshot()[0]
	assert.Equal(t, "n-1", got.NotificationID)
	assert.Equal(t, []string{"opentrack:race:1"}, got.EntityIDs)
}

func TestNotificationWorker_RedeliversOnFailure(t *testing.T) {
	rec := &fakeRecorder{failures: 1}
	en, _ := startRelay(t, rec, nil)

	publishNotification(t, en, ontology.Notification{NotificationID: "n-2", SubscriptionID: "sub"})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, "n-2", rec.snapshot()[0].NotificationID)
}

func TestSubscriptionAuditor_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	en, _ := startRelay(t, &fakeRecorder{}, reg)

	for i, typ := range []string{shared.EventTypeCreated, shared.EventTypeCancelled} {
		data, err := json.Marshal(shared.Event{
			ID:        string(rune('a' + i)),
			Type:      typ,
			Subject:   "sub-9",
			Data:      map[string]interface{}{"entity_id": "opentrack:race:1"},
			Timestamp: time.Now(),
			Source:    shared.SourceSubscriptionService,
		})
		require.NoError(t, err)
		require.NoError(t, en.PublishWithDedup(shared.SubscriptionCreatedSubject("sub-9"), data, string(rune('a'+i))))
	}

	require.Eventually(t, func() bool {
		return counterTotal(t, reg, "orion_relay_subscription_events_total") == 2
	}, 10*time.Second, 50*time.Millisecond)
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
