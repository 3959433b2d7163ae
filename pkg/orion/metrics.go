package orion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments broker round trips. A nil *Metrics records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	tokenRefresh prometheus.Counter
}

// NewMetrics creates the client collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Broker requests by HTTP method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Broker request latency by HTTP method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		tokenRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "client",
			Name:      "token_refreshes_total",
			Help:      "Auth tokens obtained from the token endpoint.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration, m.tokenRefresh} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// outcome labels
const (
	outcomeOK        = "ok"
	outcomeStatus    = "status_error"
	outcomeOrion     = "orion_error"
	outcomeTransport = "transport_error"
)

func (m *Metrics) observe(method, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *Metrics) tokenRefreshed() {
	if m == nil {
		return
	}
	m.tokenRefresh.Inc()
}
