package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds router instruments. A nil *Metrics records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewMetrics registers notify metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Envelopes handed to the transport, by event.",
		}, []string{"event"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "notify",
			Name:      "delivery_failures_total",
			Help:      "Per-connection send failures and target lookups that failed, by event.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.failures)
	}
	return m
}

func (m *Metrics) delivered(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) failed(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.failures.WithLabelValues(event).Add(float64(n))
}
