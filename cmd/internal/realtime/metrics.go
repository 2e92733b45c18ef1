package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds gateway instruments. A nil *Metrics records nothing.
type Metrics struct {
	live       *prometheus.GaugeVec
	rejections *prometheus.CounterVec
}

// NewMetrics registers realtime metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live WebSocket connections by channel.",
		}, []string{"channel"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "connect_rejections_total",
			Help:      "Connections aborted during handshake or registration, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.live, m.rejections)
	}
	return m
}

func (m *Metrics) connected(ch Channel) {
	if m == nil {
		return
	}
	m.live.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) disconnected(ch Channel) {
	if m == nil {
		return
	}
	m.live.WithLabelValues(string(ch)).Dec()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}
