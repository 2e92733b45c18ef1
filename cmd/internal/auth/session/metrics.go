package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds session counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	replays   prometheus.Counter
	swept     prometheus.Counter
}

// NewMetrics registers session metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "replays_detected_total",
			Help:      "Rotated refresh tokens presented again.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "expired_swept_total",
			Help:      "Expired sessions deleted by the sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.replays, m.swept)
	}
	return m
}

func (m *Metrics) login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) replay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *Metrics) sweptN(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsAuthenticationError(err):
		return "denied"
	case IsTokenError(err):
		return "bad_token"
	case IsSessionError(err):
		return "bad_session"
	default:
		return "error"
	}
}
