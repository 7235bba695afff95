// Package metrics exposes Prometheus collectors for session and exchange
// lifecycle. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcp_transport"

// Metrics holds the collectors updated by the session registry.
type Metrics struct {
	sessions  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	exchanges *prometheus.CounterVec
}

// StatsFunc reports the current number of connected and disconnected
// (grace period) sessions.
type StatsFunc func() (connected, disconnected int)

// New registers the collectors with reg. stats, when non-nil, backs the live
// session gauges.
func New(reg prometheus.Registerer, stats StatsFunc) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by kind (created, resumed, disconnected, evicted, terminated).",
		}, []string{"event", "encoding"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_rejections_total",
			Help:      "Inbound messages refused because the session was unknown or disconnected.",
		}, []string{"reason"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Streamable HTTP exchanges by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{m.sessions, m.rejected, m.exchanges}
	if stats != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_connected",
				Help:      "Sessions with a live transport.",
			}, func() float64 {
				c, _ := stats()
				return float64(c)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_disconnected",
				Help:      "Sessions waiting out their reconnection grace period.",
			}, func() float64 {
				_, d := stats()
				return float64(d)
			}),
		)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionEvent counts a lifecycle transition.
func (m *Metrics) SessionEvent(event, encoding string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(event, encoding).Inc()
}

// Rejected counts a refused inbound message.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Exchange counts a finished exchange.
func (m *Metrics) Exchange(outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
}
