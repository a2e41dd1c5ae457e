package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liveassist"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	activeSessions  prometheus.Gauge
	sessionsOpened  *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	turnsCompleted  prometheus.Counter
	inputsForwarded *prometheus.CounterVec
	quotaRejections *prometheus.CounterVec
	searchRequests  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Realtime sessions currently held in memory.",
		}),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions opened, by origin (initialize, restore).",
		}, []string{"origin"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Channel reconnection attempts, by outcome.",
		}, []string{"outcome"}),
		turnsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Conversation turns assembled.",
		}),
		inputsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_forwarded_total",
			Help:      "Inputs forwarded to a live channel, by kind.",
		}, []string{"kind"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Units of work rejected by the quota ledger, by dimension.",
		}, []string{"dimension"}),
		searchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Web search requests, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionsOpened,
		m.reconnects,
		m.turnsCompleted,
		m.inputsForwarded,
		m.quotaRejections,
		m.searchRequests,
	)
	return m
}

func (m *Metrics) SessionOpened(origin string) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(origin).Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) Reconnect(outcome string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TurnCompleted() {
	if m == nil {
		return
	}
	m.turnsCompleted.Inc()
}

func (m *Metrics) InputForwarded(kind string) {
	if m == nil {
		return
	}
	m.inputsForwarded.WithLabelValues(kind).Inc()
}

func (m *Metrics) QuotaRejected(dimension string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(dimension).Inc()
}

func (m *Metrics) SearchRequest(outcome string) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(outcome).Inc()
}
