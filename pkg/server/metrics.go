package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the realtime layer. A nil
// *Metrics is valid everywhere it is consumed; tests pass nil to avoid
// registration conflicts between packages.
type Metrics struct {
	connectionsTotal    prometheus.Counter
	activeSessions      prometheus.Gauge
	eventsReceived      *prometheus.CounterVec
	messagesSent        prometheus.Counter
	messagesBlocked     prometheus.Counter
	persistenceFailures prometheus.Counter
	deliveries          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registerer
func NewMetrics() *Metrics {
	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedwire_ws_connections_total",
			Help: "Total websocket connections accepted (including rejected handshakes)",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedwire_active_sessions",
			Help: "Currently registered realtime sessions",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedwire_events_received_total",
			Help: "Inbound protocol events by type (including rejected)",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedwire_dm_sent_total",
			Help: "Direct messages accepted by the gate and persisted",
		}),
		messagesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedwire_dm_blocked_total",
			Help: "Direct message sends refused by the relationship gate",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedwire_dm_persist_failures_total",
			Help: "Direct message store writes that failed",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedwire_deliveries_total",
			Help: "Notification outcomes by result (delivered, not_connected, write_failed)",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.connectionsTotal,
		m.activeSessions,
		m.eventsReceived,
		m.messagesSent,
		m.messagesBlocked,
		m.persistenceFailures,
		m.deliveries,
	)

	return m
}

// RecordConnection tracks an accepted websocket handshake
func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

// RecordActiveSessions updates the registered-session gauge
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordEventReceived tracks one inbound protocol event
func (m *Metrics) RecordEventReceived(eventType string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(eventType).Inc()
}

// RecordMessageSent tracks a persisted direct message
func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// RecordMessageBlocked tracks a gate-refused send
func (m *Metrics) RecordMessageBlocked() {
	if m == nil {
		return
	}
	m.messagesBlocked.Inc()
}

// RecordPersistenceFailure tracks a failed message store write
func (m *Metrics) RecordPersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

// RecordDelivery tracks one notification outcome
func (m *Metrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}
