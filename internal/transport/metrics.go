package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ConnectAttempts  prometheus.Counter
	StateTransitions prometheus.Counter
	EmitErrors       prometheus.Counter
	EventsReceived   *prometheus.CounterVec
}

// NewMetrics builds the transport counters and registers them when a
// registerer is provided.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_connect_attempts_total",
			Help: "Socket dial attempts, including reconnects.",
		}),
		StateTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_state_transitions_total",
			Help: "Connection state changes.",
		}),
		EmitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_emit_errors_total",
			Help: "Outbound event writes that failed.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_events_received_total",
			Help: "Inbound events by event name.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnectAttempts, m.StateTransitions, m.EmitErrors, m.EventsReceived)
	}
	return m
}
