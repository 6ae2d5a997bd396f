package inet

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts datagrams handled by senders and forwarders.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Sent       *prometheus.CounterVec // by route
	SendErrors prometheus.Counter
	Malformed  prometheus.Counter
	Forwarded  *prometheus.CounterVec // by leg: inbound, outbound
}

// NewMetrics creates the counters and registers them with reg when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvcomm",
			Subsystem: "inet",
			Name:      "sent_total",
			Help:      "Datagrams sent, by route.",
		}, []string{"route"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cvcomm",
			Subsystem: "inet",
			Name:      "send_errors_total",
			Help:      "Datagrams that could not be sent.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cvcomm",
			Subsystem: "inet",
			Name:      "malformed_bundles_total",
			Help:      "Relay envelopes rejected as malformed.",
		}),
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvcomm",
			Subsystem: "forwarder",
			Name:      "packets_total",
			Help:      "Datagrams handled by the forwarder node, by leg.",
		}, []string{"leg"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sent, m.SendErrors, m.Malformed, m.Forwarded)
	}
	return m
}

func (m *Metrics) sent(r Route) {
	if m != nil {
		m.Sent.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) sendError() {
	if m != nil {
		m.SendErrors.Inc()
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) forwarded(leg string) {
	if m != nil {
		m.Forwarded.WithLabelValues(leg).Inc()
	}
}
