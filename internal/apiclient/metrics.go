package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts pipeline outcomes. A nil *Metrics records nothing.
type Metrics struct {
	responses *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	queued    prometheus.Counter
	teardowns prometheus.Counter
}

// NewMetrics registers the client collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventa",
			Subsystem: "client",
			Name:      "responses_total",
			Help:      "Requests through the authenticated pipeline by outcome.",
		}, []string{"outcome"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventa",
			Subsystem: "client",
			Name:      "token_refreshes_total",
			Help:      "Calls to the refresh endpoint by result.",
		}, []string{"result"}),
		queued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "inventa",
			Subsystem: "client",
			Name:      "refresh_waiters_total",
			Help:      "Requests that waited on an in-flight token refresh.",
		}),
		teardowns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "inventa",
			Subsystem: "client",
			Name:      "session_teardowns_total",
			Help:      "Sessions cleared after a terminal authentication failure.",
		}),
	}
}

func (m *Metrics) observe(o outcome) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) refreshed(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) waited() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

func (m *Metrics) tornDown() {
	if m == nil {
		return
	}
	m.teardowns.Inc()
}
