package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service's prometheus collectors. Each instance owns its
// registry so tests can build as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	claimConflicts    prometheus.Counter
	broadcasts        *prometheus.CounterVec
	triageReplies     *prometheus.CounterVec
	activeConnections prometheus.Gauge
	requestDuration   *prometheus.HistogramVec
	errors            *prometheus.CounterVec
}

// NewMetrics initializes collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ticket_transitions_total",
			Help: "Ticket lifecycle transitions by event and outcome",
		}, []string{"event", "outcome"}),
		claimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_claim_conflicts_total",
			Help: "Claims rejected because another agent won the race",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_broadcasts_total",
			Help: "Fan-out broadcasts by event name and outcome",
		}, []string{"event", "outcome"}),
		triageReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_triage_replies_total",
			Help: "Triage replies by source (model, fallback, out_of_scope)",
		}, []string{"source"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "helpdesk_stream_connections",
			Help: "Currently registered fan-out connections",
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_errors_total",
			Help: "HTTP errors by error code",
		}, []string{"method", "route", "code"}),
	}
}

// RecordTransition counts a lifecycle transition attempt.
func (m *Metrics) RecordTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

// RecordClaimConflict counts a lost claim race.
func (m *Metrics) RecordClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// RecordBroadcast counts a fan-out attempt.
func (m *Metrics) RecordBroadcast(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.broadcasts.WithLabelValues(event, outcome).Inc()
}

// RecordTriageReply counts where a triage reply came from.
func (m *Metrics) RecordTriageReply(source string) {
	if m == nil {
		return
	}
	m.triageReplies.WithLabelValues(source).Inc()
}

// ConnectionOpened and ConnectionClosed track live stream connections.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// RecordRequest observes request latency.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, route, code).Inc()
}
