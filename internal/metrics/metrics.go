// internal/metrics/metrics.go

// Package metrics exposes the engine's Prometheus instruments. All recording
// helpers are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solver_engine"

type Metrics struct {
	TransfersCreated    prometheus.Counter
	TransferTransitions *prometheus.CounterVec
	TransfersPruned     prometheus.Counter
	PendingTransfers    prometheus.Gauge

	ConditionChecks *prometheus.CounterVec
	Dispatches      *prometheus.CounterVec
	SweepDuration   prometheus.Histogram

	SolverTransitions *prometheus.CounterVec
	RunningSolvers    prometheus.Gauge
	SolverTrades      *prometheus.CounterVec

	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// ============================================
		// Transfers
		// ============================================
		TransfersCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_created_total",
			Help:      "Total number of conditional transfers accepted",
		}),
		TransferTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_transitions_total",
			Help:      "Terminal transitions of conditional transfers",
		}, []string{"status"}),
		TransfersPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_pruned_total",
			Help:      "Terminal transfers removed by retention pruning",
		}),
		PendingTransfers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transfers",
			Help:      "Pending transfers seen by the last scheduler sweep",
		}),

		// ============================================
		// Scheduler
		// ============================================
		ConditionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "condition_checks_total",
			Help:      "Condition evaluations by type and outcome",
		}, []string{"type", "result"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Hand-offs of satisfied transfers to solvers by outcome",
		}, []string{"result"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one scheduler sweep",
			Buckets:   prometheus.DefBuckets,
		}),

		// ============================================
		// Solvers
		// ============================================
		SolverTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_transitions_total",
			Help:      "Solver lifecycle transitions by resulting status",
		}, []string{"status"}),
		RunningSolvers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_solvers",
			Help:      "Number of solver workers currently running",
		}),
		SolverTrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_trades_total",
			Help:      "Trades recorded per solver",
		}, []string{"solver_id"}),

		// ============================================
		// Events
		// ============================================
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Lifecycle events published on the bus",
		}, []string{"event_type"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lifecycle events dropped because the bus buffer was full",
		}),

		// ============================================
		// HTTP
		// ============================================
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) TransferCreated() {
	if m == nil {
		return
	}
	m.TransfersCreated.Inc()
}

func (m *Metrics) TransferTransition(status string) {
	if m == nil {
		return
	}
	m.TransferTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Pruned(n int) {
	if m == nil {
		return
	}
	m.TransfersPruned.Add(float64(n))
}

func (m *Metrics) ConditionChecked(conditionType, result string) {
	if m == nil {
		return
	}
	m.ConditionChecks.WithLabelValues(conditionType, result).Inc()
}

func (m *Metrics) Dispatched(result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(result).Inc()
}

// SweepFinished records one scheduler pass.
func (m *Metrics) SweepFinished(took time.Duration, pending int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(took.Seconds())
	m.PendingTransfers.Set(float64(pending))
}

func (m *Metrics) SolverTransition(status string, running int) {
	if m == nil {
		return
	}
	m.SolverTransitions.WithLabelValues(status).Inc()
	m.RunningSolvers.Set(float64(running))
}

func (m *Metrics) SolverTrade(solverID string) {
	if m == nil {
		return
	}
	m.SolverTrades.WithLabelValues(solverID).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusText(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
