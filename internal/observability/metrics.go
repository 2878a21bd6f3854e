// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-swap-engine/internal/domain"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Trade metrics
	TradesTotal         *prometheus.CounterVec
	FailuresTotal       *prometheus.CounterVec
	CycleRetries        prometheus.Counter
	SubmitRetries       prometheus.Counter
	StageLatency        *prometheus.HistogramVec
	ConfirmationLatency prometheus.Histogram
	TradeDuration       *prometheus.HistogramVec

	// Chain and venue metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Event metrics
	EventsDropped   prometheus.Counter
	EventsDelivered *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Reconciliation and API metrics
	Reconciliations   *prometheus.CounterVec
	IdempotentReplays prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg uses a fresh registry, which keeps tests independent.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "swap_engine"
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Metrics{
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "completed_total",
			Help:      "Total number of finished trades by outcome",
		}, []string{"outcome"}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "failures_total",
			Help:      "Total number of failed or timed out trades by failure kind",
		}, []string{"kind"}),
		CycleRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "cycle_retries_total",
			Help:      "Total number of full quote-to-submit cycle retries",
		}),
		SubmitRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "submit_retries_total",
			Help:      "Total number of transient submission retries",
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "stage_latency_seconds",
			Help:      "Time from trade start until a stage was reached",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		ConfirmationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "confirmation_latency_seconds",
			Help:      "Time from submission to confirmation",
			Buckets:   []float64{.4, .8, 1.6, 3.2, 6.4, 12.8, 25.6, 60},
		}),
		TradeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "duration_seconds",
			Help:      "Total trade duration by outcome",
			Buckets:   []float64{.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),

		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of trade events dropped by a full notifier buffer",
		}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Total number of trade events handled by a sink",
		}, []string{"sink"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Total number of sink failures",
		}, []string{"sink"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "checks_total",
			Help:      "Total number of reconciliation checks by chain status",
		}, []string{"status"}),
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "idempotent_replays_total",
			Help:      "Total number of requests answered from an earlier trade",
		}),

		gatherer: gatherer,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordResult records a finished trade.
func (m *Metrics) RecordResult(res domain.TradeResult, elapsed time.Duration) {
	m.TradesTotal.WithLabelValues(res.Outcome.String()).Inc()
	m.TradeDuration.WithLabelValues(res.Outcome.String()).Observe(elapsed.Seconds())
	if kind := res.FailureKind(); kind != "" {
		m.FailuresTotal.WithLabelValues(kind.String()).Inc()
	}
}

// RecordStage records how long a trade took to reach stage.
func (m *Metrics) RecordStage(stage domain.Stage, sinceStart time.Duration) {
	m.StageLatency.WithLabelValues(stage.String()).Observe(sinceStart.Seconds())
}

// RecordRPC records RPC call metrics.
func (m *Metrics) RecordRPC(method string, elapsed time.Duration, err error) {
	m.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, elapsed time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(elapsed.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
