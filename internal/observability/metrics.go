// Package observability provides the zap logger and the Prometheus metrics
// of the ingestion feed, the feature engine, verification and the stores.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsFetched       *prometheus.CounterVec
	EventsIngested      *prometheus.CounterVec
	SubgraphLatency     *prometheus.HistogramVec
	SubgraphErrors      *prometheus.CounterVec
	StreamMessages      prometheus.Counter
	LastIngestedEventTS prometheus.Gauge

	// Engine metrics
	AccountsProcessed prometheus.Counter
	RecordsEmitted    *prometheus.CounterVec
	MalformedEvents   prometheus.Counter
	AccountDuration   prometheus.Histogram
	EngineRuns        *prometheus.CounterVec

	// Verification metrics
	RecordsVerified *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lending_risk_lab"
	}

	return &Metrics{
		EventsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_fetched_total",
			Help:      "Total number of lending events fetched by event type",
		}, []string{"event_type"}),
		EventsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_ingested_total",
			Help:      "Total number of lending events handed to the sink by outcome (stored, duplicate, malformed)",
		}, []string{"outcome"}),
		SubgraphLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "subgraph_request_duration_seconds",
			Help:      "Subgraph request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		SubgraphErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "subgraph_errors_total",
			Help:      "Total number of failed subgraph requests",
		}, []string{"operation"}),
		StreamMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "stream_messages_total",
			Help:      "Total number of subscription messages received",
		}),
		LastIngestedEventTS: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_event_timestamp",
			Help:      "Unix timestamp of the newest ingested event",
		}),

		AccountsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "accounts_processed_total",
			Help:      "Total number of accounts run through the feature engine",
		}),
		RecordsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "records_emitted_total",
			Help:      "Total number of feature records emitted by label",
		}, []string{"label"}),
		MalformedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "malformed_events_total",
			Help:      "Total number of malformed events that aborted a run",
		}),
		AccountDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "account_duration_seconds",
			Help:      "Feature engineering time per account in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		EngineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of engine runs by status",
		}, []string{"status"}),

		RecordsVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "records_verified_total",
			Help:      "Total number of stored feature records recomputed by outcome (matched, divergent, failed)",
		}, []string{"outcome"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventFetched increments the fetched events counter.
func RecordEventFetched(eventType string) {
	DefaultMetrics.EventsFetched.WithLabelValues(eventType).Inc()
}

// RecordIngested adds n events with the given outcome.
func RecordIngested(outcome string, n int) {
	if n > 0 {
		DefaultMetrics.EventsIngested.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordSubgraphRequest records subgraph request latency and failures.
func RecordSubgraphRequest(operation string, seconds float64, err error) {
	DefaultMetrics.SubgraphLatency.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.SubgraphErrors.WithLabelValues(operation).Inc()
	}
}

// RecordStreamMessage increments the subscription message counter.
func RecordStreamMessage() {
	DefaultMetrics.StreamMessages.Inc()
}

// UpdateLastIngestedEvent sets the newest ingested event timestamp gauge.
func UpdateLastIngestedEvent(ts int64) {
	DefaultMetrics.LastIngestedEventTS.Set(float64(ts))
}

// RecordAccountProcessed records one account finished by the engine.
func RecordAccountProcessed(seconds float64) {
	DefaultMetrics.AccountsProcessed.Inc()
	DefaultMetrics.AccountDuration.Observe(seconds)
}

// RecordRecordEmitted increments the emitted records counter for a label.
func RecordRecordEmitted(label string) {
	DefaultMetrics.RecordsEmitted.WithLabelValues(label).Inc()
}

// RecordMalformedEvent increments the malformed events counter.
func RecordMalformedEvent() {
	DefaultMetrics.MalformedEvents.Inc()
}

// RecordEngineRun records an engine run outcome.
func RecordEngineRun(status string) {
	DefaultMetrics.EngineRuns.WithLabelValues(status).Inc()
}

// RecordVerification adds the outcome counts of one verified run.
func RecordVerification(matched, divergent, failed int) {
	DefaultMetrics.RecordsVerified.WithLabelValues("matched").Add(float64(matched))
	DefaultMetrics.RecordsVerified.WithLabelValues("divergent").Add(float64(divergent))
	DefaultMetrics.RecordsVerified.WithLabelValues("failed").Add(float64(failed))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
