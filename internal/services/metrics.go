package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Ingestion metrics
	EventsAccepted  *prometheus.CounterVec
	BatchesRejected *prometheus.CounterVec
	RateLimited     prometheus.Counter

	// Consolidation metrics
	Consolidations         *prometheus.CounterVec
	ConsolidationLatency   prometheus.Histogram
	QueueSweepRedispatches prometheus.Counter

	// Normalizer metrics
	NormalizeRequests *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		EventsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studiopulse_events_accepted_total",
			Help: "Total number of events accepted by surface",
		}, []string{"surface"}),

		BatchesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studiopulse_batches_rejected_total",
			Help: "Total number of rejected ingestion batches by reason",
		}, []string{"reason"}), // "auth", "oversized", "malformed", "validation", "rate_limited", "store"

		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studiopulse_rate_limited_total",
			Help: "Total number of batches rejected by the per-user limiter",
		}),

		Consolidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studiopulse_consolidations_total",
			Help: "Total number of queue entry consolidations by outcome",
		}, []string{"outcome"}), // "acknowledged", "failed", "skipped"

		ConsolidationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "studiopulse_consolidation_duration_seconds",
			Help:    "Dreaming engine consolidation latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		QueueSweepRedispatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studiopulse_queue_sweep_redispatches_total",
			Help: "Total number of stale queue entries re-dispatched by the sweeper",
		}),

		NormalizeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studiopulse_normalize_requests_total",
			Help: "Total number of AI-output normalize requests by outcome",
		}, []string{"outcome"}), // "ok", "bad_schema", "unparseable_text"
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordEventsAccepted records accepted events for a surface
func (m *Metrics) RecordEventsAccepted(surface string, count int) {
	m.EventsAccepted.WithLabelValues(surface).Add(float64(count))
}

// RecordBatchRejected records a rejected batch
func (m *Metrics) RecordBatchRejected(reason string) {
	m.BatchesRejected.WithLabelValues(reason).Inc()
}

// RecordConsolidation records a consolidation outcome
func (m *Metrics) RecordConsolidation(outcome string, seconds float64) {
	m.Consolidations.WithLabelValues(outcome).Inc()
	if outcome == "acknowledged" {
		m.ConsolidationLatency.Observe(seconds)
	}
}
