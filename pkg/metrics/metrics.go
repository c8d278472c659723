// Package metrics exposes the Prometheus instrumentation shared across
// every orbit source, the task queue, the transform log, and the record
// cache.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbit_records_total",
			Help: "Total number of records held in the cache by type",
		},
		[]string{"type"},
	)

	PatchesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_cache_patches_applied_total",
			Help: "Total number of operations applied to the cache by kind",
		},
		[]string{"kind"},
	)

	// Transform log metrics
	TransformLogHead = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_translog_head",
			Help: "Current length of the transform log",
		},
	)

	TransformsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbit_transforms_appended_total",
			Help: "Total number of transforms appended to the log",
		},
	)

	TransformsRolledBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbit_transforms_rolled_back_total",
			Help: "Total number of transforms undone by rollback",
		},
	)

	// Task queue metrics
	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbit_queue_length",
			Help: "Current number of tasks queued by source",
		},
		[]string{"source"},
	)

	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_tasks_processed_total",
			Help: "Total number of tasks processed by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	TaskProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbit_task_processing_duration_seconds",
			Help:    "Time taken to process a queued task in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "task_type"},
	)

	// Source operation metrics
	TransformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbit_transform_duration_seconds",
			Help:    "Time taken for a source to perform a transform in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbit_query_duration_seconds",
			Help:    "Time taken for a source to perform a query in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbit_sync_duration_seconds",
			Help:    "Time taken for a source to sync from a transform in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Pull/push metrics
	PullRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_pull_requests_total",
			Help: "Total number of pull requests by source and status",
		},
		[]string{"source", "status"},
	)

	PushRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_push_requests_total",
			Help: "Total number of push requests by source and status",
		},
		[]string{"source", "status"},
	)

	// Fork/merge metrics
	ForksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbit_forks_total",
			Help: "Total number of cache forks created",
		},
	)

	MergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_merges_total",
			Help: "Total number of fork merges by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(PatchesAppliedTotal)
	prometheus.MustRegister(TransformLogHead)
	prometheus.MustRegister(TransformsAppendedTotal)
	prometheus.MustRegister(TransformsRolledBackTotal)
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(TasksProcessedTotal)
	prometheus.MustRegister(TaskProcessingDuration)
	prometheus.MustRegister(TransformDuration)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(PullRequestsTotal)
	prometheus.MustRegister(PushRequestsTotal)
	prometheus.MustRegister(ForksTotal)
	prometheus.MustRegister(MergesTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
