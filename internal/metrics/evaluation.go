package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Index, routing, batch and pipeline metrics.
var (
	IndexBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index builds by outcome",
		},
		[]string{"status"}, // "ok" / "error"
	)

	IndexBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Index build duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	IndexCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_cache_total",
			Help:      "Index cache lookups",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	RoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Navigator routing decisions",
		},
		[]string{"role", "decision"},
	)

	BatchRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_records_total",
			Help:      "Batch-evaluated family records by outcome",
		},
		[]string{"kind", "status"}, // status: "ok" / "error"
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch evaluation duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind"},
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Report pipeline runs by final stage",
		},
		[]string{"role", "stage"},
	)

	ReportsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_written_total",
			Help:      "Persisted report artifacts",
		},
		[]string{"format"},
	)
)

var registerEvaluation sync.Once

// RegisterEvaluationMetrics registers index, routing, batch and pipeline
// metrics. Safe to call more than once.
func RegisterEvaluationMetrics() {
	registerEvaluation.Do(func() {
		prometheus.MustRegister(IndexBuildsTotal)
		prometheus.MustRegister(IndexBuildDuration)
		prometheus.MustRegister(IndexCacheTotal)
		prometheus.MustRegister(RoutesTotal)
		prometheus.MustRegister(BatchRecordsTotal)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(PipelineRunsTotal)
		prometheus.MustRegister(ReportsWrittenTotal)
	})
}
