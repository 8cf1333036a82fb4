package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics covers media job dispatch, outcomes and the sweepers.
type PipelineMetrics struct {
	finalized        *prometheus.CounterVec
	dispatchFailures prometheus.Counter
	jobOutcomes      *prometheus.CounterVec
	jobRetries       prometheus.Counter
	deletionBacklog  prometheus.Gauge
	deletedObjects   prometheus.Counter
	deletionErrors   prometheus.Counter
	publishedDrops   *prometheus.CounterVec
	linkedJobs       prometheus.Counter
	backfilledPosts  prometheus.Counter
	redispatchedJobs prometheus.Counter
}

// NewPipelineMetrics registers the pipeline metrics on reg. A nil reg yields no-op metrics.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	m := &PipelineMetrics{
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "uploads_finalized_total",
			Help:      "Finalized uploads by media kind.",
		}, []string{"kind"}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "dispatch_failures_total",
			Help:      "Media jobs persisted but not enqueued.",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "job_outcomes_total",
			Help:      "Media jobs reaching a terminal state.",
		}, []string{"kind", "outcome"}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "job_retries_total",
			Help:      "Transcode attempts that failed and were retried.",
		}),
		deletionBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "deletion_backlog",
			Help:      "Due pending deletions left after the last sweep.",
		}),
		deletedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "deleted_objects_total",
			Help:      "Storage objects removed by the deletion sweeper.",
		}),
		deletionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "deletion_errors_total",
			Help:      "Storage deletes that failed and will be retried.",
		}),
		publishedDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "published_drops_total",
			Help:      "Scheduled posts and albums published.",
		}, []string{"entity"}),
		linkedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "linked_jobs_total",
			Help:      "Orphan media jobs linked to a post.",
		}),
		backfilledPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "backfilled_posts_total",
			Help:      "Posts whose media metadata was filled from a job.",
		}),
		redispatchedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "redispatched_jobs_total",
			Help:      "Stale pending media jobs enqueued again.",
		}),
	}
	reg.MustRegister(
		m.finalized,
		m.dispatchFailures,
		m.jobOutcomes,
		m.jobRetries,
		m.deletionBacklog,
		m.deletedObjects,
		m.deletionErrors,
		m.publishedDrops,
		m.linkedJobs,
		m.backfilledPosts,
		m.redispatchedJobs,
	)
	return m
}

func (m *PipelineMetrics) IncFinalized(kind string) {
	if m == nil || m.finalized == nil {
		return
	}
	m.finalized.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *PipelineMetrics) IncDispatchFailure() {
	if m == nil || m.dispatchFailures == nil {
		return
	}
	m.dispatchFailures.Inc()
}

// IncJobOutcome records a terminal job; outcome is "completed" or "failed".
func (m *PipelineMetrics) IncJobOutcome(kind, outcome string) {
	if m == nil || m.jobOutcomes == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *PipelineMetrics) IncJobRetry() {
	if m == nil || m.jobRetries == nil {
		return
	}
	m.jobRetries.Inc()
}

// ObserveDeletionSweep records one deletion sweep run.
func (m *PipelineMetrics) ObserveDeletionSweep(deleted, failed int, remaining int64) {
	if m == nil || m.deletionBacklog == nil {
		return
	}
	m.deletedObjects.Add(float64(deleted))
	m.deletionErrors.Add(float64(failed))
	m.deletionBacklog.Set(float64(remaining))
}

func (m *PipelineMetrics) AddPublished(entity string, count int64) {
	if m == nil || m.publishedDrops == nil || count <= 0 {
		return
	}
	m.publishedDrops.WithLabelValues(normalizeLabel(entity)).Add(float64(count))
}

func (m *PipelineMetrics) AddLinked(count int) {
	if m == nil || m.linkedJobs == nil || count <= 0 {
		return
	}
	m.linkedJobs.Add(float64(count))
}

func (m *PipelineMetrics) AddBackfilled(count int) {
	if m == nil || m.backfilledPosts == nil || count <= 0 {
		return
	}
	m.backfilledPosts.Add(float64(count))
}

func (m *PipelineMetrics) AddRedispatched(count int) {
	if m == nil || m.redispatchedJobs == nil || count <= 0 {
		return
	}
	m.redispatchedJobs.Add(float64(count))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
