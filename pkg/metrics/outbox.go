package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts relay outcomes per event type.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
	pruned   prometheus.Counter
}

const (
	OutboxOutcomePublished    = "published"
	OutboxOutcomeRetried      = "retried"
	OutboxOutcomeDeadLettered = "dead_lettered"
)

// NewOutboxMetrics registers the outbox metrics on reg. A nil reg yields no-op metrics.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "pruned_total",
			Help:      "Published outbox rows removed by retention.",
		}),
	}
	reg.MustRegister(m.outcomes, m.pruned)
	return m
}

func (m *OutboxMetrics) Inc(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *OutboxMetrics) AddPruned(count int64) {
	if m == nil || m.pruned == nil || count <= 0 {
		return
	}
	m.pruned.Add(float64(count))
}
