package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signoff",
		Name:      "decisions_total",
		Help:      "Decision commands handled, by action and outcome.",
	}, []string{"action", "outcome"})

	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signoff",
		Name:      "escalations_total",
		Help:      "Escalation firings applied by the engine.",
	})

	WorkflowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signoff",
		Name:      "workflows_completed_total",
		Help:      "Workflows reaching a terminal status.",
	}, []string{"status"})

	ActiveWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signoff",
		Name:      "active_workflows",
		Help:      "Workflows currently open.",
	})

	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signoff",
		Name:      "decision_latency_seconds",
		Help:      "Wall time from command arrival in the lane to durable apply.",
		Buckets:   prometheus.DefBuckets,
	})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signoff",
		Name:      "events_published_total",
		Help:      "Workflow events appended to the log.",
	})
)
