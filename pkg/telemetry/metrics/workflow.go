package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// WorkflowMetrics tracks workflow transitions, audit appends and
// escalations.
type WorkflowMetrics struct {
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	auditAppends       *prometheus.CounterVec
	escalations        *prometheus.CounterVec
}

// NewWorkflowMetrics creates and registers workflow metrics.
func NewWorkflowMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *WorkflowMetrics {
	wm := &WorkflowMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "workflow_transitions_total",
				Help:      "Total number of workflow transition attempts by action and result",
			},
			[]string{"action", "result"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "workflow_transition_duration_seconds",
				Help:      "Duration of workflow transitions including persistence",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		auditAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_appends_total",
				Help:      "Total number of audit log appends by result",
			},
			[]string{"result"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "escalations_total",
				Help:      "Total number of overdue workflow escalations by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		wm.transitionsTotal,
		wm.transitionDuration,
		wm.auditAppends,
		wm.escalations,
	)
	return wm
}

// RecordTransition records one transition attempt.
func (wm *WorkflowMetrics) RecordTransition(action, result string, duration time.Duration) {
	wm.transitionsTotal.WithLabelValues(action, result).Inc()
	wm.transitionDuration.WithLabelValues(action).Observe(duration.Seconds())
}
