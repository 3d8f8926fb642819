package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// ActionMetrics tracks rule action execution.
//
// Metrics:
//   - gatekeeper_engine_actions_total{verb, status}
type ActionMetrics struct {
	actionsTotal *prometheus.CounterVec
}

// NewActionMetrics creates and registers action metrics.
func NewActionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ActionMetrics {
	am := &ActionMetrics{
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "actions_total",
				Help:      "Total number of rule actions by verb and status",
			},
			[]string{"verb", "status"},
		),
	}
	registry.MustRegister(am.actionsTotal)
	return am
}

// RecordAction increments the counter for verb and status.
func (am *ActionMetrics) RecordAction(verb, status string) {
	am.actionsTotal.WithLabelValues(verb, status).Inc()
}
