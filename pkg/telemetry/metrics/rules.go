package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// RuleMetrics tracks rule evaluation and matching.
//
// Metrics:
//   - gatekeeper_engine_rule_evaluations_total{rule_id, matched}
//   - gatekeeper_engine_rule_evaluation_duration_seconds{rule_id}
//   - gatekeeper_engine_invalid_rules_skipped_total{tenant_id}
//   - gatekeeper_engine_match_duration_seconds{tenant_id}
//   - gatekeeper_engine_match_candidates{tenant_id}
//   - gatekeeper_engine_matched_rules_total{tenant_id}
//   - gatekeeper_engine_active_rules{tenant_id}
//   - gatekeeper_engine_rule_reloads_total{source, result}
type RuleMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	invalidTotal       *prometheus.CounterVec
	matchDuration      *prometheus.HistogramVec
	matchCandidates    *prometheus.HistogramVec
	matchedTotal       *prometheus.CounterVec
	activeRules        *prometheus.GaugeVec
	reloadsTotal       *prometheus.CounterVec
}

// NewRuleMetrics creates and registers rule metrics with the provided registry.
func NewRuleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RuleMetrics {
	rm := &RuleMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluations_total",
				Help:      "Total number of rule evaluations by outcome",
			},
			[]string{"rule_id", "matched"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluation_duration_seconds",
				Help:      "Duration of a single rule evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"rule_id"},
		),
		invalidTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "invalid_rules_skipped_total",
				Help:      "Total number of invalid rules skipped during matching",
			},
			[]string{"tenant_id"},
		),
		matchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "match_duration_seconds",
				Help:      "Duration of matching a context against a tenant's rules",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 160ms
			},
			[]string{"tenant_id"},
		),
		matchCandidates: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "match_candidates",
				Help:      "Number of rules considered per match",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"tenant_id"},
		),
		matchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "matched_rules_total",
				Help:      "Total number of rules that matched",
			},
			[]string{"tenant_id"},
		),
		activeRules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "active_rules",
				Help:      "Number of rules currently loaded",
			},
			[]string{"tenant_id"},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_reloads_total",
				Help:      "Total number of rule set reloads",
			},
			[]string{"source", "result"},
		),
	}

	registry.MustRegister(
		rm.evaluationsTotal,
		rm.evaluationDuration,
		rm.invalidTotal,
		rm.matchDuration,
		rm.matchCandidates,
		rm.matchedTotal,
		rm.activeRules,
		rm.reloadsTotal,
	)
	return rm
}

// RecordEvaluation records one rule evaluation.
func (rm *RuleMetrics) RecordEvaluation(ruleID string, matched bool, duration time.Duration) {
	rm.evaluationsTotal.WithLabelValues(ruleID, strconv.FormatBool(matched)).Inc()
	rm.evaluationDuration.WithLabelValues(ruleID).Observe(duration.Seconds())
}

// RecordMatch records one match call.
func (rm *RuleMetrics) RecordMatch(tenantID string, candidates, matched int, duration time.Duration) {
	rm.matchDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
	rm.matchCandidates.WithLabelValues(tenantID).Observe(float64(candidates))
	rm.matchedTotal.WithLabelValues(tenantID).Add(float64(matched))
}
