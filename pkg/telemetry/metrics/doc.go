// Package metrics provides Prometheus metrics for the gatekeeper engine.
//
// # Metrics Categories
//
//   - Rule Metrics: evaluations, match latency, invalid rules skipped, reloads
//   - Action Metrics: executed, suggested, skipped and failed actions by verb
//   - Workflow Metrics: transitions by result, audit appends, escalations
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRuleEvaluation("vendor-high-risk", true, 40*time.Microsecond)
//	collector.RecordTransition("approve", "committed", 3*time.Millisecond)
//	http.Handle("/metrics", collector.Handler())
//
// Rule and tenant label values pass through a CardinalityLimiter; values
// beyond the limit are folded into the "other" label.
//
// Every Record method is a no-op on a nil collector or when metrics are
// disabled, so components accept an optional *Collector.
package metrics
