package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/config"
)

// OtherLabel replaces label values once the cardinality limit is reached.
const OtherLabel = "other"

// DefaultMaxCardinality bounds the number of distinct rule and tenant
// label values tracked per collector.
const DefaultMaxCardinality = 10000

// Collector records Prometheus metrics for rule matching, action execution,
// workflow transitions, audit and escalation. A nil *Collector is valid and
// records nothing, as does a collector whose configuration is disabled.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	rules    *RuleMetrics
	actions  *ActionMetrics
	workflow *WorkflowMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers every metric on registry.
// If registry is nil a new one is created.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		rules:              NewRuleMetrics(cfg, registry),
		actions:            NewActionMetrics(cfg, registry),
		workflow:           NewWorkflowMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(DefaultMaxCardinality),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// label returns value when the limiter admits it under the given metric
// family, OtherLabel otherwise.
func (c *Collector) label(family, value string) string {
	if c.cardinalityLimiter.Allow(family + ":" + value) {
		return value
	}
	return OtherLabel
}

// RecordRuleEvaluation records one rule evaluation and its outcome.
func (c *Collector) RecordRuleEvaluation(ruleID string, matched bool, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.rules.RecordEvaluation(c.label("rule", ruleID), matched, duration)
}

// RecordInvalidRule records that an invalid rule was skipped during matching.
func (c *Collector) RecordInvalidRule(tenantID string) {
	if !c.enabled() {
		return
	}
	c.rules.invalidTotal.WithLabelValues(c.label("tenant", tenantID)).Inc()
}

// RecordMatch records one MatchRules call.
func (c *Collector) RecordMatch(tenantID string, candidates, matched int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.rules.RecordMatch(c.label("tenant", tenantID), candidates, matched, duration)
}

// SetActiveRules records the number of rules loaded for a tenant.
func (c *Collector) SetActiveRules(tenantID string, n int) {
	if !c.enabled() {
		return
	}
	c.rules.activeRules.WithLabelValues(c.label("tenant", tenantID)).Set(float64(n))
}

// RecordRuleReload records a rule set reload from source ("file", "git").
// result is "success" or "error".
func (c *Collector) RecordRuleReload(source, result string) {
	if !c.enabled() {
		return
	}
	c.rules.reloadsTotal.WithLabelValues(source, result).Inc()
}

// RecordAction records an action outcome. status is one of "executed",
// "suggested", "skipped" or "error".
func (c *Collector) RecordAction(verb, status string) {
	if !c.enabled() {
		return
	}
	c.actions.RecordAction(verb, status)
}

// RecordTransition records a workflow transition attempt. result is
// "committed", "blocked", "conflict", "stale" or "error".
func (c *Collector) RecordTransition(action, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.workflow.RecordTransition(action, result, duration)
}

// RecordAuditAppend records an audit append attempt.
func (c *Collector) RecordAuditAppend(result string) {
	if !c.enabled() {
		return
	}
	c.workflow.auditAppends.WithLabelValues(result).Inc()
}

// RecordEscalation records one overdue-instance escalation.
func (c *Collector) RecordEscalation(result string) {
	if !c.enabled() {
		return
	}
	c.workflow.escalations.WithLabelValues(result).Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already tracked or still fits under the
// limit, tracking it in the latter case.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
