package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/rules/ast"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// RuleRepository provides compiled rules to the matcher.
type RuleRepository interface {
	// LoadRules returns the tenant's rules plus platform-wide rules. The
	// returned slice and rules must not be mutated by the caller.
	LoadRules(ctx context.Context, tenantID string) ([]*ast.Rule, error)
}

// MatchResult is the outcome of evaluating one rule.
type MatchResult struct {
	Rule    *ast.Rule
	Matched bool
	Outcome MatchOutcome
	// Target is the unresolved action target.
	Target string
}

// MatcherConfig configures a Matcher.
type MatcherConfig struct {
	// Parallelism bounds concurrent rule evaluation. Values below 2 evaluate
	// sequentially.
	Parallelism int

	// Metrics and Tracer are optional.
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// parallelThreshold is the candidate count below which evaluation stays
// sequential regardless of Parallelism.
const parallelThreshold = 16

// Matcher selects the rules that match an evaluation context. It keeps no
// state between calls and is safe for concurrent use.
type Matcher struct {
	repo      RuleRepository
	evaluator *Evaluator
	config    MatcherConfig
	logger    *slog.Logger
}

// NewMatcher creates a matcher over repo. A nil config evaluates
// sequentially without metrics or tracing.
func NewMatcher(repo RuleRepository, cfg *MatcherConfig, logger *slog.Logger) (*Matcher, error) {
	if repo == nil {
		return nil, fmt.Errorf("rule repository cannot be nil")
	}
	if cfg == nil {
		cfg = &MatcherConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		repo:      repo,
		evaluator: NewEvaluator(),
		config:    *cfg,
		logger:    logger.With("component", "rules.matcher"),
	}, nil
}

// MatchRules returns the active, valid, applicable rules whose condition
// matches evalCtx, ordered by priority, then creation order, then ID.
func (m *Matcher) MatchRules(ctx context.Context, tenantID, entityType, screen string, evalCtx evalctx.Context) ([]MatchResult, error) {
	results, err := m.Explain(ctx, tenantID, entityType, screen, evalCtx)
	if err != nil {
		return nil, err
	}

	matched := results[:0]
	for _, r := range results {
		if r.Matched {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// Explain evaluates every candidate rule and returns all outcomes, matched
// or not, in the same order MatchRules uses.
func (m *Matcher) Explain(ctx context.Context, tenantID, entityType, screen string, evalCtx evalctx.Context) (results []MatchResult, err error) {
	start := time.Now()
	ctx, span := m.config.Tracer.Start(ctx, "rules.match",
		tracing.Tenant(tenantID),
	)
	defer func() { tracing.End(span, err) }()

	rules, err := m.repo.LoadRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for tenant %q: %w", tenantID, err)
	}

	candidates := m.candidates(ctx, tenantID, entityType, screen, rules)
	results = make([]MatchResult, len(candidates))

	if m.config.Parallelism < 2 || len(candidates) < parallelThreshold {
		for i, rule := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = m.evaluate(rule, evalCtx)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.config.Parallelism)
		for i, rule := range candidates {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = m.evaluate(rule, evalCtx)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return ast.Less(results[i].Rule, results[j].Rule)
	})

	matchedCount := 0
	for _, r := range results {
		if r.Matched {
			matchedCount++
		}
	}
	span.SetAttributes(
		tracing.Count(tracing.AttrRuleCount, len(candidates)),
		tracing.Count(tracing.AttrMatchCount, matchedCount),
	)
	m.config.Metrics.RecordMatch(tenantID, len(candidates), matchedCount, time.Since(start))

	m.logger.DebugContext(ctx, "rules matched",
		"tenant_id", tenantID,
		"entity_type", entityType,
		"screen", screen,
		"candidates", len(candidates),
		"matched", matchedCount,
		"duration", time.Since(start),
	)
	return results, nil
}

// InvalidRules returns the tenant's rules that failed to compile, ordered
// like matches.
func (m *Matcher) InvalidRules(ctx context.Context, tenantID string) ([]*ast.Rule, error) {
	rules, err := m.repo.LoadRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for tenant %q: %w", tenantID, err)
	}
	var invalid []*ast.Rule
	for _, r := range rules {
		if !r.Valid() {
			invalid = append(invalid, r)
		}
	}
	sort.Slice(invalid, func(i, j int) bool { return ast.Less(invalid[i], invalid[j]) })
	return invalid, nil
}

// candidates filters out inactive, invalid and out-of-scope rules.
func (m *Matcher) candidates(ctx context.Context, tenantID, entityType, screen string, rules []*ast.Rule) []*ast.Rule {
	out := make([]*ast.Rule, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		if !r.Valid() {
			m.logger.WarnContext(ctx, "skipping invalid rule",
				"tenant_id", tenantID,
				"rule_id", r.ID,
				"location", r.Location.String(),
				"error", r.Err(),
			)
			m.config.Metrics.RecordInvalidRule(tenantID)
			continue
		}
		if !r.AppliesTo(entityType, screen) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (m *Matcher) evaluate(rule *ast.Rule, evalCtx evalctx.Context) MatchResult {
	start := time.Now()
	outcome := m.evaluator.EvaluateRule(rule, evalCtx)
	m.config.Metrics.RecordRuleEvaluation(rule.ID, outcome.Matched, time.Since(start))
	return MatchResult{
		Rule:    rule,
		Matched: outcome.Matched,
		Outcome: outcome,
		Target:  rule.Action.Target,
	}
}
