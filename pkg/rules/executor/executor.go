package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"mercator-hq/gatekeeper/pkg/assignment"
	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/rules/ast"
	"mercator-hq/gatekeeper/pkg/rules/engine"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
	"mercator-hq/gatekeeper/pkg/workflow"
)

// InstancePath is the context path naming the workflow instance that
// workflow verbs act on.
const InstancePath = "workflow.instance_id"

// DefaultActor is recorded on workflow transitions applied by rules.
const DefaultActor = "system:rules"

// Status is the outcome of one action.
type Status string

const (
	StatusExecuted         Status = "executed"
	StatusSuggested        Status = "suggested"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusNoChange         Status = "no_change"
	StatusFailed           Status = "failed"
)

// Resolver resolves assignment descriptors.
type Resolver interface {
	Resolve(ctx context.Context, req assignment.Request) (assignment.Assignment, error)
}

// WorkflowService applies system actions to workflow instances.
type WorkflowService interface {
	Apply(ctx context.Context, req workflow.ApplyRequest) (*workflow.Transition, error)
}

// Notification is produced by notify actions.
type Notification struct {
	RuleID     string            `json:"rule_id"`
	TenantID   string            `json:"tenant_id"`
	Recipients []string          `json:"recipients,omitempty"`
	Role       string            `json:"role,omitempty"`
	Channel    string            `json:"channel,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Flag is produced by flag actions.
type Flag struct {
	Name     string            `json:"name"`
	RuleID   string            `json:"rule_id"`
	TenantID string            `json:"tenant_id"`
	Params   map[string]string `json:"params,omitempty"`
}

// Dispatcher delivers notifications and flags after execution. Delivery
// failures are logged and never returned to the caller.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
	Flag(ctx context.Context, f Flag) error
}

// Request is one execution call.
type Request struct {
	TenantID string
	Matches  []engine.MatchResult
	Context  evalctx.Context
	// AutoExecute allows automatic rules to apply without confirmation.
	AutoExecute bool
	Actor       string
}

// Result describes one action.
type Result struct {
	RuleID string     `json:"rule_id"`
	Action ast.Action `json:"-"`
	Verb   string     `json:"verb"`
	Target string     `json:"target"`

	// Resolved is a readable preview of what the action resolves to.
	Resolved   string                 `json:"resolved,omitempty"`
	Assignment *assignment.Assignment `json:"assignment,omitempty"`

	Status         Status `json:"status"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	InstanceID   string        `json:"instance_id,omitempty"`
	Step         int           `json:"step,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Flag         *Flag         `json:"flag,omitempty"`
}

// Report is the outcome of Execute. Executed holds every automatic
// application, including duplicates and no-ops, in match order.
type Report struct {
	Executed  []Result
	Suggested []Result
	Errors    []*ActionExecutionError
}

// Config configures an Executor. Every field is optional.
type Config struct {
	Workflow   WorkflowService
	Dispatcher Dispatcher
	Ledger     IdempotencyLedger
	Metrics    *metrics.Collector
	Tracer     *tracing.Tracer
}

// call carries one action through its handler.
type call struct {
	tenantID string
	rule     *ast.Rule
	action   ast.Action
	evalCtx  evalctx.Context
	actor    string
	apply    bool
}

type handler func(ex *Executor, ctx context.Context, c *call, res *Result) error

var handlers = [ast.VerbCount]handler{
	ast.VerbAssignTo: (*Executor).assignTo,
	ast.VerbStep:     (*Executor).step,
	ast.VerbNotify:   (*Executor).notify,
	ast.VerbFlag:     (*Executor).flag,
}

// Executor applies rule actions. It is safe for concurrent use.
type Executor struct {
	resolver   Resolver
	workflow   WorkflowService
	dispatcher Dispatcher
	ledger     IdempotencyLedger
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	logger     *slog.Logger
}

// New creates an executor. Without a ledger an unbounded MemoryLedger is
// used.
func New(resolver Resolver, cfg *Config, logger *slog.Logger) (*Executor, error) {
	if resolver == nil {
		return nil, fmt.Errorf("assignment resolver cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger(0)
	}
	return &Executor{
		resolver:   resolver,
		workflow:   cfg.Workflow,
		dispatcher: cfg.Dispatcher,
		ledger:     ledger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		logger:     logger.With("component", "rules.executor"),
	}, nil
}

// Execute applies or suggests the actions of req.Matches in order. Failed
// actions are collected in Report.Errors; the remaining rules still run.
// The returned error is non-nil only when ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, req Request) (report *Report, err error) {
	ctx, span := e.tracer.Start(ctx, "rules.execute",
		tracing.Tenant(req.TenantID),
		tracing.Count("rules.matched", len(req.Matches)),
	)
	defer func() { tracing.End(span, err) }()

	actor := req.Actor
	if actor == "" {
		actor = DefaultActor
	}

	report = &Report{}
	for _, match := range req.Matches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rule := match.Rule
		if rule == nil || !match.Matched {
			continue
		}

		c := &call{
			tenantID: req.TenantID,
			rule:     rule,
			action:   rule.Action,
			evalCtx:  req.Context,
			actor:    actor,
			apply:    req.AutoExecute && rule.Automatic,
		}
		res, err := e.run(ctx, c)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		if res.Status == StatusSuggested {
			report.Suggested = append(report.Suggested, res)
		} else {
			report.Executed = append(report.Executed, res)
		}
	}

	e.dispatch(ctx, report.Executed)
	e.logger.DebugContext(ctx, "rules executed",
		"tenant_id", req.TenantID,
		"executed", len(report.Executed),
		"suggested", len(report.Suggested),
		"errors", len(report.Errors),
	)
	return report, nil
}

// Confirm applies a suggestion returned by an earlier Execute.
func (e *Executor) Confirm(ctx context.Context, tenantID string, suggestion Result, evalCtx evalctx.Context, actor string) (*Result, error) {
	if actor == "" {
		actor = DefaultActor
	}
	c := &call{
		tenantID: tenantID,
		rule:     &ast.Rule{ID: suggestion.RuleID, TenantID: tenantID, Action: suggestion.Action},
		action:   suggestion.Action,
		evalCtx:  evalCtx,
		actor:    actor,
		apply:    true,
	}
	res, err := e.run(ctx, c)
	if err != nil {
		return nil, err
	}
	e.dispatch(ctx, []Result{res})
	return &res, nil
}

func (e *Executor) run(ctx context.Context, c *call) (Result, *ActionExecutionError) {
	res := Result{
		RuleID: c.rule.ID,
		Action: c.action,
		Verb:   c.action.Verb.String(),
		Target: c.action.Target,
		Status: StatusSuggested,
	}
	fail := func(cause error) (Result, *ActionExecutionError) {
		e.metrics.RecordAction(res.Verb, string(StatusFailed))
		e.logger.WarnContext(ctx, "rule action failed",
			"rule_id", c.rule.ID,
			"action", c.action.String(),
			"error", cause,
		)
		return Result{}, &ActionExecutionError{RuleID: c.rule.ID, Verb: res.Verb, Target: c.action.Target, Cause: cause}
	}

	if !c.rule.Valid() {
		return fail(fmt.Errorf("invalid rule: %w", c.rule.Err()))
	}
	if c.action.Verb >= ast.VerbCount {
		return fail(fmt.Errorf("unknown verb %s", c.action.Verb))
	}

	if c.apply {
		res.Status = StatusExecuted
		res.IdempotencyKey = IdempotencyKey(c.rule.ID, c.action, c.evalCtx)
		fresh, err := e.ledger.Claim(ctx, res.IdempotencyKey)
		if err != nil {
			return fail(fmt.Errorf("idempotency ledger: %w", err))
		}
		if !fresh {
			res.Status = StatusSkippedDuplicate
			e.metrics.RecordAction(res.Verb, string(res.Status))
			return res, nil
		}
	}

	if err := handlers[c.action.Verb](e, ctx, c, &res); err != nil {
		if c.apply {
			if rerr := e.ledger.Release(ctx, res.IdempotencyKey); rerr != nil {
				e.logger.ErrorContext(ctx, "failed to release idempotency key", "rule_id", c.rule.ID, "error", rerr)
			}
		}
		return fail(err)
	}

	e.metrics.RecordAction(res.Verb, string(res.Status))
	if res.Status == StatusExecuted {
		e.logger.InfoContext(ctx, "rule action applied",
			"rule_id", c.rule.ID,
			"action", c.action.String(),
			"resolved", res.Resolved,
		)
	}
	return res, nil
}

func (e *Executor) resolve(ctx context.Context, c *call, target string) (assignment.Assignment, error) {
	return e.resolver.Resolve(ctx, assignment.Request{
		TenantID: c.tenantID,
		Target:   target,
		Context:  c.evalCtx,
		Fallback: c.action.Param("fallback", ""),
	})
}

func (e *Executor) assignTo(ctx context.Context, c *call, res *Result) error {
	a, err := e.resolve(ctx, c, c.action.Target)
	if err != nil {
		return err
	}
	res.Assignment = &a
	res.Resolved = a.String()

	instanceID, ok := c.evalCtx.String(InstancePath)
	if !ok || instanceID == "" {
		return nil
	}
	res.InstanceID = instanceID
	if !c.apply {
		return nil
	}
	return e.applyWorkflow(ctx, c, res, workflow.ActionAssign, map[string]any{"assignee": a.Descriptor()})
}

func (e *Executor) step(ctx context.Context, c *call, res *Result) error {
	n, err := strconv.Atoi(strings.TrimSpace(c.action.Target))
	if err != nil || n <= 0 {
		return fmt.Errorf("step target %q is not a step number", c.action.Target)
	}
	res.Step = n
	res.Resolved = "step " + strconv.Itoa(n)

	instanceID, ok := c.evalCtx.String(InstancePath)
	if !ok || instanceID == "" {
		return ErrNoInstance
	}
	res.InstanceID = instanceID
	if !c.apply {
		return nil
	}
	return e.applyWorkflow(ctx, c, res, workflow.ActionRoute, map[string]any{"step": n})
}

func (e *Executor) applyWorkflow(ctx context.Context, c *call, res *Result, action workflow.Action, payload map[string]any) error {
	if e.workflow == nil {
		return fmt.Errorf("no workflow service configured")
	}
	payload["rule_id"] = c.rule.ID
	_, err := e.workflow.Apply(ctx, workflow.ApplyRequest{
		InstanceID: res.InstanceID,
		Action:     action,
		Actor:      c.actor,
		Notes:      "rule " + c.rule.ID,
		Payload:    payload,
	})
	if errors.Is(err, workflow.ErrNoChange) {
		res.Status = StatusNoChange
		return nil
	}
	return err
}

func (e *Executor) notify(ctx context.Context, c *call, res *Result) error {
	n := &Notification{
		RuleID:   c.rule.ID,
		TenantID: c.tenantID,
		Params:   c.action.Params,
	}
	target := strings.TrimSpace(c.action.Target)
	if strings.HasPrefix(target, "#") {
		n.Channel = target
		res.Resolved = target
	} else {
		a, err := e.resolve(ctx, c, target)
		if err != nil {
			return err
		}
		res.Assignment = &a
		res.Resolved = a.String()
		n.Role = a.Role
		if a.Assignee != "" {
			n.Recipients = []string{a.Assignee}
		} else {
			n.Recipients = append([]string(nil), a.Candidates...)
		}
	}
	res.Notification = n
	return nil
}

func (e *Executor) flag(_ context.Context, c *call, res *Result) error {
	name := strings.TrimSpace(c.action.Target)
	if name == "" {
		return fmt.Errorf("flag name is empty")
	}
	res.Flag = &Flag{Name: name, RuleID: c.rule.ID, TenantID: c.tenantID, Params: c.action.Params}
	res.Resolved = name
	return nil
}

// dispatch hands executed notifications and flags to the dispatcher.
func (e *Executor) dispatch(ctx context.Context, results []Result) {
	if e.dispatcher == nil {
		return
	}
	for _, res := range results {
		if res.Status != StatusExecuted {
			continue
		}
		var err error
		switch {
		case res.Notification != nil:
			err = e.dispatcher.Notify(ctx, *res.Notification)
		case res.Flag != nil:
			err = e.dispatcher.Flag(ctx, *res.Flag)
		default:
			continue
		}
		if err != nil {
			e.logger.ErrorContext(ctx, "dispatch failed",
				"rule_id", res.RuleID,
				"verb", res.Verb,
				"error", err,
			)
		}
	}
}
