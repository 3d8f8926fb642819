package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"mercator-hq/gatekeeper/pkg/assignment"
	"mercator-hq/gatekeeper/pkg/audit"
	auditstorage "mercator-hq/gatekeeper/pkg/audit/storage"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/escalation"
	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/rules/engine"
	"mercator-hq/gatekeeper/pkg/rules/executor"
	"mercator-hq/gatekeeper/pkg/rules/source"
	"mercator-hq/gatekeeper/pkg/secrets"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
	"mercator-hq/gatekeeper/pkg/workflow"
	wfstorage "mercator-hq/gatekeeper/pkg/workflow/storage"
)

// Options carries collaborators that replace the configured defaults.
// Every field is optional.
type Options struct {
	// Directory replaces the static directory from the configuration.
	Directory assignment.RoleDirectory
	// Dispatcher receives notifications and flags. Defaults to a
	// LogDispatcher.
	Dispatcher executor.Dispatcher
	// Emitter receives committed workflow transitions in addition to the
	// engine's debug log.
	Emitter workflow.Emitter
	// Ledger replaces the in-memory idempotency ledger.
	Ledger executor.IdempotencyLedger

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Clock   func() time.Time
}

// EvaluateRequest is one rule evaluation.
type EvaluateRequest struct {
	TenantID   string
	EntityType string
	Screen     string
	Context    evalctx.Context
	// AutoExecute applies automatic rules; otherwise every action is
	// suggested.
	AutoExecute bool
	Actor       string
}

// Evaluation is the outcome of Evaluate.
type Evaluation struct {
	Matches []engine.MatchResult
	Report  *executor.Report
}

// Engine is the assembled rule and workflow engine.
type Engine struct {
	cfg *config.Config

	registry *source.Registry
	files    *source.FileSource
	git      *source.GitSource

	matcher  *engine.Matcher
	executor *executor.Executor
	workflow *workflow.Service
	recorder *audit.Recorder

	repo       workflow.Repository
	auditStore audit.Storage

	metrics *metrics.Collector
	tracer  *tracing.Tracer
	clock   func() time.Time
	logger  *slog.Logger
}

// Open builds an engine from cfg: it opens storage, loads rules and
// workflow definitions, and wires the executor to the workflow service.
// Missing rule or definition paths start the engine empty.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (eng *Engine, err error) {
	if cfg == nil {
		cfg = config.Default()
		config.ApplyDefaults(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		clock:   opts.Clock,
		logger:  logger.With("component", "gatekeeper"),
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if e.metrics == nil {
		e.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}
	if e.tracer == nil {
		if e.tracer, err = tracing.New(&cfg.Telemetry.Tracing); err != nil {
			return nil, err
		}
	}
	if e.clock == nil {
		e.clock = time.Now
	}

	if e.auditStore, err = openAuditStorage(&cfg.Audit); err != nil {
		return nil, err
	}
	if e.repo, err = openRepository(&cfg.Storage, logger); err != nil {
		return nil, err
	}
	e.recorder = audit.NewRecorder(e.auditStore, e.metrics, logger)

	directory := opts.Directory
	if directory == nil {
		directory = assignment.NewStaticDirectory(cfg.Directory)
	}
	resolver := assignment.NewResolver(directory, logger)

	emitter := workflow.Emitter(logEmitter{logger: e.logger})
	if opts.Emitter != nil {
		emitter = workflow.Emitters{emitter, opts.Emitter}
	}
	e.workflow, err = workflow.NewService(e.repo, e.recorder, resolver, &workflow.ServiceConfig{
		Revision:    workflow.RevisionPolicy{Target: cfg.Workflow.Revision.Target, Step: cfg.Workflow.Revision.Step},
		LockStripes: cfg.Workflow.LockStripes,
		Metrics:     e.metrics,
		Tracer:      e.tracer,
		Emitter:     emitter,
		Clock:       e.clock,
	}, logger)
	if err != nil {
		return nil, err
	}

	e.registry = source.NewRegistry(e.metrics)
	if err := e.openRules(ctx, logger); err != nil {
		return nil, err
	}
	if e.matcher, err = engine.NewMatcher(e.registry, &engine.MatcherConfig{
		Parallelism: cfg.Rules.Parallelism,
		Metrics:     e.metrics,
		Tracer:      e.tracer,
	}, logger); err != nil {
		return nil, err
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(logger)
	}
	if e.executor, err = executor.New(resolver, &executor.Config{
		Workflow:   e.workflow,
		Dispatcher: dispatcher,
		Ledger:     opts.Ledger,
		Metrics:    e.metrics,
		Tracer:     e.tracer,
	}, logger); err != nil {
		return nil, err
	}

	if path := cfg.Workflow.DefinitionsPath; exists(path) {
		defs, err := workflow.LoadDefinitions(ctx, e.workflow, path)
		if err != nil {
			return nil, fmt.Errorf("load workflow definitions: %w", err)
		}
		e.logger.Info("workflow definitions loaded", "path", path, "count", len(defs))
	}
	return e, nil
}

func (e *Engine) openRules(ctx context.Context, logger *slog.Logger) error {
	if e.cfg.Rules.Git.Enabled {
		gitCfg, err := resolveGitCredentials(ctx, e.cfg, logger)
		if err != nil {
			return err
		}
		git, err := source.NewGitSource(gitCfg, e.registry, logger, e.metrics)
		if err != nil {
			return err
		}
		if _, err := git.Sync(ctx); err != nil {
			return fmt.Errorf("sync rules: %w", err)
		}
		e.git = git
		return nil
	}

	path := e.cfg.Rules.Path
	if !exists(path) {
		e.logger.Warn("rules path not found, starting without rules", "path", path)
		return nil
	}
	e.files = source.NewFileSource(path, e.registry, logger, e.metrics)
	res, err := e.files.Load(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if len(res.Invalid) > 0 || len(res.Failed) > 0 {
		e.logger.Warn("rule set loaded with problems",
			"rules", res.Rules,
			"invalid", len(res.Invalid),
			"failed_files", len(res.Failed),
		)
	}
	return nil
}

// resolveGitCredentials returns a copy of the git settings with secret
// references in the token and key passphrase expanded.
func resolveGitCredentials(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*config.GitConfig, error) {
	resolver, err := secrets.FromConfig(&cfg.Secrets, logger)
	if err != nil {
		return nil, err
	}
	git := cfg.Rules.Git
	if git.Token, err = resolver.Expand(ctx, git.Token); err != nil {
		return nil, fmt.Errorf("rules.git.token: %w", err)
	}
	if git.SSHPassphrase, err = resolver.Expand(ctx, git.SSHPassphrase); err != nil {
		return nil, fmt.Errorf("rules.git.ssh_passphrase: %w", err)
	}
	return &git, nil
}

func openAuditStorage(cfg *config.AuditConfig) (audit.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return auditstorage.NewMemoryStorage(), nil
	case "sqlite", "":
		store, err := auditstorage.NewSQLiteStorage(&cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported audit backend: %s", cfg.Backend)
	}
}

func openRepository(cfg *config.StorageConfig, logger *slog.Logger) (workflow.Repository, error) {
	switch cfg.Backend {
	case "memory":
		return wfstorage.NewMemoryRepository(), nil
	case "sqlite", "":
		repo, err := wfstorage.NewSQLiteRepository(&cfg.SQLite, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Evaluate matches the tenant's rules against req.Context and executes or
// suggests their actions.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) (*Evaluation, error) {
	matches, err := e.matcher.MatchRules(ctx, req.TenantID, req.EntityType, req.Screen, req.Context)
	if err != nil {
		return nil, err
	}
	report, err := e.executor.Execute(ctx, executor.Request{
		TenantID:    req.TenantID,
		Matches:     matches,
		Context:     req.Context,
		AutoExecute: req.AutoExecute,
		Actor:       req.Actor,
	})
	if err != nil {
		return nil, err
	}
	return &Evaluation{Matches: matches, Report: report}, nil
}

// Explain returns every candidate rule with its outcome, matched or not.
func (e *Engine) Explain(ctx context.Context, req EvaluateRequest) ([]engine.MatchResult, error) {
	return e.matcher.Explain(ctx, req.TenantID, req.EntityType, req.Screen, req.Context)
}

// Confirm applies a suggested action.
func (e *Engine) Confirm(ctx context.Context, tenantID string, suggestion executor.Result, evalCtx evalctx.Context, actor string) (*executor.Result, error) {
	return e.executor.Confirm(ctx, tenantID, suggestion, evalCtx, actor)
}

// Start creates a workflow instance.
func (e *Engine) Start(ctx context.Context, req workflow.StartRequest) (*workflow.Instance, error) {
	return e.workflow.Start(ctx, req)
}

// ApplyAction applies a workflow action on behalf of actor.
func (e *Engine) ApplyAction(ctx context.Context, instanceID string, action workflow.Action, actor string, payload map[string]any) (*workflow.Instance, error) {
	return e.workflow.ApplyAction(ctx, instanceID, action, actor, payload)
}

// SelectDefinition picks the latest definition applicable to an agent type
// and risk level.
func (e *Engine) SelectDefinition(ctx context.Context, tenantID, agentType, risk string) (*workflow.Definition, error) {
	return e.workflow.SelectDefinition(ctx, tenantID, agentType, risk)
}

// ReloadRules reloads the rule source once.
func (e *Engine) ReloadRules(ctx context.Context) error {
	switch {
	case e.git != nil:
		_, err := e.git.Sync(ctx)
		return err
	case e.files != nil:
		_, err := e.files.Load(ctx)
		return err
	}
	return nil
}

// WatchRules keeps the rule set current until ctx is cancelled: file
// sources are watched, git sources polled.
func (e *Engine) WatchRules(ctx context.Context) error {
	switch {
	case e.git != nil:
		return e.git.Poll(ctx, e.cfg.Rules.Git.PollInterval)
	case e.files != nil:
		return e.files.Watch(ctx, e.cfg.Rules.WatchDebounce)
	}
	<-ctx.Done()
	return nil
}

// EscalationScheduler creates a scheduler over the engine's workflow
// service.
func (e *Engine) EscalationScheduler() (*escalation.Scheduler, error) {
	return escalation.NewScheduler(e.workflow, &e.cfg.Escalation, escalation.Options{
		Metrics: e.metrics,
		Tracer:  e.tracer,
		Clock:   e.clock,
	}, e.logger)
}

// HealthChecker returns a checker probing the rule registry and the
// storage backends.
func (e *Engine) HealthChecker(timeout time.Duration) *health.Checker {
	c := health.New(timeout)
	c.RegisterCheck("rules", func(ctx context.Context) error {
		if e.registry.Count() == 0 {
			return errors.New("no rules loaded")
		}
		return nil
	})
	if p, ok := e.repo.(interface{ Ping(context.Context) error }); ok {
		c.RegisterCheck("workflow_store", p.Ping)
	}
	if p, ok := e.auditStore.(interface{ Ping(context.Context) error }); ok {
		c.RegisterCheck("audit_store", p.Ping)
	}
	return c
}

// Workflow returns the transition service.
func (e *Engine) Workflow() *workflow.Service {
	return e.workflow
}

// Recorder returns the audit recorder.
func (e *Engine) Recorder() *audit.Recorder {
	return e.recorder
}

func (e *Engine) Registry() *source.Registry {
	return e.registry
}

func (e *Engine) Matcher() *engine.Matcher {
	return e.matcher
}

func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Close releases storage and flushes spans.
func (e *Engine) Close() error {
	var errs []error
	if e.repo != nil {
		errs = append(errs, e.repo.Close())
	}
	if e.auditStore != nil {
		errs = append(errs, e.auditStore.Close())
	}
	if e.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, e.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
