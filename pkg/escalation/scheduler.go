package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
	"mercator-hq/gatekeeper/pkg/workflow"
)

// Escalation outcomes recorded in metrics.
const (
	ResultEscalated = "escalated"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Service is the part of the workflow service the scheduler needs.
type Service interface {
	ListInstances(ctx context.Context, filter workflow.InstanceFilter) ([]*workflow.Instance, error)
	Definition(ctx context.Context, inst *workflow.Instance) (*workflow.Definition, error)
	Apply(ctx context.Context, req workflow.ApplyRequest) (*workflow.Transition, error)
}

// Options carries optional collaborators.
type Options struct {
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Report summarizes one scan.
type Report struct {
	Checked   int
	Escalated []string
	// Blocked lists instances the escalation blocked for lack of a target.
	Blocked []string
	Failed  int
}

// Scheduler runs escalation scans on a cron schedule.
type Scheduler struct {
	svc     Service
	cfg     *config.EscalationConfig
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	clock   func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a scheduler. The schedule is parsed here so a bad
// expression fails at construction.
func NewScheduler(svc Service, cfg *config.EscalationConfig, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if svc == nil {
		return nil, fmt.Errorf("workflow service cannot be nil")
	}
	if cfg == nil {
		cfg = &config.EscalationConfig{}
	}
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultEscalationSchedule
	}
	if cfg.Actor == "" {
		cfg.Actor = config.DefaultEscalationActor
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		svc:     svc,
		cfg:     cfg,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		clock:   clock,
		logger:  logger.With("component", "escalation.scheduler"),
	}, nil
}

// Start schedules RunOnce and returns immediately. The scheduler stops when
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("escalation scheduler already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.scheduled(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule escalation: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info("escalation scheduler started", "schedule", s.cfg.Schedule, "actor", s.cfg.Actor)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) scheduled(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("escalation scan failed", "error", err)
		return
	}
	if len(report.Escalated) > 0 || len(report.Blocked) > 0 || report.Failed > 0 {
		s.logger.Info("escalation scan completed",
			"checked", report.Checked,
			"escalated", len(report.Escalated),
			"blocked", len(report.Blocked),
			"failed", report.Failed,
		)
	} else {
		s.logger.Debug("escalation scan completed, nothing overdue", "checked", report.Checked)
	}
}

// Stop stops the scheduler and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("escalation scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled scan, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// RunOnce escalates every overdue step. Per-instance failures are logged
// and counted; the returned error is reserved for listing failures and
// cancellation.
func (s *Scheduler) RunOnce(ctx context.Context) (report *Report, err error) {
	ctx, span := s.tracer.Start(ctx, "escalation.scan")
	defer func() { tracing.End(span, err) }()

	instances, err := s.svc.ListInstances(ctx, workflow.InstanceFilter{
		Statuses: []workflow.Status{workflow.StatusPending, workflow.StatusInProgress},
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	now := s.clock()
	report = &Report{}
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		due, err := s.overdue(ctx, inst, now)
		if err != nil {
			report.Failed++
			s.metrics.RecordEscalation(ResultFailed)
			s.logger.WarnContext(ctx, "escalation check failed", "instance_id", inst.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.escalate(ctx, inst, report)
	}
	return report, nil
}

func (s *Scheduler) overdue(ctx context.Context, inst *workflow.Instance, now time.Time) (bool, error) {
	if inst.AwaitingRevision {
		return false, nil
	}
	rec, ok := inst.Current()
	if !ok || !rec.Status.Open() || rec.Escalated || rec.StartedAt == nil {
		return false, nil
	}
	def, err := s.svc.Definition(ctx, inst)
	if err != nil {
		return false, err
	}
	step, ok := def.Step(inst.CurrentStep)
	if !ok || step.EscalateAfter <= 0 {
		return false, nil
	}
	return now.Sub(*rec.StartedAt) >= step.EscalateAfter, nil
}

func (s *Scheduler) escalate(ctx context.Context, inst *workflow.Instance, report *Report) {
	t, err := s.svc.Apply(ctx, workflow.ApplyRequest{
		InstanceID:   inst.ID,
		Action:       workflow.ActionEscalate,
		Actor:        s.cfg.Actor,
		ExpectedStep: inst.CurrentStep,
		Notes:        fmt.Sprintf("step %d overdue", inst.CurrentStep),
	})

	switch {
	case err == nil:
		report.Escalated = append(report.Escalated, inst.ID)
		s.metrics.RecordEscalation(ResultEscalated)
		s.logger.InfoContext(ctx, "step escalated", "instance_id", inst.ID, "step", inst.CurrentStep)
	case t != nil && t.Blocked():
		report.Blocked = append(report.Blocked, inst.ID)
		s.metrics.RecordEscalation(ResultFailed)
		s.logger.WarnContext(ctx, "escalation blocked instance", "instance_id", inst.ID, "error", err)
	case errors.Is(err, workflow.ErrStaleStep), errors.Is(err, workflow.ErrConflict),
		errors.Is(err, workflow.ErrTerminal), errors.Is(err, workflow.ErrBlocked):
		// Another actor moved the instance since the scan listed it.
		s.metrics.RecordEscalation(ResultSkipped)
		s.logger.DebugContext(ctx, "escalation skipped", "instance_id", inst.ID, "error", err)
	default:
		report.Failed++
		s.metrics.RecordEscalation(ResultFailed)
		s.logger.ErrorContext(ctx, "escalation failed", "instance_id", inst.ID, "error", err)
	}
}
