package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/internal/keylock"
	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Auditor records transitions durably before they are committed.
type Auditor interface {
	Record(ctx context.Context, entry *audit.Entry) (*audit.Entry, error)
	History(ctx context.Context, instanceID string) ([]*audit.Entry, error)
}

// ServiceConfig configures a Service. All fields are optional.
type ServiceConfig struct {
	// Revision is the default revision policy.
	Revision RevisionPolicy
	// LockStripes is the number of per-instance lock stripes.
	LockStripes int

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Emitter Emitter
	Clock   func() time.Time
}

// StartRequest creates an instance.
type StartRequest struct {
	TenantID     string
	DefinitionID string
	// DefinitionVersion selects a version; 0 selects the latest.
	DefinitionVersion int

	EntityType string
	EntityID   string
	Submitter  string

	// Context is kept on the instance for path-based assignments.
	Context evalctx.Context
}

// ApplyRequest applies an action to a stored instance.
type ApplyRequest struct {
	InstanceID   string
	Action       Action
	Actor        string
	ExpectedStep int
	Notes        string
	Payload      map[string]any
}

// Transition results used for metrics.
const (
	resultCommitted = "committed"
	resultBlocked   = "blocked"
	resultConflict  = "conflict"
	resultRejected  = "rejected"
	resultNoop      = "noop"
	resultError     = "error"
)

// Service applies actions to stored instances. Actions on one instance are
// serialized in-process and guarded across processes by the repository's
// version check; actions on different instances proceed independently.
type Service struct {
	repo    Repository
	auditor Auditor
	machine *Machine
	locks   *keylock.Striped
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	emitter Emitter
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a service.
func NewService(repo Repository, auditor Auditor, resolver AssignmentResolver, cfg *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("workflow repository cannot be nil")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor cannot be nil")
	}
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = keylock.DefaultStripes
	}
	return &Service{
		repo:    repo,
		auditor: auditor,
		machine: NewMachine(resolver, cfg.Revision),
		locks:   keylock.New(stripes),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		emitter: cfg.Emitter,
		now:     now,
		logger:  logger.With("component", "workflow.service"),
	}, nil
}

// RegisterDefinition compiles spec and stores it.
func (s *Service) RegisterDefinition(ctx context.Context, spec DefinitionSpec) (*Definition, error) {
	def, err := NewDefinition(spec)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveDefinition(ctx, def); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "definition registered",
		"definition_id", def.ID(),
		"version", def.Version(),
		"tenant_id", def.TenantID(),
		"steps", len(def.Steps()),
	)
	return def, nil
}

// Definitions lists the definitions visible to a tenant.
func (s *Service) Definitions(ctx context.Context, tenantID string) ([]*Definition, error) {
	return s.repo.ListDefinitions(ctx, tenantID)
}

// SelectDefinition returns the latest applicable definition for an agent
// type and risk level. Tenant definitions win over platform ones; ties go
// to the lowest id.
func (s *Service) SelectDefinition(ctx context.Context, tenantID, agentType, risk string) (*Definition, error) {
	defs, err := s.repo.ListDefinitions(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*Definition)
	for _, def := range defs {
		key := def.TenantID() + "/" + def.ID()
		if cur, ok := latest[key]; !ok || def.Version() > cur.Version() {
			latest[key] = def
		}
	}

	var candidates []*Definition
	for _, def := range latest {
		if def.Applicability().Applies(agentType, risk) {
			candidates = append(candidates, def)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no definition for agent type %q and risk %q", ErrNotFound, agentType, risk)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].TenantID() != "", candidates[j].TenantID() != ""
		if ti != tj {
			return ti
		}
		return candidates[i].ID() < candidates[j].ID()
	})
	return candidates[0], nil
}

// Start creates an instance of a definition and enters its first step.
// An instance whose first step cannot be assigned is created blocked and
// returned together with the blocking error.
func (s *Service) Start(ctx context.Context, req StartRequest) (inst *Instance, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.start",
		tracing.Tenant(req.TenantID),
	)
	defer func() { tracing.End(span, err) }()

	if req.DefinitionID == "" {
		return nil, fmt.Errorf("definition id is required")
	}

	var def *Definition
	if req.DefinitionVersion > 0 {
		def, err = s.repo.GetDefinition(ctx, req.TenantID, req.DefinitionID, req.DefinitionVersion)
	} else {
		def, err = s.repo.LatestDefinition(ctx, req.TenantID, req.DefinitionID)
	}
	if err != nil {
		return nil, err
	}

	attrs := req.Context.Map()
	if len(attrs) == 0 {
		attrs = nil
	}

	now := s.now().UTC()
	draft := &Instance{
		ID:                uuid.New().String(),
		TenantID:          req.TenantID,
		DefinitionID:      def.ID(),
		DefinitionVersion: def.Version(),
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		Submitter:         req.Submitter,
		Attributes:        attrs,
		Status:            StatusPending,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	for _, step := range def.Steps() {
		draft.Steps = append(draft.Steps, StepRecord{StepNumber: step.Number, Status: StepPending})
	}

	t, blockErr := s.machine.Begin(ctx, def, draft, req.Submitter, now)
	if t == nil {
		return nil, blockErr
	}
	t.Instance.Version = 1

	ctx = logging.WithInstance(logging.WithTenant(ctx, req.TenantID), draft.ID)
	entry, err := s.auditor.Record(ctx, s.entry(t, nil))
	if err != nil {
		return nil, fmt.Errorf("audit start of %s: %w", draft.ID, err)
	}
	if err := s.repo.CreateInstance(ctx, t.Instance); err != nil {
		s.abort(ctx, t, err)
		return nil, fmt.Errorf("create instance %s: %w", draft.ID, err)
	}

	s.logger.InfoContext(ctx, "workflow started",
		"definition_id", def.ID(),
		"version", def.Version(),
		"step", t.NewStep,
		"status", t.NewStatus,
	)
	s.emit(ctx, t, entry)
	return t.Instance.Clone(), blockErr
}

// ApplyAction applies action to an instance. payload may carry
// "expected_step" and "notes" besides action-specific fields; approve and
// reject require "expected_step".
func (s *Service) ApplyAction(ctx context.Context, instanceID string, action Action, actor string, payload map[string]any) (*Instance, error) {
	req := ApplyRequest{InstanceID: instanceID, Action: action, Actor: actor, Payload: payload}
	if v, ok := payload["expected_step"]; ok {
		n, ok := intValue(v)
		if !ok {
			return nil, fmt.Errorf("%w: expected_step must be a number", ErrInvalidPayload)
		}
		req.ExpectedStep = n
	}
	if notes, ok := payload["notes"].(string); ok {
		req.Notes = notes
	}

	t, err := s.Apply(ctx, req)
	if t == nil {
		return nil, err
	}
	return t.Instance.Clone(), err
}

// Apply applies req and commits the transition. The audit entry is
// durable before the instance is saved. A blocking error is returned
// together with the committed transition that blocked the instance.
//
// Approve and reject need req.ExpectedStep, so that of two callers deciding
// the same step only the first advances the instance.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (t *Transition, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "workflow.transition",
		tracing.Instance(req.InstanceID),
		tracing.Transition(string(req.Action)),
	)
	result := resultError
	defer func() {
		s.metrics.RecordTransition(string(req.Action), result, time.Since(start))
		tracing.End(span, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Action.Decision() && req.ExpectedStep <= 0 {
		result = resultRejected
		return nil, fmt.Errorf("%w: %s requires expected_step", ErrInvalidPayload, req.Action)
	}
	ctx = logging.WithActor(logging.WithInstance(ctx, req.InstanceID), req.Actor)

	unlock := s.locks.Lock(req.InstanceID)
	defer unlock()

	inst, err := s.repo.GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithTenant(ctx, inst.TenantID)

	mreq := Request{
		Action:       req.Action,
		Actor:        req.Actor,
		ExpectedStep: req.ExpectedStep,
		Notes:        req.Notes,
		Payload:      req.Payload,
	}

	var applyErr error
	def, err := s.repo.GetDefinition(ctx, inst.TenantID, inst.DefinitionID, inst.DefinitionVersion)
	switch {
	case errors.Is(err, ErrNotFound):
		applyErr = &WorkflowConfigError{InstanceID: inst.ID, Action: req.Action, Step: inst.CurrentStep,
			Reason: fmt.Sprintf("definition %s v%d is missing", inst.DefinitionID, inst.DefinitionVersion)}
		t = s.machine.Block(inst, mreq, applyErr, s.now())
		if t == nil {
			result = resultRejected
			return nil, applyErr
		}
	case err != nil:
		return nil, err
	default:
		t, applyErr = s.machine.Apply(ctx, def, inst, mreq, s.now())
	}
	if t == nil {
		switch {
		case errors.Is(applyErr, ErrNoChange):
			result = resultNoop
		case errors.Is(applyErr, ErrTerminal), errors.Is(applyErr, ErrBlocked),
			errors.Is(applyErr, ErrStaleStep), errors.Is(applyErr, ErrInvalidPayload),
			errors.Is(applyErr, ErrUnknownAction):
			result = resultRejected
		}
		s.logger.DebugContext(ctx, "action not applied", "action", req.Action, "error", applyErr)
		return nil, applyErr
	}

	entry, err := s.auditor.Record(ctx, s.entry(t, req.Payload))
	if err != nil {
		return nil, fmt.Errorf("audit %s on %s: %w", req.Action, inst.ID, err)
	}

	if err := s.repo.UpdateInstance(ctx, t.Instance, inst.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			result = resultConflict
		}
		s.abort(ctx, t, err)
		return nil, err
	}

	result = resultCommitted
	if t.Blocked() {
		result = resultBlocked
		s.logger.WarnContext(ctx, "workflow blocked",
			"action", req.Action,
			"step", t.NewStep,
			"reason", t.Instance.BlockedReason,
		)
	} else {
		s.logger.InfoContext(ctx, "workflow transition",
			"action", req.Action,
			"from_status", t.PreviousStatus,
			"to_status", t.NewStatus,
			"from_step", t.PreviousStep,
			"to_step", t.NewStep,
		)
	}
	s.emit(ctx, t, entry)
	return t, applyErr
}

// abort appends a marker for an audited transition that was not saved.
func (s *Service) abort(ctx context.Context, t *Transition, cause error) {
	marker := &audit.Entry{
		InstanceID:      t.Instance.ID,
		TenantID:        t.Instance.TenantID,
		Actor:           t.Actor,
		Action:          string(ActionAborted),
		PreviousStatus:  string(t.PreviousStatus),
		NewStatus:       string(t.PreviousStatus),
		PreviousStep:    t.PreviousStep,
		NewStep:         t.PreviousStep,
		StepNumber:      t.StepNumber,
		Notes:           fmt.Sprintf("%s not committed: %v", t.Action, cause),
		InstanceVersion: t.Instance.Version,
	}
	if _, err := s.auditor.Record(ctx, marker); err != nil {
		s.logger.ErrorContext(ctx, "failed to record aborted transition", "action", t.Action, "error", err)
	}
	s.logger.WarnContext(ctx, "transition not committed", "action", t.Action, "version", t.Instance.Version, "error", cause)
}

func (s *Service) entry(t *Transition, payload map[string]any) *audit.Entry {
	notes := t.Notes
	if t.Blocked() {
		if notes != "" {
			notes += "; "
		}
		notes += "blocked: " + t.Err.Error()
	}
	return &audit.Entry{
		InstanceID:      t.Instance.ID,
		TenantID:        t.Instance.TenantID,
		Actor:           t.Actor,
		Action:          string(t.Action),
		PreviousStatus:  string(t.PreviousStatus),
		NewStatus:       string(t.NewStatus),
		PreviousStep:    t.PreviousStep,
		NewStep:         t.NewStep,
		StepNumber:      t.StepNumber,
		Notes:           strings.TrimSpace(notes),
		Payload:         payload,
		InstanceVersion: t.Instance.Version,
		Timestamp:       t.Instance.UpdatedAt,
	}
}

func (s *Service) emit(ctx context.Context, t *Transition, entry *audit.Entry) {
	if s.emitter == nil {
		return
	}
	event := Event{
		InstanceID:     t.Instance.ID,
		TenantID:       t.Instance.TenantID,
		DefinitionID:   t.Instance.DefinitionID,
		EntityType:     t.Instance.EntityType,
		EntityID:       t.Instance.EntityID,
		Action:         t.Action,
		Actor:          t.Actor,
		PreviousStatus: t.PreviousStatus,
		NewStatus:      t.NewStatus,
		PreviousStep:   t.PreviousStep,
		NewStep:        t.NewStep,
		BlockedReason:  t.Instance.BlockedReason,
		AuditEntryID:   entry.ID,
		Sequence:       entry.Sequence,
		Timestamp:      entry.Timestamp,
	}
	if a := t.Assignment; a != nil {
		event.Assignee = a.Assignee
		event.Role = a.Role
		event.Candidates = append([]string(nil), a.Candidates...)
	}
	if err := s.emitter.OnTransition(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "transition event delivery failed",
			"action", t.Action,
			"error", err,
		)
	}
}

// Get returns an instance.
func (s *Service) Get(ctx context.Context, instanceID string) (*Instance, error) {
	return s.repo.GetInstance(ctx, instanceID)
}

// ListInstances returns instances matching filter.
func (s *Service) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	return s.repo.ListInstances(ctx, filter)
}

// History returns an instance's audit entries in sequence order.
func (s *Service) History(ctx context.Context, instanceID string) ([]*audit.Entry, error) {
	return s.auditor.History(ctx, instanceID)
}

// Definition returns the definition an instance runs on.
func (s *Service) Definition(ctx context.Context, inst *Instance) (*Definition, error) {
	return s.repo.GetDefinition(ctx, inst.TenantID, inst.DefinitionID, inst.DefinitionVersion)
}
