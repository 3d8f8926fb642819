package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/assignment"
	"mercator-hq/gatekeeper/pkg/evalctx"
)

// AssignmentResolver turns descriptors into assignees.
type AssignmentResolver interface {
	Resolve(ctx context.Context, req assignment.Request) (assignment.Assignment, error)
}

// Request is one action applied to an instance.
type Request struct {
	Action Action
	Actor  string
	// ExpectedStep rejects the action with ErrStaleStep when the instance
	// is no longer at this step. Zero disables the check.
	ExpectedStep int
	Notes        string
	Payload      map[string]any
}

// Transition is the outcome of a successfully evaluated action.
type Transition struct {
	Action Action
	Actor  string

	// Instance is the new state. Its Version is one past the input's.
	Instance *Instance

	PreviousStatus Status
	NewStatus      Status
	PreviousStep   int
	NewStep        int
	// StepNumber is the step the action was applied to.
	StepNumber int
	Notes      string

	// Assignment is set when the action assigned a step.
	Assignment *assignment.Assignment

	// Err is the blocking condition when NewStatus is blocked.
	Err error
}

// Blocked reports whether the transition blocked the instance.
func (t *Transition) Blocked() bool {
	return t.NewStatus == StatusBlocked && t.Err != nil
}

// Machine computes instance transitions. It holds no instance state and
// performs no I/O apart from assignment resolution.
type Machine struct {
	resolver AssignmentResolver
	revision RevisionPolicy
}

// NewMachine creates a machine. revision is the default used for
// definitions without their own revision policy; an empty target means
// "same". A nil resolver resolves users and context paths only.
func NewMachine(resolver AssignmentResolver, revision RevisionPolicy) *Machine {
	if resolver == nil {
		resolver = assignment.NewResolver(nil, nil)
	}
	if revision.Target == "" {
		revision.Target = RevisionSame
	}
	return &Machine{resolver: resolver, revision: revision}
}

// Apply evaluates req against inst and returns the resulting transition.
// inst is not modified.
//
// ErrTerminal, ErrBlocked, ErrStaleStep, ErrNoChange, ErrUnknownAction and
// ErrInvalidPayload are returned without a transition. A
// *WorkflowConfigError, or an unresolvable assignment while entering or
// escalating a step, is returned together with a transition that blocks
// the instance; the caller is expected to commit it.
func (m *Machine) Apply(ctx context.Context, def *Definition, inst *Instance, req Request, now time.Time) (*Transition, error) {
	if !actions[req.Action] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if inst.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, inst.ID, inst.Status)
	}
	if inst.Status == StatusBlocked && req.Action != ActionCancel && req.Action != ActionUnblock {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, inst.BlockedReason)
	}
	if req.ExpectedStep > 0 && req.ExpectedStep != inst.CurrentStep {
		return nil, fmt.Errorf("%w: expected step %d, instance is at step %d", ErrStaleStep, req.ExpectedStep, inst.CurrentStep)
	}

	now = now.UTC()
	next := inst.Clone()
	t := &Transition{
		Action:         req.Action,
		Actor:          req.Actor,
		Instance:       next,
		PreviousStatus: inst.Status,
		PreviousStep:   inst.CurrentStep,
		StepNumber:     inst.CurrentStep,
		Notes:          req.Notes,
	}
	a := &applier{m: m, ctx: ctx, def: def, inst: next, req: req, now: now, t: t}

	var err error
	switch req.Action {
	case ActionApprove:
		err = a.approve()
	case ActionReject:
		err = a.reject()
	case ActionForward:
		err = a.reassign(false)
	case ActionComment:
		err = a.comment()
	case ActionRequestRevision:
		err = a.requestRevision()
	case ActionResubmit:
		err = a.resubmit()
	case ActionEscalate:
		err = a.escalate()
	case ActionCancel:
		err = a.cancel()
	case ActionUnblock:
		err = a.unblock()
	case ActionAssign:
		err = a.reassign(true)
	case ActionRoute:
		err = a.route()
	}

	if err != nil {
		if !blocking(err) {
			return nil, err
		}
		markBlocked(t, err)
	}

	next.Version = inst.Version + 1
	next.UpdatedAt = now
	t.NewStatus = next.Status
	t.NewStep = next.CurrentStep
	return t, err
}

// Block returns a transition that blocks inst at its current step with
// cause. It is used when no definition is available to evaluate req.
// Blocked and terminal instances yield no transition.
func (m *Machine) Block(inst *Instance, req Request, cause error, now time.Time) *Transition {
	if inst.Status.Terminal() || inst.Status == StatusBlocked {
		return nil
	}
	next := inst.Clone()
	t := &Transition{
		Action:         req.Action,
		Actor:          req.Actor,
		Instance:       next,
		PreviousStatus: inst.Status,
		PreviousStep:   inst.CurrentStep,
		StepNumber:     inst.CurrentStep,
		Notes:          req.Notes,
	}
	markBlocked(t, cause)
	next.Version = inst.Version + 1
	next.UpdatedAt = now.UTC()
	t.NewStatus = next.Status
	t.NewStep = next.CurrentStep
	return t
}

func markBlocked(t *Transition, err error) {
	next := t.Instance
	if next.Status != StatusBlocked {
		next.BlockedFrom = next.Status
		if next.BlockedFrom.Terminal() {
			next.BlockedFrom = StatusInProgress
		}
	}
	next.Status = StatusBlocked
	next.BlockedReason = err.Error()
	t.Err = err
}

func blocking(err error) bool {
	var cfgErr *WorkflowConfigError
	var unresolved *assignment.UnresolvedAssignmentError
	return errors.As(err, &cfgErr) || errors.As(err, &unresolved)
}

// applier carries one Apply call.
type applier struct {
	m    *Machine
	ctx  context.Context
	def  *Definition
	inst *Instance
	req  Request
	now  time.Time
	t    *Transition
}

func (a *applier) configError(format string, args ...any) error {
	return &WorkflowConfigError{
		InstanceID: a.inst.ID,
		Action:     a.req.Action,
		Step:       a.inst.CurrentStep,
		Reason:     fmt.Sprintf(format, args...),
	}
}

// open returns the current record, requiring it to be pending or in
// progress.
func (a *applier) open() (*StepRecord, error) {
	if !a.def.HasStep(a.inst.CurrentStep) {
		return nil, a.configError("step %d is not part of definition %s v%d", a.inst.CurrentStep, a.def.ID(), a.def.Version())
	}
	rec, ok := a.inst.Current()
	if !ok {
		return nil, a.configError("no record for step %d", a.inst.CurrentStep)
	}
	if !rec.Status.Open() {
		return nil, a.configError("step %d is %s", rec.StepNumber, rec.Status)
	}
	return rec, nil
}

func (a *applier) notAwaitingRevision() error {
	if a.inst.AwaitingRevision {
		return a.configError("instance is awaiting revision by %s", a.inst.Submitter)
	}
	return nil
}

func (a *applier) complete(rec *StepRecord, status StepStatus) {
	now := a.now
	rec.Status = status
	rec.CompletedAt = &now
	if status == StepCompleted {
		rec.CompletedBy = a.req.Actor
		rec.Notes = a.req.Notes
	}
}

func (a *applier) approve() error {
	if err := a.notAwaitingRevision(); err != nil {
		return err
	}
	rec, err := a.open()
	if err != nil {
		return err
	}
	a.complete(rec, StepCompleted)
	if a.inst.Status == StatusPending {
		a.inst.Status = StatusInProgress
	}

	for _, step := range a.def.StepsAfter(rec.StepNumber) {
		ok, resolved, err := a.enterable(step)
		if err != nil {
			return err
		}
		if ok {
			return a.enter(step.Number, resolved)
		}
		if next, found := a.inst.Record(step.Number); found && next.Status.Open() {
			a.complete(next, StepSkipped)
		}
	}

	now := a.now
	a.inst.Status = StatusApproved
	a.inst.CompletedAt = &now
	return nil
}

func (a *applier) reject() error {
	rec, err := a.open()
	if err != nil {
		return err
	}
	a.complete(rec, StepCompleted)
	a.skipOpen()
	now := a.now
	a.inst.Status = StatusRejected
	a.inst.AwaitingRevision = false
	a.inst.ReturnStep = 0
	a.inst.CompletedAt = &now
	return nil
}

func (a *applier) skipOpen() {
	for i := range a.inst.Steps {
		if a.inst.Steps[i].Status.Open() {
			a.complete(&a.inst.Steps[i], StepSkipped)
		}
	}
}

func (a *applier) comment() error {
	rec, ok := a.inst.Current()
	if !ok {
		return a.configError("no record for step %d", a.inst.CurrentStep)
	}
	if rec.Status == StepPending {
		rec.Status = StepInProgress
	}
	if a.inst.Status == StatusPending {
		a.inst.Status = StatusInProgress
	}
	return nil
}

// reassign implements forward and assign. An idempotent reassignment to
// the current owner returns ErrNoChange.
func (a *applier) reassign(idempotent bool) error {
	rec, err := a.open()
	if err != nil {
		return err
	}
	target, _ := a.req.Payload["assignee"].(string)
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: assignee is required", ErrInvalidPayload)
	}
	resolved, err := a.resolve(target, "")
	if err != nil {
		var unresolved *assignment.UnresolvedAssignmentError
		if errors.As(err, &unresolved) {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return err
	}
	if idempotent && resolved.Assignee == rec.Assignee && resolved.Role == rec.Role {
		return fmt.Errorf("%w: step %d already assigned to %s", ErrNoChange, rec.StepNumber, resolved)
	}
	setAssignment(rec, resolved)
	a.t.Assignment = &resolved
	return nil
}

func (a *applier) requestRevision() error {
	if err := a.notAwaitingRevision(); err != nil {
		return err
	}
	rec, err := a.open()
	if err != nil {
		return err
	}

	policy, ok := a.def.Revision()
	if !ok {
		policy = a.m.revision
	}
	ret, err := a.returnStep(policy, rec.StepNumber)
	if err != nil {
		return err
	}

	from, _ := a.def.Position(ret)
	to, _ := a.def.Position(rec.StepNumber)
	for _, step := range a.def.Steps()[from : to+1] {
		r, found := a.inst.Record(step.Number)
		if !found || r.Status == StepSkipped {
			continue
		}
		r.Status = StepPending
		r.Revision++
		r.CompletedBy = ""
		r.CompletedAt = nil
	}

	a.inst.AwaitingRevision = true
	a.inst.ReturnStep = ret
	a.t.Assignment = &assignment.Assignment{Assignee: a.inst.Submitter, Strategy: assignment.StrategyUser}
	return nil
}

func (a *applier) returnStep(policy RevisionPolicy, current int) (int, error) {
	switch policy.Target {
	case RevisionSame, "":
		return current, nil
	case RevisionFirst:
		return a.def.FirstStep(), nil
	case RevisionPrevious:
		steps := a.def.Steps()
		pos, _ := a.def.Position(current)
		for i := pos - 1; i >= 0; i-- {
			if r, ok := a.inst.Record(steps[i].Number); ok && r.Status == StepCompleted {
				return steps[i].Number, nil
			}
		}
		return current, nil
	case RevisionStep:
		target, ok := a.def.Position(policy.Step)
		pos, _ := a.def.Position(current)
		if !ok || target > pos {
			return 0, a.configError("revision step %d is not at or before step %d", policy.Step, current)
		}
		return policy.Step, nil
	default:
		return 0, a.configError("unknown revision target %q", policy.Target)
	}
}

func (a *applier) resubmit() error {
	if !a.inst.AwaitingRevision {
		return a.configError("instance is not awaiting revision")
	}
	ret := a.inst.ReturnStep
	if ret == 0 {
		ret = a.inst.CurrentStep
	}
	a.inst.AwaitingRevision = false
	a.inst.ReturnStep = 0
	return a.enter(ret, nil)
}

func (a *applier) escalate() error {
	rec, err := a.open()
	if err != nil {
		return err
	}
	target := a.def.EscalationTarget(rec.StepNumber)
	if target == "" {
		return a.configError("no escalation target configured for step %d", rec.StepNumber)
	}
	resolved, err := a.resolve(target, "")
	if err != nil {
		return err
	}
	setAssignment(rec, resolved)
	rec.Escalated = true
	a.t.Assignment = &resolved
	return nil
}

func (a *applier) cancel() error {
	a.skipOpen()
	now := a.now
	a.inst.Status = StatusCancelled
	a.inst.AwaitingRevision = false
	a.inst.ReturnStep = 0
	a.inst.BlockedReason = ""
	a.inst.BlockedFrom = ""
	a.inst.CompletedAt = &now
	return nil
}

func (a *applier) unblock() error {
	if a.inst.Status != StatusBlocked {
		return fmt.Errorf("%w: instance is %s", ErrNoChange, a.inst.Status)
	}

	number := a.inst.CurrentStep
	if v, ok := a.req.Payload["step"]; ok {
		n, ok := intValue(v)
		if !ok {
			return fmt.Errorf("%w: step must be a number", ErrInvalidPayload)
		}
		number = n
	}
	if !a.def.HasStep(number) {
		return a.configError("step %d is not part of definition %s v%d", number, a.def.ID(), a.def.Version())
	}
	rec, ok := a.inst.Record(number)
	if !ok {
		return a.configError("no record for step %d", number)
	}

	if number != a.inst.CurrentStep || (rec.Assignee == "" && rec.Role == "") {
		if err := a.enter(number, nil); err != nil {
			return err
		}
	} else if !rec.Status.Open() {
		return a.configError("step %d is %s", number, rec.Status)
	}

	restore := a.inst.BlockedFrom
	if restore == "" || restore == StatusBlocked {
		restore = StatusInProgress
	}
	a.inst.Status = restore
	a.inst.BlockedReason = ""
	a.inst.BlockedFrom = ""
	return nil
}

func (a *applier) route() error {
	v, ok := a.req.Payload["step"]
	if !ok {
		return fmt.Errorf("%w: step is required", ErrInvalidPayload)
	}
	target, ok := intValue(v)
	if !ok {
		return fmt.Errorf("%w: step must be a number", ErrInvalidPayload)
	}
	if target == a.inst.CurrentStep {
		return fmt.Errorf("%w: instance is already at step %d", ErrNoChange, target)
	}
	to, ok := a.def.Position(target)
	if !ok {
		return a.configError("route to unknown step %d", target)
	}
	from, ok := a.def.Position(a.inst.CurrentStep)
	if !ok {
		return a.configError("step %d is not part of definition %s v%d", a.inst.CurrentStep, a.def.ID(), a.def.Version())
	}

	steps := a.def.Steps()
	if to > from {
		for _, step := range steps[from:to] {
			if r, found := a.inst.Record(step.Number); found && r.Status.Open() {
				a.complete(r, StepSkipped)
			}
		}
	} else {
		for _, step := range steps[to : from+1] {
			if r, found := a.inst.Record(step.Number); found {
				r.Status = StepPending
				r.CompletedBy = ""
				r.CompletedAt = nil
			}
		}
	}

	a.inst.AwaitingRevision = false
	a.inst.ReturnStep = 0
	return a.enter(target, nil)
}

// enterable reports whether step is entered when reached by approval. A
// skippable step is entered only when it auto-assigns successfully; the
// resolved assignment is returned for reuse.
func (a *applier) enterable(step Step) (bool, *assignment.Assignment, error) {
	if step.Required || !step.CanSkip {
		return true, nil, nil
	}
	if !step.AutoAssign || step.AssignmentDescriptor() == "" {
		return false, nil, nil
	}
	resolved, err := a.resolve(step.AssignmentDescriptor(), a.def.Assignment().Fallback)
	if err != nil {
		var unresolved *assignment.UnresolvedAssignmentError
		if errors.As(err, &unresolved) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, &resolved, nil
}

// enter makes number the current step and assigns it. Steps without an
// assignment descriptor and without a definition fallback stay
// unassigned.
func (a *applier) enter(number int, resolved *assignment.Assignment) error {
	step, ok := a.def.Step(number)
	if !ok {
		return a.configError("step %d is not part of definition %s v%d", number, a.def.ID(), a.def.Version())
	}
	rec, ok := a.inst.Record(number)
	if !ok {
		return a.configError("no record for step %d", number)
	}

	now := a.now
	a.inst.CurrentStep = number
	rec.Status = StepPending
	rec.StartedAt = &now
	rec.CompletedAt = nil
	rec.CompletedBy = ""
	rec.Escalated = false

	if resolved == nil {
		target := step.AssignmentDescriptor()
		fallback := a.def.Assignment().Fallback
		if target == "" {
			target, fallback = fallback, ""
		}
		if target == "" {
			rec.Assignee, rec.Role, rec.Candidates = "", "", nil
			return nil
		}
		r, err := a.resolve(target, fallback)
		if err != nil {
			return err
		}
		resolved = &r
	}
	setAssignment(rec, *resolved)
	a.t.Assignment = resolved
	return nil
}

func (a *applier) resolve(target, fallback string) (assignment.Assignment, error) {
	evalCtx, err := evalctx.FromMap(a.inst.Attributes)
	if err != nil {
		return assignment.Assignment{}, a.configError("instance attributes: %v", err)
	}
	return a.m.resolver.Resolve(a.ctx, assignment.Request{
		TenantID: a.inst.TenantID,
		Target:   target,
		Context:  evalCtx,
		Fallback: fallback,
	})
}

func setAssignment(rec *StepRecord, a assignment.Assignment) {
	rec.Assignee = a.Assignee
	rec.Role = a.Role
	rec.Candidates = append([]string(nil), a.Candidates...)
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// Begin places a new instance on its first enterable step. An instance
// whose steps are all skipped is approved immediately.
func (m *Machine) Begin(ctx context.Context, def *Definition, inst *Instance, actor string, now time.Time) (*Transition, error) {
	now = now.UTC()
	next := inst.Clone()
	t := &Transition{
		Action:         ActionStart,
		Actor:          actor,
		Instance:       next,
		PreviousStatus: inst.Status,
		PreviousStep:   inst.CurrentStep,
	}
	a := &applier{m: m, ctx: ctx, def: def, inst: next, req: Request{Action: ActionStart, Actor: actor}, now: now, t: t}

	err := a.begin()
	if err != nil {
		if !blocking(err) {
			return nil, err
		}
		next.BlockedFrom = StatusPending
		next.Status = StatusBlocked
		next.BlockedReason = err.Error()
		t.Err = err
	}
	next.UpdatedAt = now
	t.StepNumber = next.CurrentStep
	t.NewStatus = next.Status
	t.NewStep = next.CurrentStep
	return t, err
}

func (a *applier) begin() error {
	steps := a.def.Steps()
	for _, step := range steps {
		ok, resolved, err := a.enterable(step)
		if err != nil {
			return err
		}
		if ok {
			return a.enter(step.Number, resolved)
		}
		if rec, found := a.inst.Record(step.Number); found {
			a.complete(rec, StepSkipped)
		}
	}
	now := a.now
	a.inst.CurrentStep = steps[len(steps)-1].Number
	a.inst.Status = StatusApproved
	a.inst.CompletedAt = &now
	return nil
}
