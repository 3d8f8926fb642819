package workflow

import (
	"time"
)

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Active reports whether the instance is waiting on a step.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// StepStatus is the state of one step record.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
)

// Open reports whether the step can still be acted on.
func (s StepStatus) Open() bool {
	return s == StepPending || s == StepInProgress
}

// Action is a transition request name.
type Action string

// User actions.
const (
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionForward         Action = "forward"
	ActionComment         Action = "comment"
	ActionRequestRevision Action = "request_revision"
	ActionResubmit        Action = "resubmit"
	ActionEscalate        Action = "escalate"
	ActionCancel          Action = "cancel"
)

// Operator and system actions.
const (
	ActionUnblock Action = "unblock"
	ActionAssign  Action = "assign"
	ActionRoute   Action = "route"
)

// Audit-only markers that are not accepted by Apply.
const (
	ActionStart   Action = "start"
	ActionAborted Action = "aborted"
)

var actions = map[Action]bool{
	ActionApprove: true, ActionReject: true, ActionForward: true,
	ActionComment: true, ActionRequestRevision: true, ActionResubmit: true,
	ActionEscalate: true, ActionCancel: true, ActionUnblock: true,
	ActionAssign: true, ActionRoute: true,
}

// Decision reports whether the action completes the current step. Decisions
// must name the step they were taken on.
func (a Action) Decision() bool {
	return a == ActionApprove || a == ActionReject
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !actions[a] {
		return "", ErrUnknownAction
	}
	return a, nil
}

// System reports whether the action is reserved for the rule executor.
func (a Action) System() bool {
	return a == ActionAssign || a == ActionRoute
}

// StepRecord tracks one step of an instance.
type StepRecord struct {
	StepNumber int        `json:"step_number"`
	Status     StepStatus `json:"status"`

	Assignee   string   `json:"assignee,omitempty"`
	Role       string   `json:"role,omitempty"`
	Candidates []string `json:"candidates,omitempty"`

	CompletedBy string `json:"completed_by,omitempty"`
	Notes       string `json:"notes,omitempty"`

	// Revision counts how often the step was sent back for revision.
	Revision  int  `json:"revision"`
	Escalated bool `json:"escalated"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Instance is a running workflow for one entity.
type Instance struct {
	ID                string `json:"id"`
	TenantID          string `json:"tenant_id"`
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`

	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Submitter  string `json:"submitter"`

	// Attributes is the context snapshot used for path assignments.
	Attributes map[string]any `json:"attributes,omitempty"`

	CurrentStep int    `json:"current_step"`
	Status      Status `json:"status"`

	AwaitingRevision bool `json:"awaiting_revision"`
	ReturnStep       int  `json:"return_step,omitempty"`

	BlockedReason string `json:"blocked_reason,omitempty"`
	// BlockedFrom is the status to restore on unblock.
	BlockedFrom Status `json:"blocked_from,omitempty"`

	// Version increments on every committed transition.
	Version int64 `json:"version"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Steps []StepRecord `json:"steps"`
}

// Record returns the record for a step number.
func (i *Instance) Record(number int) (*StepRecord, bool) {
	for k := range i.Steps {
		if i.Steps[k].StepNumber == number {
			return &i.Steps[k], true
		}
	}
	return nil, false
}

// Current returns the record of the current step.
func (i *Instance) Current() (*StepRecord, bool) {
	return i.Record(i.CurrentStep)
}

// Clone returns a deep copy of i.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.CompletedAt = cloneTime(i.CompletedAt)
	if i.Attributes != nil {
		out.Attributes = cloneValue(i.Attributes).(map[string]any)
	}
	out.Steps = make([]StepRecord, len(i.Steps))
	for k, r := range i.Steps {
		r.Candidates = append([]string(nil), r.Candidates...)
		r.StartedAt = cloneTime(r.StartedAt)
		r.CompletedAt = cloneTime(r.CompletedAt)
		out.Steps[k] = r
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for k, x := range val {
			out[k] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}
