package workflow

import (
	"context"
	"errors"
	"time"
)

// Event describes a committed transition.
type Event struct {
	InstanceID   string `json:"instance_id"`
	TenantID     string `json:"tenant_id"`
	DefinitionID string `json:"definition_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`

	Action Action `json:"action"`
	Actor  string `json:"actor"`

	PreviousStatus Status `json:"previous_status"`
	NewStatus      Status `json:"new_status"`
	PreviousStep   int    `json:"previous_step"`
	NewStep        int    `json:"new_step"`

	// Assignee and Role describe the new owner when the transition assigned
	// a step.
	Assignee   string   `json:"assignee,omitempty"`
	Role       string   `json:"role,omitempty"`
	Candidates []string `json:"candidates,omitempty"`

	BlockedReason string `json:"blocked_reason,omitempty"`

	AuditEntryID string    `json:"audit_entry_id"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}

// Emitter receives committed transitions. Errors are logged by the service
// and never undo a transition.
type Emitter interface {
	OnTransition(ctx context.Context, event Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, event Event) error

func (f EmitterFunc) OnTransition(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Emitters fans an event out to every emitter and joins their errors.
type Emitters []Emitter

func (e Emitters) OnTransition(ctx context.Context, event Event) error {
	var errs []error
	for _, em := range e {
		if em == nil {
			continue
		}
		if err := em.OnTransition(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
