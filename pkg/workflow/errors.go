package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown definitions or instances.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned for actions on approved, rejected or
	// cancelled instances.
	ErrTerminal = errors.New("instance is in a terminal state")

	// ErrBlocked is returned for actions other than cancel and unblock on
	// a blocked instance.
	ErrBlocked = errors.New("instance is blocked")

	// ErrStaleStep is returned when the caller's expected step is no longer
	// the current step.
	ErrStaleStep = errors.New("instance moved past the expected step")

	// ErrConflict is returned when the instance changed between load and
	// save.
	ErrConflict = errors.New("concurrent modification")

	// ErrNoChange is returned by system actions whose desired state is the
	// current state.
	ErrNoChange = errors.New("no change")

	// ErrUnknownAction is returned for action names outside the action set.
	ErrUnknownAction = errors.New("unknown workflow action")

	// ErrInvalidPayload is returned when an action's payload is missing a
	// required field or names an assignee that cannot be resolved.
	ErrInvalidPayload = errors.New("invalid action payload")

	// ErrDefinitionExists is returned when saving a different definition
	// under an existing id and version.
	ErrDefinitionExists = errors.New("definition version already exists")
)

// WorkflowConfigError reports an action that cannot be applied because the
// definition or instance is inconsistent, or the action is not valid in
// the current state. The service commits a blocked transition for it.
type WorkflowConfigError struct {
	InstanceID string
	Action     Action
	Step       int
	Reason     string
}

func (e *WorkflowConfigError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("workflow configuration error [instance=%s, action=%s, step=%d]: %s", e.InstanceID, e.Action, e.Step, e.Reason)
	}
	return fmt.Sprintf("workflow configuration error [instance=%s, action=%s]: %s", e.InstanceID, e.Action, e.Reason)
}

// DefinitionError reports an invalid workflow definition.
type DefinitionError struct {
	ID     string
	Field  string
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("definition %q: %s: %s", e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("definition %q: %s", e.ID, e.Reason)
}
