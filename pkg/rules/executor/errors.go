package executor

import (
	"errors"
	"fmt"
)

// ErrNoInstance is returned by workflow verbs when the context carries no
// workflow.instance_id.
var ErrNoInstance = errors.New("context has no workflow.instance_id")

// ActionExecutionError reports a rule action that could not be applied.
// Execution continues with the remaining rules.
type ActionExecutionError struct {
	RuleID string
	Verb   string
	Target string
	Cause  error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("rule %s: action %s:%s: %v", e.RuleID, e.Verb, e.Target, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}
