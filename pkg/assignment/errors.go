package assignment

import (
	"fmt"
	"strings"
)

// Attempt records one strategy tried while resolving a descriptor.
type Attempt struct {
	Strategy Strategy
	Value    string
	Reason   string
}

func (a Attempt) String() string {
	return fmt.Sprintf("%s(%s): %s", a.Strategy, a.Value, a.Reason)
}

// UnresolvedAssignmentError is returned when no strategy produced an
// assignee. The caller must surface it as a blocking condition.
type UnresolvedAssignmentError struct {
	TenantID string
	Target   string
	Attempts []Attempt
}

func (e *UnresolvedAssignmentError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("unresolved assignment %q", e.Target)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("unresolved assignment %q: %s", e.Target, strings.Join(parts, "; "))
}
