package ast

import (
	"errors"
	"time"
)

// RuleType classifies what a rule is used for.
type RuleType string

const (
	RuleTypeConditional RuleType = "conditional"
	RuleTypeAssignment  RuleType = "assignment"
	RuleTypeAutoAdd     RuleType = "auto_add"
)

// Rule is a compiled tenant rule.
//
// Rules are immutable after compilation. A rule with a non-empty Errors list
// is invalid: it is never matched and is reported by the matcher instead.
type Rule struct {
	ID          string
	TenantID    string // empty for platform-wide rules
	Name        string
	Description string
	Type        RuleType

	Condition Condition
	Action    Action

	// Priority orders matches; lower values take precedence.
	Priority int
	// Sequence is the creation order and breaks priority ties.
	Sequence int64

	EntityTypes []string // empty applies to every entity type
	Screens     []string // empty applies to every screen

	Active    bool
	Automatic bool

	CreatedAt time.Time
	Location  Location

	Errors []error
}

// Valid reports whether the rule compiled without errors.
func (r *Rule) Valid() bool {
	return len(r.Errors) == 0
}

// Err joins the rule's compile errors, or returns nil for valid rules.
func (r *Rule) Err() error {
	return errors.Join(r.Errors...)
}

// AppliesTo reports whether the rule is scoped to the entity type and screen.
func (r *Rule) AppliesTo(entityType, screen string) bool {
	return inScope(r.EntityTypes, entityType) && inScope(r.Screens, screen)
}

// IsPlatform reports whether the rule applies to every tenant.
func (r *Rule) IsPlatform() bool {
	return r.TenantID == ""
}

func inScope(scope []string, value string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == value || s == AllValues {
			return true
		}
	}
	return false
}

// Less orders rules by priority, then creation order, then ID.
func Less(a, b *Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.ID < b.ID
}
