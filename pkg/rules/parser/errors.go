package parser

import (
	"fmt"
	"strings"
)

// ParseError describes a malformed condition, action or rule definition.
// Parse errors are collected on the rule at load time; the rule is then
// invalid and never matched.
type ParseError struct {
	RuleID string
	// Field is the rule field that failed: "condition", "action", "id", ...
	Field string
	// Input is the raw text that failed to parse.
	Input string
	// Position is the byte offset in Input where parsing failed, or -1.
	Position int
	// Line is the source line of the rule definition, when loaded from YAML.
	Line       int
	Message    string
	Suggestion string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var sb strings.Builder
	if e.RuleID != "" {
		fmt.Fprintf(&sb, "rule %s: ", e.RuleID)
	}
	if e.Field != "" {
		sb.WriteString(e.Field)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Input != "" {
		if e.Position >= 0 {
			fmt.Fprintf(&sb, " at position %d in %q", e.Position, e.Input)
		} else {
			fmt.Fprintf(&sb, " in %q", e.Input)
		}
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " (line %d)", e.Line)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, "; %s", e.Suggestion)
	}
	return sb.String()
}

func newParseError(field, input string, pos int, format string, args ...any) *ParseError {
	return &ParseError{
		Field:    field,
		Input:    input,
		Position: pos,
		Message:  fmt.Sprintf(format, args...),
	}
}
