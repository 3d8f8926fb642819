package ast

import "fmt"

// Location points at the rule definition that produced a node.
type Location struct {
	File string
	Line int
}

// String returns "file:line", or "<inline>" for rules that were not loaded
// from a file.
func (l Location) String() string {
	if l.File == "" {
		return "<inline>"
	}
	if l.Line <= 0 {
		return l.File
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// IsValid reports whether the location carries file information.
func (l Location) IsValid() bool {
	return l.File != ""
}
