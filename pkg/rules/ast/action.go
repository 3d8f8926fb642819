package ast

import (
	"sort"
	"strconv"
	"strings"
)

// Verb is the effect kind of a rule action.
type Verb uint8

const (
	// VerbAssignTo assigns the entity (or the current workflow step) to a
	// user or role.
	VerbAssignTo Verb = iota
	// VerbStep routes the referenced workflow instance to a step number.
	VerbStep
	// VerbNotify produces a notification for the post-commit dispatcher.
	VerbNotify
	// VerbFlag raises a named flag on the evaluated entity.
	VerbFlag

	// VerbCount is the number of verbs. Dispatch tables are sized with it.
	VerbCount
)

var verbNames = [VerbCount]string{
	VerbAssignTo: "assign_to",
	VerbStep:     "step",
	VerbNotify:   "notify",
	VerbFlag:     "flag",
}

func (v Verb) String() string {
	if v >= VerbCount {
		return "Verb(" + strconv.Itoa(int(v)) + ")"
	}
	return verbNames[v]
}

// ParseVerb returns the verb with the given name. "assign" is accepted as an
// alias of "assign_to".
func ParseVerb(s string) (Verb, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "assign" {
		return VerbAssignTo, true
	}
	for v := Verb(0); v < VerbCount; v++ {
		if verbNames[v] == s {
			return v, true
		}
	}
	return 0, false
}

// VerbNames lists every verb name, for error suggestions.
func VerbNames() []string {
	names := make([]string, 0, VerbCount)
	for v := Verb(0); v < VerbCount; v++ {
		names = append(names, verbNames[v])
	}
	return names
}

// Action is the compiled effect of a rule.
type Action struct {
	Verb   Verb
	Target string
	Params map[string]string
	// Source is the raw action text, for diagnostics.
	Source string
}

// String renders the action in "<verb>:<target>" form.
func (a Action) String() string {
	s := a.Verb.String() + ":" + a.Target
	if len(a.Params) == 0 {
		return s
	}
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+a.Params[k])
	}
	return s + " {" + strings.Join(parts, ", ") + "}"
}

// Param returns a parameter value, or def when it is not set.
func (a Action) Param(key, def string) string {
	if v, ok := a.Params[key]; ok && v != "" {
		return v
	}
	return def
}
