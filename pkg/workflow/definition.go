package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Step is one stage of a definition.
type Step struct {
	Number int    `yaml:"number" json:"number" validate:"gt=0"`
	Name   string `yaml:"name" json:"name" validate:"required"`
	// Type is descriptive: "security", "compliance", "approval", ...
	Type string `yaml:"type" json:"type,omitempty"`

	// Required steps are always entered.
	Required bool `yaml:"required" json:"required"`
	// CanSkip steps are passed over on approval unless they have a
	// resolvable auto-assignment.
	CanSkip bool `yaml:"can_skip" json:"can_skip"`

	// AssignedRole is resolved as role:<AssignedRole> when AssignTo is
	// empty.
	AssignedRole string `yaml:"assigned_role" json:"assigned_role,omitempty"`
	// AssignTo is an assignment descriptor.
	AssignTo   string `yaml:"assign_to" json:"assign_to,omitempty"`
	AutoAssign bool   `yaml:"auto_assign" json:"auto_assign"`

	// EscalateTo overrides the definition's escalation target.
	EscalateTo string `yaml:"escalate_to" json:"escalate_to,omitempty"`
	// EscalateAfter is how long the step may wait before the external
	// scheduler escalates it. Zero disables escalation.
	EscalateAfter time.Duration `yaml:"escalate_after" json:"escalate_after,omitempty" validate:"gte=0"`
}

// AssignmentDescriptor returns the descriptor used to assign the step, or
// "" when the step declares none.
func (s Step) AssignmentDescriptor() string {
	if s.AssignTo != "" {
		return s.AssignTo
	}
	if s.AssignedRole != "" {
		return "role:" + s.AssignedRole
	}
	return ""
}

// AssignmentRules are definition-level assignment settings.
type AssignmentRules struct {
	// Fallback is tried when a step's own descriptor does not resolve.
	Fallback string `yaml:"fallback" json:"fallback,omitempty"`
	// EscalateTo is the default escalation target.
	EscalateTo string `yaml:"escalate_to" json:"escalate_to,omitempty"`
	// StepEscalation overrides EscalateTo per step number.
	StepEscalation map[int]string `yaml:"step_escalation" json:"step_escalation,omitempty"`
}

// Applicability restricts which requests a definition serves. Empty lists
// and the value "all" match everything.
type Applicability struct {
	AgentTypes []string `yaml:"agent_types" json:"agent_types,omitempty"`
	RiskLevels []string `yaml:"risk_levels" json:"risk_levels,omitempty"`
}

// Applies reports whether the definition serves agentType at risk.
func (a Applicability) Applies(agentType, risk string) bool {
	return applies(a.AgentTypes, agentType) && applies(a.RiskLevels, risk)
}

func applies(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if strings.EqualFold(v, "all") || strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// Revision targets.
const (
	RevisionSame     = "same"
	RevisionPrevious = "previous"
	RevisionFirst    = "first"
	RevisionStep     = "step"
)

// RevisionPolicy selects where request_revision sends an instance back to.
type RevisionPolicy struct {
	Target string `yaml:"target" json:"target" validate:"omitempty,oneof=same previous first step"`
	// Step is used when Target is "step".
	Step int `yaml:"step" json:"step,omitempty"`
}

// DefinitionSpec is the declarative form of a definition.
type DefinitionSpec struct {
	ID       string `yaml:"id" json:"id" validate:"required,max=128"`
	Version  int    `yaml:"version" json:"version" validate:"gte=0"`
	TenantID string `yaml:"tenant_id" json:"tenant_id,omitempty"`
	Name     string `yaml:"name" json:"name" validate:"required"`

	Steps         []Step          `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Assignment    AssignmentRules `yaml:"assignment" json:"assignment"`
	Applicability Applicability   `yaml:"applicability" json:"applicability"`
	// Revision overrides the service default when set.
	Revision *RevisionPolicy `yaml:"revision" json:"revision,omitempty"`
}

// Definition is a compiled, immutable workflow definition.
type Definition struct {
	spec  DefinitionSpec
	index map[int]int // step number -> position
}

// NewDefinition validates spec and compiles its step index. Version 0 is
// treated as 1. Step numbers must be positive, unique and strictly
// increasing in declaration order.
func NewDefinition(spec DefinitionSpec) (*Definition, error) {
	spec = cloneSpec(spec)
	if spec.Version == 0 {
		spec.Version = 1
	}

	if err := validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &DefinitionError{ID: spec.ID, Field: fe.Namespace(), Reason: fmt.Sprintf("failed %q validation", fe.Tag())}
		}
		return nil, &DefinitionError{ID: spec.ID, Reason: err.Error()}
	}

	index := make(map[int]int, len(spec.Steps))
	prev := 0
	for i, step := range spec.Steps {
		if _, dup := index[step.Number]; dup {
			return nil, &DefinitionError{ID: spec.ID, Field: fmt.Sprintf("steps[%d].number", i), Reason: fmt.Sprintf("duplicate step number %d", step.Number)}
		}
		if step.Number <= prev {
			return nil, &DefinitionError{ID: spec.ID, Field: fmt.Sprintf("steps[%d].number", i), Reason: fmt.Sprintf("step %d does not follow step %d", step.Number, prev)}
		}
		index[step.Number] = i
		prev = step.Number
	}

	for number := range spec.Assignment.StepEscalation {
		if _, ok := index[number]; !ok {
			return nil, &DefinitionError{ID: spec.ID, Field: "assignment.step_escalation", Reason: fmt.Sprintf("unknown step %d", number)}
		}
	}
	if r := spec.Revision; r != nil && r.Target == RevisionStep {
		if _, ok := index[r.Step]; !ok {
			return nil, &DefinitionError{ID: spec.ID, Field: "revision.step", Reason: fmt.Sprintf("unknown step %d", r.Step)}
		}
	}

	return &Definition{spec: spec, index: index}, nil
}

// ID returns the definition id.
func (d *Definition) ID() string { return d.spec.ID }

// Version returns the definition version.
func (d *Definition) Version() int { return d.spec.Version }

// TenantID returns the owning tenant; empty for platform definitions.
func (d *Definition) TenantID() string { return d.spec.TenantID }

// Name returns the display name.
func (d *Definition) Name() string { return d.spec.Name }

// Assignment returns a copy of the assignment rules.
func (d *Definition) Assignment() AssignmentRules { return cloneSpec(d.spec).Assignment }

// Applicability returns a copy of the applicability conditions.
func (d *Definition) Applicability() Applicability { return cloneSpec(d.spec).Applicability }

// Revision returns the definition's revision policy, if any.
func (d *Definition) Revision() (RevisionPolicy, bool) {
	if d.spec.Revision == nil {
		return RevisionPolicy{}, false
	}
	return *d.spec.Revision, true
}

// Steps returns a copy of the ordered steps.
func (d *Definition) Steps() []Step {
	return append([]Step(nil), d.spec.Steps...)
}

// Step returns the step with the given number.
func (d *Definition) Step(number int) (Step, bool) {
	i, ok := d.index[number]
	if !ok {
		return Step{}, false
	}
	return d.spec.Steps[i], true
}

// HasStep reports whether number is a step of the definition.
func (d *Definition) HasStep(number int) bool {
	_, ok := d.index[number]
	return ok
}

// FirstStep returns the lowest step number.
func (d *Definition) FirstStep() int {
	return d.spec.Steps[0].Number
}

// StepsAfter returns the steps following number, in order.
func (d *Definition) StepsAfter(number int) []Step {
	i, ok := d.index[number]
	if !ok {
		return nil
	}
	return append([]Step(nil), d.spec.Steps[i+1:]...)
}

// Position returns the index of a step in declaration order.
func (d *Definition) Position(number int) (int, bool) {
	i, ok := d.index[number]
	return i, ok
}

// EscalationTarget returns the escalation descriptor for a step: the
// step's own EscalateTo, then the per-step override, then the definition
// default.
func (d *Definition) EscalationTarget(number int) string {
	if step, ok := d.Step(number); ok && step.EscalateTo != "" {
		return step.EscalateTo
	}
	if target := d.spec.Assignment.StepEscalation[number]; target != "" {
		return target
	}
	return d.spec.Assignment.EscalateTo
}

// Spec returns a copy of the declarative form.
func (d *Definition) Spec() DefinitionSpec {
	return cloneSpec(d.spec)
}

// Fingerprint is the canonical JSON of the spec. Equal definitions have
// equal fingerprints.
func (d *Definition) Fingerprint() string {
	data, _ := json.Marshal(d.spec)
	return string(data)
}

func cloneSpec(s DefinitionSpec) DefinitionSpec {
	out := s
	out.Steps = append([]Step(nil), s.Steps...)
	if s.Assignment.StepEscalation != nil {
		out.Assignment.StepEscalation = make(map[int]string, len(s.Assignment.StepEscalation))
		for k, v := range s.Assignment.StepEscalation {
			out.Assignment.StepEscalation[k] = v
		}
	}
	out.Applicability.AgentTypes = append([]string(nil), s.Applicability.AgentTypes...)
	out.Applicability.RiskLevels = append([]string(nil), s.Applicability.RiskLevels...)
	if s.Revision != nil {
		r := *s.Revision
		out.Revision = &r
	}
	return out
}
