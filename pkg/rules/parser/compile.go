package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mercator-hq/gatekeeper/pkg/rules/ast"
)

// validate is shared; validator instances cache struct metadata and are safe
// for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// RuleSpec is the uncompiled, loosely typed form of a rule as stored by
// tenant operators or written in YAML rule files.
type RuleSpec struct {
	ID          string `yaml:"id" json:"id" validate:"required,max=128"`
	TenantID    string `yaml:"tenant_id" json:"tenant_id,omitempty"`
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description" json:"description,omitempty"`
	Type        string `yaml:"type" json:"type,omitempty" validate:"omitempty,oneof=conditional assignment auto_add"`

	// Condition is nil, an expression string, or a structured map.
	Condition any `yaml:"condition" json:"condition,omitempty"`
	// Action is a "<verb>:<target>" string or a descriptor map.
	Action any `yaml:"action" json:"action"`

	Priority int   `yaml:"priority" json:"priority"`
	Sequence int64 `yaml:"sequence" json:"sequence,omitempty" validate:"gte=0"`

	EntityTypes []string `yaml:"entity_types" json:"entity_types,omitempty" validate:"dive,required"`
	Screens     []string `yaml:"screens" json:"screens,omitempty" validate:"dive,required"`

	// Active defaults to true when unset.
	Active    *bool `yaml:"active" json:"active,omitempty"`
	Automatic bool  `yaml:"automatic" json:"automatic"`

	CreatedAt time.Time    `yaml:"created_at" json:"created_at,omitempty"`
	Location  ast.Location `yaml:"-" json:"-"`
}

// Compile turns a spec into a rule. It never fails: every problem is recorded
// in Rule.Errors, which makes the rule invalid. Conditions and actions are
// parsed exactly once here, never during evaluation.
func Compile(spec RuleSpec) *ast.Rule {
	rule := &ast.Rule{
		ID:          strings.TrimSpace(spec.ID),
		TenantID:    strings.TrimSpace(spec.TenantID),
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Type:        ast.RuleTypeConditional,
		Priority:    spec.Priority,
		Sequence:    spec.Sequence,
		EntityTypes: append([]string(nil), spec.EntityTypes...),
		Screens:     append([]string(nil), spec.Screens...),
		Active:      spec.Active == nil || *spec.Active,
		Automatic:   spec.Automatic,
		CreatedAt:   spec.CreatedAt,
		Location:    spec.Location,
	}
	if spec.Type != "" {
		rule.Type = ast.RuleType(spec.Type)
	}

	record := func(err error) {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.RuleID = rule.ID
			if pe.Line == 0 {
				pe.Line = spec.Location.Line
			}
		}
		rule.Errors = append(rule.Errors, err)
	}

	if err := validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				record(&ParseError{
					Field:    strings.ToLower(fe.Field()),
					Position: -1,
					Message:  validationMessage(fe),
				})
			}
		} else {
			record(err)
		}
	}

	cond, err := ParseCondition(spec.Condition)
	if err != nil {
		record(err)
	}
	rule.Condition = cond

	if spec.Action == nil {
		record(&ParseError{Field: "action", Position: -1, Message: "action is required"})
	} else {
		action, err := ParseAction(spec.Action)
		if err != nil {
			record(err)
		}
		rule.Action = action
	}

	return rule
}

// CompileAll compiles specs in order. Specs without an explicit sequence get
// base+index+1, so document order becomes creation order.
func CompileAll(specs []RuleSpec, base int64) []*ast.Rule {
	rules := make([]*ast.Rule, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if spec.Sequence == 0 {
			spec.Sequence = base + int64(i) + 1
		}
		rule := Compile(spec)
		if rule.ID != "" && seen[rule.ID] {
			rule.Errors = append(rule.Errors, &ParseError{
				RuleID:   rule.ID,
				Field:    "id",
				Position: -1,
				Line:     spec.Location.Line,
				Message:  "duplicate rule id",
			})
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
