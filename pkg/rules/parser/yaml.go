package parser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/rules/ast"
)

// MaxFileSize caps the size of a rule file.
const MaxFileSize = 10 * 1024 * 1024

// RuleSet is the result of loading one rule document.
type RuleSet struct {
	// TenantID is the document's tenant; empty for platform-wide rules.
	TenantID string
	Source   string
	Rules    []*ast.Rule
}

// Invalid returns the rules that failed to compile.
func (rs *RuleSet) Invalid() []*ast.Rule {
	var out []*ast.Rule
	for _, r := range rs.Rules {
		if !r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

type yamlRuleSet struct {
	TenantID string      `yaml:"tenant_id"`
	Rules    []yaml.Node `yaml:"rules"`
}

// ParseFile reads a YAML rule document from disk.
func ParseFile(path string) (*RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access rule file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("rule file %s: size %d exceeds maximum %d bytes", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseBytes(data, path)
}

// ParseBytes parses a YAML rule document:
//
//	tenant_id: acme
//	rules:
//	  - id: it-manager
//	    name: Route IT agents to the department manager
//	    condition: user.department = agent.department
//	    action: assign_to:user.department_manager
//	    priority: 10
//
// Only document-level problems (YAML syntax, wrong shape) are returned as an
// error. Problems in individual rules are recorded on those rules.
func ParseBytes(data []byte, source string) (*RuleSet, error) {
	var doc yamlRuleSet
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{
			Field:      "document",
			Position:   -1,
			Message:    fmt.Sprintf("%s: YAML parsing failed: %v", source, err),
			Suggestion: "check YAML syntax (indentation, colons, quotes)",
		}
	}

	specs := make([]RuleSpec, 0, len(doc.Rules))
	decodeErrs := make(map[int]error)
	for i := range doc.Rules {
		node := &doc.Rules[i]

		var spec RuleSpec
		if err := node.Decode(&spec); err != nil {
			// Keep a placeholder so the rule shows up in lint output.
			spec = RuleSpec{ID: fmt.Sprintf("%s#%d", source, i+1)}
			decodeErrs[i] = &ParseError{
				RuleID:   spec.ID,
				Field:    "rule",
				Position: -1,
				Line:     node.Line,
				Message:  fmt.Sprintf("cannot decode rule: %v", err),
			}
		}
		if spec.TenantID == "" {
			spec.TenantID = doc.TenantID
		}
		spec.Location = ast.Location{File: source, Line: node.Line}
		specs = append(specs, spec)
	}

	rules := CompileAll(specs, 0)
	for i, err := range decodeErrs {
		rules[i].Errors = []error{err}
	}

	return &RuleSet{
		TenantID: doc.TenantID,
		Source:   source,
		Rules:    rules,
	}, nil
}
