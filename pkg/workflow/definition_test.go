package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestNewDefinition_Validation(t *testing.T) {
	tests := []struct {
		name      string
		spec      DefinitionSpec
		wantField string
	}{
		{
			name:      "missing id",
			spec:      DefinitionSpec{Name: "x", Steps: []Step{{Number: 1, Name: "a"}}},
			wantField: "DefinitionSpec.ID",
		},
		{
			name:      "no steps",
			spec:      DefinitionSpec{ID: "d", Name: "x"},
			wantField: "DefinitionSpec.Steps",
		},
		{
			name:      "zero step number",
			spec:      DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 0, Name: "a"}}},
			wantField: "DefinitionSpec.Steps[0].Number",
		},
		{
			name:      "duplicate step number",
			spec:      DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 1, Name: "a"}, {Number: 1, Name: "b"}}},
			wantField: "steps[1].number",
		},
		{
			name:      "decreasing step numbers",
			spec:      DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 2, Name: "a"}, {Number: 1, Name: "b"}}},
			wantField: "steps[1].number",
		},
		{
			name: "escalation for unknown step",
			spec: DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 1, Name: "a"}},
				Assignment: AssignmentRules{StepEscalation: map[int]string{3: "role:x"}}},
			wantField: "assignment.step_escalation",
		},
		{
			name: "revision to unknown step",
			spec: DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 1, Name: "a"}},
				Revision: &RevisionPolicy{Target: RevisionStep, Step: 4}},
			wantField: "revision.step",
		},
		{
			name: "unknown revision target",
			spec: DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 1, Name: "a"}},
				Revision: &RevisionPolicy{Target: "sideways"}},
			wantField: "DefinitionSpec.Revision.Target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDefinition(tt.spec)
			var defErr *DefinitionError
			if !errors.As(err, &defErr) {
				t.Fatalf("NewDefinition() error = %v, want *DefinitionError", err)
			}
			if defErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", defErr.Field, tt.wantField)
			}
		})
	}
}

func TestNewDefinition_Index(t *testing.T) {
	def, err := NewDefinition(DefinitionSpec{
		ID:   "d",
		Name: "Gapped",
		Steps: []Step{
			{Number: 10, Name: "a"},
			{Number: 20, Name: "b", EscalateTo: "user:b@x.test"},
			{Number: 30, Name: "c"},
		},
		Assignment: AssignmentRules{
			EscalateTo:     "role:admin",
			StepEscalation: map[int]string{30: "role:lead"},
		},
	})
	if err != nil {
		t.Fatalf("NewDefinition() error = %v", err)
	}

	if def.Version() != 1 {
		t.Errorf("Version() = %d, want 1", def.Version())
	}
	if def.FirstStep() != 10 {
		t.Errorf("FirstStep() = %d, want 10", def.FirstStep())
	}
	if def.HasStep(15) {
		t.Error("HasStep(15) = true")
	}
	if after := def.StepsAfter(10); len(after) != 2 || after[0].Number != 20 {
		t.Errorf("StepsAfter(10) = %+v", after)
	}
	if pos, ok := def.Position(30); !ok || pos != 2 {
		t.Errorf("Position(30) = %d, %v", pos, ok)
	}

	for step, want := range map[int]string{10: "role:admin", 20: "user:b@x.test", 30: "role:lead"} {
		if got := def.EscalationTarget(step); got != want {
			t.Errorf("EscalationTarget(%d) = %q, want %q", step, got, want)
		}
	}

	steps := def.Steps()
	steps[0].Name = "mutated"
	if s, _ := def.Step(10); s.Name != "a" {
		t.Error("Steps() exposed internal state")
	}
	spec := def.Spec()
	spec.Assignment.StepEscalation[30] = "mutated"
	if def.EscalationTarget(30) != "role:lead" {
		t.Error("Spec() exposed internal state")
	}
}

func TestDefinition_Fingerprint(t *testing.T) {
	spec := DefinitionSpec{ID: "d", Name: "x", Steps: []Step{{Number: 1, Name: "a", EscalateAfter: time.Hour}}}
	a, _ := NewDefinition(spec)
	b, _ := NewDefinition(spec)
	spec.Steps[0].Name = "b"
	c, _ := NewDefinition(spec)

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal definitions have different fingerprints")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different definitions share a fingerprint")
	}
}

func TestApplicability_Applies(t *testing.T) {
	tests := []struct {
		name      string
		app       Applicability
		agentType string
		risk      string
		want      bool
	}{
		{"empty matches", Applicability{}, "chatbot", "high", true},
		{"all matches", Applicability{AgentTypes: []string{"all"}, RiskLevels: []string{"ALL"}}, "chatbot", "low", true},
		{"listed", Applicability{AgentTypes: []string{"chatbot", "copilot"}, RiskLevels: []string{"high"}}, "copilot", "High", true},
		{"wrong risk", Applicability{RiskLevels: []string{"high", "critical"}}, "chatbot", "low", false},
		{"wrong agent type", Applicability{AgentTypes: []string{"copilot"}}, "chatbot", "high", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.app.Applies(tt.agentType, tt.risk); got != tt.want {
				t.Errorf("Applies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDefinitions(t *testing.T) {
	list := []byte(`
tenant_id: acme
definitions:
  - id: vendor
    name: Vendor onboarding
    steps:
      - number: 1
        name: Security
        assigned_role: security_reviewer
        escalate_after: 48h
  - id: platform
    tenant_id: other
    name: Other
    steps:
      - {number: 1, name: Only}
`)
	specs, err := ParseDefinitions(list)
	if err != nil {
		t.Fatalf("ParseDefinitions() error = %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].TenantID != "acme" || specs[1].TenantID != "other" {
		t.Errorf("tenants = %q, %q", specs[0].TenantID, specs[1].TenantID)
	}
	if specs[0].Steps[0].EscalateAfter != 48*time.Hour {
		t.Errorf("EscalateAfter = %v", specs[0].Steps[0].EscalateAfter)
	}

	single := []byte(`
id: single
name: Single
revision:
  target: first
steps:
  - {number: 1, name: A, can_skip: true}
`)
	specs, err = ParseDefinitions(single)
	if err != nil {
		t.Fatalf("ParseDefinitions(single) error = %v", err)
	}
	if len(specs) != 1 || specs[0].Revision == nil || specs[0].Revision.Target != RevisionFirst {
		t.Errorf("single = %+v", specs)
	}

	if _, err := ParseDefinitions([]byte("id: x\nname: y\nstepz: []\n")); err == nil {
		t.Error("unknown field accepted")
	}
	if specs, err := ParseDefinitions([]byte("# nothing here\n")); err != nil || len(specs) != 0 {
		t.Errorf("empty document = %v, %v", specs, err)
	}
}
