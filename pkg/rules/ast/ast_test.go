package ast

import "testing"

func TestParseOperator(t *testing.T) {
	for op := Operator(0); op < OperatorCount; op++ {
		got, ok := ParseOperator(op.String())
		if !ok || got != op {
			t.Errorf("ParseOperator(%q) = %v, %v", op.String(), got, ok)
		}
	}
	if op, ok := ParseOperator("=="); !ok || op != OpEqual {
		t.Errorf("ParseOperator(==) = %v, %v", op, ok)
	}
	if _, ok := ParseOperator("~="); ok {
		t.Error("ParseOperator(~=) should fail")
	}
}

func TestOperatorsBySymbolLength(t *testing.T) {
	ops := OperatorsBySymbolLength()
	if len(ops) != int(OperatorCount) {
		t.Fatalf("got %d operators, want %d", len(ops), OperatorCount)
	}
	index := make(map[Operator]int)
	for i, op := range ops {
		index[op] = i
	}
	if index[OpGreaterEqual] > index[OpGreater] {
		t.Error(">= must be scanned before >")
	}
	if index[OpNotEqual] > index[OpEqual] {
		t.Error("!= must be scanned before =")
	}
	if index[OpLessEqual] > index[OpLess] {
		t.Error("<= must be scanned before <")
	}
}

func TestParseVerb(t *testing.T) {
	for v := Verb(0); v < VerbCount; v++ {
		got, ok := ParseVerb(v.String())
		if !ok || got != v {
			t.Errorf("ParseVerb(%q) = %v, %v", v.String(), got, ok)
		}
	}
	if _, ok := ParseVerb("delete"); ok {
		t.Error("ParseVerb(delete) should fail")
	}
	if v, ok := ParseVerb("ASSIGN"); !ok || v != VerbAssignTo {
		t.Errorf("ParseVerb(ASSIGN) = %v, %v", v, ok)
	}
}

func TestRuleAppliesTo(t *testing.T) {
	tests := []struct {
		name       string
		rule       Rule
		entityType string
		screen     string
		want       bool
	}{
		{"unscoped", Rule{}, "agent", "intake", true},
		{"entity match", Rule{EntityTypes: []string{"agent"}}, "agent", "intake", true},
		{"entity mismatch", Rule{EntityTypes: []string{"vendor"}}, "agent", "intake", false},
		{"screen mismatch", Rule{Screens: []string{"review"}}, "agent", "intake", false},
		{"all screens", Rule{Screens: []string{"all"}}, "agent", "intake", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.AppliesTo(tt.entityType, tt.screen); got != tt.want {
				t.Errorf("AppliesTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLess(t *testing.T) {
	a := &Rule{ID: "a", Priority: 1, Sequence: 5}
	b := &Rule{ID: "b", Priority: 2, Sequence: 1}
	c := &Rule{ID: "c", Priority: 1, Sequence: 6}
	d := &Rule{ID: "d", Priority: 1, Sequence: 6}

	if !Less(a, b) {
		t.Error("lower priority value should sort first")
	}
	if !Less(a, c) {
		t.Error("earlier sequence should break priority ties")
	}
	if !Less(c, d) || Less(d, c) {
		t.Error("ID should break full ties")
	}
}

func TestActionString(t *testing.T) {
	a := Action{Verb: VerbNotify, Target: "#security", Params: map[string]string{"severity": "high", "channel": "slack"}}
	want := "notify:#security {channel=slack, severity=high}"
	if got := a.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
