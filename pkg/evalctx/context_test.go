package evalctx

import (
	"testing"
	"time"
)

type testUser struct {
	ID                string   `json:"id"`
	Department        string   `json:"department"`
	DepartmentManager string   `json:"department_manager"`
	Roles             []string `json:"roles"`
	Level             int      `json:"level"`
	internal          string
}

func TestBuilder_FlattensStructs(t *testing.T) {
	ctx, err := NewBuilder().
		Entity(EntityUser, testUser{ID: "u1", Department: "IT", DepartmentManager: "m@x.com", Roles: []string{"admin"}, Level: 3, internal: "x"}).
		Entity(EntityAgent, map[string]any{"department": "IT", "risk": 7}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"user.department", "IT", true},
		{"user.department_manager", "m@x.com", true},
		{"user.level", float64(3), true},
		{"agent.risk", float64(7), true},
		{"user.internal", nil, false},
		{"user.missing", nil, false},
		{"vendor.name", nil, false},
		{"user.department.sub", nil, false},
		{"", nil, false},
		{"user..department", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ctx.Lookup(tt.path)
			if ok != tt.ok {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Lookup(%q) = %v (%T), want %v", tt.path, got, got, tt.want)
			}
		})
	}

	roles, ok := ctx.Lookup("user.roles")
	if !ok {
		t.Fatal("user.roles not found")
	}
	list, ok := roles.([]any)
	if !ok || len(list) != 1 || list[0] != "admin" {
		t.Errorf("user.roles = %#v, want []any{\"admin\"}", roles)
	}
}

func TestContext_IsImmutable(t *testing.T) {
	src := map[string]any{
		"user": map[string]any{"department": "IT"},
	}
	ctx, err := FromMap(src)
	if err != nil {
		t.Fatalf("FromMap() error = %v", err)
	}

	src["user"].(map[string]any)["department"] = "HR"
	if v, _ := ctx.String("user.department"); v != "IT" {
		t.Errorf("source mutation leaked into context: got %q", v)
	}

	m := ctx.Map()
	m["user"].(map[string]any)["department"] = "Finance"
	if v, _ := ctx.String("user.department"); v != "IT" {
		t.Errorf("Map() mutation leaked into context: got %q", v)
	}
}

func TestContext_Digest(t *testing.T) {
	a, _ := FromMap(map[string]any{"a": 1, "b": map[string]any{"c": "x"}})
	b, _ := FromMap(map[string]any{"b": map[string]any{"c": "x"}, "a": 1.0})
	c, _ := FromMap(map[string]any{"a": 2})

	if a.Digest() == "" {
		t.Fatal("Digest() is empty")
	}
	if a.Digest() != b.Digest() {
		t.Errorf("equal contexts have different digests: %s vs %s", a.Digest(), b.Digest())
	}
	if a.Digest() == c.Digest() {
		t.Error("different contexts share a digest")
	}
	if Empty().Digest() == "" {
		t.Error("empty context digest is empty")
	}
}

func TestContext_DottedTopLevelKey(t *testing.T) {
	ctx, err := FromMap(map[string]any{"agent.type": "chatbot"})
	if err != nil {
		t.Fatalf("FromMap() error = %v", err)
	}
	if v, ok := ctx.String("agent.type"); !ok || v != "chatbot" {
		t.Errorf("String(agent.type) = %q, %v", v, ok)
	}
}

func TestBuilder_Errors(t *testing.T) {
	_, err := NewBuilder().Set("", "x").Build()
	if err == nil {
		t.Error("expected error for empty attribute name")
	}

	_, err = NewBuilder().Set("bad", map[int]string{1: "x"}).Build()
	if err == nil {
		t.Error("expected error for non-string map keys")
	}

	ctx, err := NewBuilder().Set("skip", nil).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if ctx.Has("skip") {
		t.Error("nil value should not be stored")
	}
}

func TestBuilder_NormalizesTime(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := NewBuilder().Set("created", ts).MustBuild()
	if v, _ := ctx.String("created"); v != "2024-05-01T12:00:00Z" {
		t.Errorf("created = %q", v)
	}
}
