package source

import (
	"context"
	"sync"
	"testing"

	"mercator-hq/gatekeeper/pkg/rules/ast"
)

func testRule(tenant, id string) *ast.Rule {
	return &ast.Rule{ID: id, TenantID: tenant, Name: id, Active: true, Condition: ast.Always()}
}

func ruleIDs(rules []*ast.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func TestRegistry_LoadRulesIncludesPlatform(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Replace("acme", []*ast.Rule{testRule("acme", "a1")})
	reg.Replace("globex", []*ast.Rule{testRule("globex", "g1")})
	reg.Replace(PlatformTenant, []*ast.Rule{testRule("", "p1")})

	rules, err := reg.LoadRules(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if got := ruleIDs(rules); len(got) != 2 || got[0] != "a1" || got[1] != "p1" {
		t.Errorf("LoadRules(acme) = %v, want [a1 p1]", got)
	}

	platform, _ := reg.LoadRules(context.Background(), PlatformTenant)
	if len(platform) != 1 {
		t.Errorf("LoadRules(platform) = %v", ruleIDs(platform))
	}
	if reg.Count() != 3 {
		t.Errorf("Count() = %d, want 3", reg.Count())
	}
}

func TestRegistry_ReplaceIsolatesCallers(t *testing.T) {
	reg := NewRegistry(nil)
	input := []*ast.Rule{testRule("acme", "a1")}
	reg.Replace("acme", input)
	input[0] = testRule("acme", "mutated")

	before, _ := reg.LoadRules(context.Background(), "acme")
	reg.Replace("acme", []*ast.Rule{testRule("acme", "a2")})

	if before[0].ID != "a1" {
		t.Errorf("snapshot changed to %s", before[0].ID)
	}
	after, _ := reg.LoadRules(context.Background(), "acme")
	if after[0].ID != "a2" {
		t.Errorf("new set = %v", ruleIDs(after))
	}
}

func TestRegistry_ReplaceAllRemovesMissingTenants(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Replace("acme", []*ast.Rule{testRule("acme", "a1")})
	reg.ReplaceAll(map[string][]*ast.Rule{"globex": {testRule("globex", "g1")}})

	if tenants := reg.Tenants(); len(tenants) != 1 || tenants[0] != "globex" {
		t.Errorf("Tenants() = %v", tenants)
	}
}

func TestRegistry_UpsertAndRemove(t *testing.T) {
	reg := NewRegistry(nil)
	v0 := reg.Version()

	if err := reg.Upsert(testRule("acme", "a1")); err != nil {
		t.Fatal(err)
	}
	replacement := testRule("acme", "a1")
	replacement.Priority = 5
	if err := reg.Upsert(replacement); err != nil {
		t.Fatal(err)
	}
	rules, _ := reg.LoadRules(context.Background(), "acme")
	if len(rules) != 1 || rules[0].Priority != 5 {
		t.Errorf("Upsert did not replace: %+v", rules)
	}
	if err := reg.Upsert(&ast.Rule{}); err == nil {
		t.Error("expected error for rule without id")
	}

	if !reg.Remove("acme", "a1") {
		t.Error("Remove() = false for existing rule")
	}
	if reg.Remove("acme", "a1") {
		t.Error("Remove() = true for missing rule")
	}
	if reg.Version() <= v0 {
		t.Error("version did not advance")
	}
}

func TestRegistry_UpsertAssignsSequence(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Replace("", []*ast.Rule{{ID: "p1", Sequence: 7, Active: true, Condition: ast.Always()}})

	first := testRule("acme", "a1")
	if err := reg.Upsert(first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Upsert(testRule("acme", "a2")); err != nil {
		t.Fatal(err)
	}
	if err := reg.Upsert(testRule("acme", "a1")); err != nil {
		t.Fatal(err)
	}
	if first.Sequence != 0 {
		t.Error("Upsert modified the caller's rule")
	}

	rules, _ := reg.LoadRules(context.Background(), "acme")
	got := make(map[string]int64, len(rules))
	for _, r := range rules {
		got[r.ID] = r.Sequence
	}
	want := map[string]int64{"a1": 8, "a2": 9, "p1": 7}
	for id, seq := range want {
		if got[id] != seq {
			t.Errorf("%s sequence = %d, want %d", id, got[id], seq)
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Replace("acme", []*ast.Rule{testRule("acme", "a"), testRule("acme", "b")})
		}()
		go func() {
			defer wg.Done()
			rules, err := reg.LoadRules(context.Background(), "acme")
			if err != nil {
				t.Error(err)
			}
			if n := len(rules); n != 0 && n != 2 {
				t.Errorf("observed partial set of %d rules", n)
			}
		}()
	}
	wg.Wait()
}

func TestRegistry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRegistry(nil).LoadRules(ctx, "acme"); err == nil {
		t.Error("expected context error")
	}
}
