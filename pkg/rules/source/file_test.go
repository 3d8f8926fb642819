package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/rules/ast"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

const acmeRules = `tenant_id: acme
rules:
  - id: it-manager
    name: Route IT agents to the department manager
    condition: user.department = agent.department
    action: assign_to:user.department_manager
    priority: 10
  - id: broken
    name: Broken rule
    condition: user.department ~ "IT"
    action: flag:x
`

const platformRules = `rules:
  - id: high-risk
    name: Flag high risk vendors
    condition:
      risk_level: [high, critical]
    action: flag:high_risk
    automatic: true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileSource_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme.yaml"), acmeRules)
	writeFile(t, filepath.Join(dir, "platform", "risk.yml"), platformRules)
	writeFile(t, filepath.Join(dir, "README.md"), "not rules")
	writeFile(t, filepath.Join(dir, ".hidden", "x.yaml"), "rules: [")

	reg := NewRegistry(nil)
	src := NewFileSource(dir, reg, logging.Discard(), nil)

	result, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Files != 2 || result.Rules != 3 {
		t.Errorf("Files=%d Rules=%d, want 2 and 3", result.Files, result.Rules)
	}
	if len(result.Invalid) != 1 || result.Invalid[0].ID != "broken" {
		t.Errorf("Invalid = %v", ruleIDs(result.Invalid))
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %v", result.Failed)
	}

	rules, _ := reg.LoadRules(context.Background(), "acme")
	if got := ruleIDs(rules); len(got) != 3 || got[2] != "high-risk" {
		t.Errorf("LoadRules(acme) = %v", got)
	}
}

func TestFileSource_SequenceRunsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), `tenant_id: acme
rules:
  - id: zeta
    name: Zeta
    condition: risk_level = "high"
    action: flag:zeta
    priority: 10
  - id: omega
    name: Omega
    condition: risk_level = "high"
    action: flag:omega
    priority: 20
`)
	writeFile(t, filepath.Join(dir, "b.yaml"), `tenant_id: acme
rules:
  - id: alpha
    name: Alpha
    condition: risk_level = "high"
    action: flag:alpha
    priority: 10
`)

	reg := NewRegistry(nil)
	if _, err := NewFileSource(dir, reg, logging.Discard(), nil).Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	rules, _ := reg.LoadRules(context.Background(), "acme")
	sort.SliceStable(rules, func(i, j int) bool { return ast.Less(rules[i], rules[j]) })
	if got := ruleIDs(rules); strings.Join(got, ",") != "zeta,alpha,omega" {
		t.Errorf("ordered rules = %v, want zeta,alpha,omega", got)
	}
	seqs := make(map[string]int64)
	for _, r := range rules {
		seqs[r.ID] = r.Sequence
	}
	if seqs["zeta"] != 1 || seqs["omega"] != 2 || seqs["alpha"] != 3 {
		t.Errorf("sequences = %v", seqs)
	}
}

func TestFileSource_KeepsLastGoodOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "acme.yaml")
	writeFile(t, file, acmeRules)

	reg := NewRegistry(nil)
	src := NewFileSource(dir, reg, logging.Discard(), nil)
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, file, "rules: [unclosed")
	result, err := src.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, failed := result.Failed[file]; !failed {
		t.Errorf("Failed = %v, want %s", result.Failed, file)
	}
	rules, _ := reg.LoadRules(context.Background(), "acme")
	if len(rules) != 2 {
		t.Errorf("previous rules not kept: %v", ruleIDs(rules))
	}

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if reg.Count() != 0 {
		t.Errorf("rules of deleted file still active: %d", reg.Count())
	}
}

func TestFileSource_MissingPath(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing"), NewRegistry(nil), logging.Discard(), nil)
	if _, err := src.Load(context.Background()); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestFileSource_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme.yaml"), acmeRules)

	reg := NewRegistry(nil)
	src := NewFileSource(dir, reg, logging.Discard(), nil)
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "platform.yaml"), platformRules)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Count() == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watcher did not reload: %d rules", reg.Count())
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	calls := make(chan int, 10)
	for i := 0; i < 5; i++ {
		n := i
		d.Trigger(func() { calls <- n })
	}

	select {
	case n := <-calls:
		if n != 4 {
			t.Errorf("debouncer ran callback %d, want the last one", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}

	select {
	case n := <-calls:
		t.Errorf("unexpected extra call %d", n)
	case <-time.After(100 * time.Millisecond):
	}

	d.Stop()
	d.Trigger(func() { calls <- 99 })
	select {
	case <-calls:
		t.Error("stopped debouncer ran a callback")
	case <-time.After(100 * time.Millisecond):
	}
}
