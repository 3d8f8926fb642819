package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

const testRules = `tenant_id: acme
rules:
  - id: fast-track
    name: Send high risk vendors straight to compliance
    condition: vendor.risk = "high"
    action: step:2
    priority: 10
    automatic: true
  - id: flag-high
    name: Flag high risk vendors
    condition:
      vendor.risk: [high, critical]
    action: flag:high_risk
    priority: 20
    automatic: true
  - id: owner
    name: Suggest the vendor owner
    condition: vendor.owner != ""
    action: assign_to:vendor.owner
    priority: 30
`

const testWorkflows = `tenant_id: acme
definitions:
  - id: vendor-onboarding
    name: Vendor onboarding
    applicability:
      risk_levels: [high, critical]
    steps:
      - {number: 1, name: Security review, required: true, assigned_role: security_reviewer}
      - {number: 2, name: Compliance review, required: true, assigned_role: compliance}
      - {number: 3, name: Final approval, required: true, assign_to: "user:cfo@acme.test"}
`

// fixture is a temporary directory with rules, workflows and a config file
// pointing at them.
type fixture struct {
	dir       string
	rules     string
	workflows string
	config    string
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newFixture writes the test rules and workflows and a config using
// backend for both stores. extra is appended to the config verbatim.
func newFixture(t *testing.T, backend, extra string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		rules:     writeFile(t, filepath.Join(dir, "rules.yaml"), testRules),
		workflows: writeFile(t, filepath.Join(dir, "workflows.yaml"), testWorkflows),
	}
	cfg := fmt.Sprintf(`rules:
  path: %s
workflow:
  definitions_path: %s
storage:
  backend: %s
  sqlite:
    path: %s
audit:
  backend: %s
  sqlite:
    path: %s
directory:
  roles:
    acme:
      security_reviewer: [sam@acme.test]
      compliance: [cleo@acme.test]
telemetry:
  logging:
    level: error
%s`, f.rules, f.workflows, backend, filepath.Join(dir, "workflow.db"), backend, filepath.Join(dir, "audit.db"), extra)
	f.config = writeFile(t, filepath.Join(dir, "gatekeeper.yaml"), cfg)

	prev := cfgFile
	cfgFile = f.config
	t.Cleanup(func() { cfgFile = prev })
	return f
}

// newTestCommand returns a command whose output is captured.
func newTestCommand(ctx context.Context) (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(ctx)
	return cmd, &buf
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}
