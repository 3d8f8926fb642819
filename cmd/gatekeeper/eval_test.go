package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func setEvalFlags(contextFile, instance string) {
	evalFlags.tenant = "acme"
	evalFlags.entityType = ""
	evalFlags.screen = ""
	evalFlags.contextFile = contextFile
	evalFlags.instance = instance
	evalFlags.execute = false
	evalFlags.explain = false
	evalFlags.actor = "system:rules"
	evalFlags.format = "json"
}

func TestEvaluateRules_DryRun(t *testing.T) {
	f := newFixture(t, "sqlite", "")
	contextFile := writeFile(t, filepath.Join(f.dir, "vendor.json"),
		`{"vendor": {"risk": "high", "owner": "owen@acme.test"}}`)
	setEvalFlags(contextFile, "wf-1")

	cmd, out := newTestCommand(context.Background())
	if err := evaluateRules(cmd, nil); err != nil {
		t.Fatalf("evaluateRules() error = %v", err)
	}

	var report struct {
		Matches   []matchView `json:"matches"`
		Executed  []struct{}  `json:"executed"`
		Suggested []struct {
			RuleID string `json:"rule_id"`
			Status string `json:"status"`
		} `json:"suggested"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if len(report.Matches) != 3 || len(report.Executed) != 0 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	want := []string{"fast-track", "flag-high", "owner"}
	for i, s := range report.Suggested {
		if s.RuleID != want[i] || s.Status != "suggested" {
			t.Errorf("suggested[%d] = %+v, want %s suggested", i, s, want[i])
		}
	}
	if len(report.Suggested) != len(want) {
		t.Errorf("suggested %d actions, want %d", len(report.Suggested), len(want))
	}
}

func TestEvaluateRules_Explain(t *testing.T) {
	f := newFixture(t, "memory", "")
	contextFile := writeFile(t, filepath.Join(f.dir, "vendor.yaml"), "vendor:\n  risk: low\n")
	setEvalFlags(contextFile, "")
	evalFlags.explain = true
	evalFlags.format = "text"

	cmd, out := newTestCommand(context.Background())
	if err := evaluateRules(cmd, nil); err != nil {
		t.Fatalf("evaluateRules() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "RULE") {
		t.Fatalf("output:\n%s", out.String())
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if fields[0] == "fast-track" && fields[2] != "false" {
			t.Errorf("fast-track matched a low risk vendor: %q", line)
		}
	}
}

func TestEvaluateRules_RequiresTenant(t *testing.T) {
	setEvalFlags("", "")
	evalFlags.tenant = ""
	cmd, _ := newTestCommand(context.Background())
	if err := evaluateRules(cmd, nil); err == nil {
		t.Error("evaluateRules() without --tenant succeeded")
	}
}

func TestReadEvalContext(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		content  string
		instance string
		path     string
		want     string
		wantErr  bool
	}{
		{"json", `{"vendor": {"risk": "high"}}`, "", "vendor.risk", "high", false},
		{"yaml", "vendor:\n  risk: low\n", "", "vendor.risk", "low", false},
		{"instance added", `{"vendor": {"risk": "high"}}`, "wf-9", "workflow.instance_id", "wf-9", false},
		{"instance merged", "workflow:\n  stage: intake\n", "wf-9", "workflow.stage", "intake", false},
		{"not an object", "- a\n- b\n", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(dir, tt.name+".yaml"), tt.content)
			ctx, err := readEvalContext(path, tt.instance)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readEvalContext() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got, _ := ctx.String(tt.path); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.path, got, tt.want)
			}
		})
	}

	ctx, err := readEvalContext("", "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := ctx.String("workflow.instance_id"); got != "wf-1" {
		t.Errorf("instance_id = %q", got)
	}
}
