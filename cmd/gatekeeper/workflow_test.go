package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type instanceJSON struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CurrentStep int    `json:"current_step"`
	Steps       []struct {
		StepNumber  int    `json:"step_number"`
		Status      string `json:"status"`
		Assignee    string `json:"assignee"`
		CompletedBy string `json:"completed_by"`
	} `json:"steps"`
}

func decodeInstance(t *testing.T, data []byte) instanceJSON {
	t.Helper()
	var inst instanceJSON
	if err := json.Unmarshal(data, &inst); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, data)
	}
	return inst
}

func startTestWorkflow(t *testing.T) instanceJSON {
	t.Helper()
	workflowStartFlags.tenant = "acme"
	workflowStartFlags.definition = ""
	workflowStartFlags.version = 0
	workflowStartFlags.agentType = ""
	workflowStartFlags.risk = "high"
	workflowStartFlags.entityType = "vendor"
	workflowStartFlags.entityID = "v-42"
	workflowStartFlags.submitter = "ann@acme.test"
	workflowStartFlags.contextFile = ""
	workflowStartFlags.format = "json"

	cmd, out := newTestCommand(context.Background())
	if err := startWorkflow(cmd, nil); err != nil {
		t.Fatalf("startWorkflow() error = %v", err)
	}
	return decodeInstance(t, out.Bytes())
}

func setApplyFlags(actor, format string) {
	workflowApplyFlags.actor = actor
	workflowApplyFlags.notes = ""
	workflowApplyFlags.assignee = ""
	workflowApplyFlags.step = 0
	workflowApplyFlags.expectedStep = 0
	workflowApplyFlags.format = format
}

func TestWorkflowLifecycle(t *testing.T) {
	f := newFixture(t, "sqlite", "")
	ctx := context.Background()

	inst := startTestWorkflow(t)
	if inst.ID == "" || inst.CurrentStep != 1 {
		t.Fatalf("started instance = %+v", inst)
	}
	if inst.Steps[0].Assignee != "sam@acme.test" {
		t.Errorf("step 1 assignee = %q, want sam@acme.test", inst.Steps[0].Assignee)
	}

	setApplyFlags("sam@acme.test", "json")
	workflowApplyFlags.notes = "security ok"
	workflowApplyFlags.expectedStep = 1
	cmd, out := newTestCommand(ctx)
	if err := applyWorkflowAction(cmd, []string{inst.ID, "approve"}); err != nil {
		t.Fatalf("approve error = %v", err)
	}
	approved := decodeInstance(t, out.Bytes())
	if approved.CurrentStep != 2 || approved.Steps[0].CompletedBy != "sam@acme.test" {
		t.Fatalf("after approve = %+v", approved)
	}

	// The instance has moved on, so a stale approval is refused.
	setApplyFlags("sam@acme.test", "json")
	workflowApplyFlags.expectedStep = 1
	cmd, _ = newTestCommand(ctx)
	if err := applyWorkflowAction(cmd, []string{inst.ID, "approve"}); err == nil {
		t.Error("stale approve succeeded")
	}

	workflowShowFlags.format = "text"
	cmd, out = newTestCommand(ctx)
	if err := showWorkflow(cmd, []string{inst.ID}); err != nil {
		t.Fatalf("showWorkflow() error = %v", err)
	}
	for _, want := range []string{"Instance:   " + inst.ID, "vendor-onboarding@1", "2*", "cleo@acme.test", "SEQ", "approve"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, out.String())
		}
	}

	workflowListFlags.tenant = "acme"
	workflowListFlags.statuses = nil
	workflowListFlags.limit = 0
	workflowListFlags.format = "csv"
	cmd, out = newTestCommand(ctx)
	if err := listWorkflows(cmd, nil); err != nil {
		t.Fatalf("listWorkflows() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], inst.ID+",acme,vendor-onboarding@1,vendor/v-42,") {
		t.Errorf("list output:\n%s", out.String())
	}

	auditListFlags = auditQueryFlags{instance: inst.ID}
	auditListFormat = "json"
	cmd, out = newTestCommand(ctx)
	if err := listAudit(cmd, nil); err != nil {
		t.Fatalf("listAudit() error = %v", err)
	}
	var entries []struct {
		Sequence int64  `json:"sequence"`
		Action   string `json:"action"`
		Actor    string `json:"actor"`
	}
	if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
		t.Fatalf("audit list is not JSON: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != "start" || entries[1].Action != "approve" || entries[1].Actor != "sam@acme.test" {
		t.Errorf("audit entries = %+v", entries)
	}

	auditVerifyFlags.all = true
	auditVerifyFlags.format = "text"
	cmd, out = newTestCommand(ctx)
	if err := verifyAudit(cmd, nil); err != nil {
		t.Fatalf("verifyAudit() error = %v", err)
	}
	if !strings.Contains(out.String(), inst.ID) || !strings.Contains(out.String(), "ok") {
		t.Errorf("verify output:\n%s", out.String())
	}

	exported := filepath.Join(f.dir, "audit.csv")
	auditExportFlags = auditQueryFlags{tenant: "acme"}
	auditExportOpts.format = "csv"
	auditExportOpts.output = exported
	cmd, _ = newTestCommand(ctx)
	if err := exportAudit(cmd, nil); err != nil {
		t.Fatalf("exportAudit() error = %v", err)
	}
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	if rows := strings.Split(strings.TrimSpace(string(data)), "\n"); len(rows) != 3 {
		t.Errorf("exported %d rows, want header plus 2:\n%s", len(rows), data)
	}
}

func TestApplyWorkflowAction_Validation(t *testing.T) {
	newFixture(t, "memory", "")
	tests := []struct {
		name   string
		actor  string
		action string
	}{
		{"missing actor", "", "approve"},
		{"unknown action", "sam@acme.test", "launch"},
		{"system action", "sam@acme.test", "route"},
		{"unknown instance", "sam@acme.test", "comment"},
		{"approve without expected step", "sam@acme.test", "approve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setApplyFlags(tt.actor, "text")
			cmd, _ := newTestCommand(context.Background())
			if err := applyWorkflowAction(cmd, []string{"missing", tt.action}); err == nil {
				t.Error("applyWorkflowAction() succeeded")
			}
		})
	}
}

func TestVerifyAudit_RequiresTarget(t *testing.T) {
	auditVerifyFlags.all = false
	cmd, _ := newTestCommand(context.Background())
	if err := verifyAudit(cmd, nil); err == nil {
		t.Error("verifyAudit() without instances succeeded")
	}
}
