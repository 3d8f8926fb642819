package workflow

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/assignment"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testResolver(extra map[string][]string) *assignment.Resolver {
	acme := map[string][]string{
		"security_reviewer": {"sam@acme.test"},
		"compliance":        {"cleo@acme.test", "ann@acme.test"},
		"tech_lead":         {"tina@acme.test"},
	}
	for role, users := range extra {
		acme[role] = users
	}
	dir := assignment.NewStaticDirectory(config.DirectoryConfig{
		Roles: map[string]map[string][]string{
			"acme": acme,
			"*":    {"platform_admin": {"root@platform.test"}},
		},
	})
	return assignment.NewResolver(dir, logging.Discard())
}

func onboardingSpec() DefinitionSpec {
	return DefinitionSpec{
		ID:       "vendor-onboarding",
		TenantID: "acme",
		Name:     "Vendor onboarding",
		Steps: []Step{
			{Number: 1, Name: "Security review", Type: "security", Required: true, AssignedRole: "security_reviewer", EscalateTo: "user:ciso@acme.test"},
			{Number: 2, Name: "Compliance review", Type: "compliance", Required: true, AssignedRole: "compliance"},
			{Number: 3, Name: "Technical review", Type: "technical", Required: true, AssignedRole: "tech_lead"},
			{Number: 4, Name: "Business approval", Type: "business", Required: true, AssignTo: "business_owner"},
			{Number: 5, Name: "Final approval", Type: "final", Required: true, AssignTo: "user:cfo@acme.test"},
		},
		Assignment: AssignmentRules{EscalateTo: "role:platform_admin"},
	}
}

func mustDefinition(t *testing.T, spec DefinitionSpec) *Definition {
	t.Helper()
	def, err := NewDefinition(spec)
	if err != nil {
		t.Fatalf("NewDefinition() error = %v", err)
	}
	return def
}

func draftInstance(def *Definition) *Instance {
	inst := &Instance{
		ID:                "wf-1",
		TenantID:          "acme",
		DefinitionID:      def.ID(),
		DefinitionVersion: def.Version(),
		EntityType:        "vendor",
		EntityID:          "v-42",
		Submitter:         "sub@acme.test",
		Attributes:        map[string]any{"business_owner": "bo@acme.test"},
		Status:            StatusPending,
		Version:           1,
		StartedAt:         testNow,
	}
	for _, step := range def.Steps() {
		inst.Steps = append(inst.Steps, StepRecord{StepNumber: step.Number, Status: StepPending})
	}
	return inst
}

func begin(t *testing.T, m *Machine, def *Definition) *Instance {
	t.Helper()
	tr, err := m.Begin(context.Background(), def, draftInstance(def), "sub@acme.test", testNow)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return tr.Instance
}

func apply(t *testing.T, m *Machine, def *Definition, inst *Instance, action Action, payload map[string]any) *Instance {
	t.Helper()
	tr, err := m.Apply(context.Background(), def, inst, Request{Action: action, Actor: "actor@acme.test", Payload: payload}, testNow)
	if err != nil {
		t.Fatalf("Apply(%s) error = %v", action, err)
	}
	return tr.Instance
}

func recordOf(t *testing.T, inst *Instance, number int) *StepRecord {
	t.Helper()
	rec, ok := inst.Record(number)
	if !ok {
		t.Fatalf("no record for step %d", number)
	}
	return rec
}

func TestMachine_Begin(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())

	tr, err := m.Begin(context.Background(), def, draftInstance(def), "sub@acme.test", testNow)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	inst := tr.Instance
	if inst.CurrentStep != 1 || inst.Status != StatusPending {
		t.Errorf("step/status = %d/%s, want 1/pending", inst.CurrentStep, inst.Status)
	}
	rec := recordOf(t, inst, 1)
	if rec.Assignee != "sam@acme.test" || rec.Role != "security_reviewer" {
		t.Errorf("record 1 = %+v", rec)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(testNow) {
		t.Errorf("StartedAt = %v", rec.StartedAt)
	}
	if tr.Action != ActionStart || tr.Assignment == nil {
		t.Errorf("transition = %+v", tr)
	}
}

func TestMachine_ApproveAdvances(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)
	before := inst.Clone()

	tr, err := m.Apply(context.Background(), def, inst, Request{Action: ActionApprove, Actor: "sam@acme.test", Notes: "ok"}, testNow)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	next := tr.Instance

	if next.CurrentStep != 2 || next.Status != StatusInProgress {
		t.Errorf("step/status = %d/%s, want 2/in_progress", next.CurrentStep, next.Status)
	}
	if next.Version != inst.Version+1 {
		t.Errorf("Version = %d, want %d", next.Version, inst.Version+1)
	}
	if rec := recordOf(t, next, 1); rec.Status != StepCompleted || rec.CompletedBy != "sam@acme.test" || rec.Notes != "ok" {
		t.Errorf("record 1 = %+v", rec)
	}
	rec2 := recordOf(t, next, 2)
	if rec2.Status != StepPending || rec2.Assignee != "" || rec2.Role != "compliance" {
		t.Errorf("record 2 = %+v", rec2)
	}
	if !reflect.DeepEqual(rec2.Candidates, []string{"ann@acme.test", "cleo@acme.test"}) {
		t.Errorf("candidates = %v", rec2.Candidates)
	}
	if tr.PreviousStep != 1 || tr.NewStep != 2 || tr.PreviousStatus != StatusPending || tr.NewStatus != StatusInProgress {
		t.Errorf("transition = %+v", tr)
	}
	if !reflect.DeepEqual(inst, before) {
		t.Error("Apply modified its input")
	}
}

func TestMachine_RejectSkipsRemaining(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)
	inst = apply(t, m, def, inst, ActionApprove, nil)
	inst = apply(t, m, def, inst, ActionApprove, nil)
	inst = apply(t, m, def, inst, ActionReject, nil)

	if inst.Status != StatusRejected || inst.CompletedAt == nil {
		t.Errorf("status = %s, completed = %v", inst.Status, inst.CompletedAt)
	}
	want := map[int]StepStatus{1: StepCompleted, 2: StepCompleted, 3: StepCompleted, 4: StepSkipped, 5: StepSkipped}
	for number, status := range want {
		if got := recordOf(t, inst, number).Status; got != status {
			t.Errorf("step %d = %s, want %s", number, got, status)
		}
	}

	_, err := m.Apply(context.Background(), def, inst, Request{Action: ActionApprove}, testNow)
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("approve after reject error = %v, want ErrTerminal", err)
	}
}

func TestMachine_ApproveAll(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)
	for i := 0; i < 5; i++ {
		inst = apply(t, m, def, inst, ActionApprove, nil)
	}
	if inst.Status != StatusApproved || inst.CurrentStep != 5 {
		t.Errorf("status/step = %s/%d", inst.Status, inst.CurrentStep)
	}
	if rec := recordOf(t, inst, 4); rec.Assignee != "bo@acme.test" {
		t.Errorf("path assignment = %q", rec.Assignee)
	}
}

func TestMachine_SkippableSteps(t *testing.T) {
	spec := DefinitionSpec{
		ID:   "optional",
		Name: "Optional steps",
		Steps: []Step{
			{Number: 1, Name: "Intake", Required: true, AssignTo: "user:a@acme.test"},
			{Number: 2, Name: "Optional, no auto", CanSkip: true, AssignedRole: "tech_lead"},
			{Number: 3, Name: "Optional, unresolvable", CanSkip: true, AutoAssign: true, AssignedRole: "nobody"},
			{Number: 4, Name: "Optional, auto", CanSkip: true, AutoAssign: true, AssignedRole: "tech_lead"},
			{Number: 5, Name: "Optional tail", CanSkip: true},
		},
	}
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, spec)
	inst := begin(t, m, def)

	inst = apply(t, m, def, inst, ActionApprove, nil)
	if inst.CurrentStep != 4 {
		t.Fatalf("CurrentStep = %d, want 4", inst.CurrentStep)
	}
	for _, n := range []int{2, 3} {
		if got := recordOf(t, inst, n).Status; got != StepSkipped {
			t.Errorf("step %d = %s, want skipped", n, got)
		}
	}
	if rec := recordOf(t, inst, 4); rec.Assignee != "tina@acme.test" {
		t.Errorf("step 4 assignee = %q", rec.Assignee)
	}

	inst = apply(t, m, def, inst, ActionApprove, nil)
	if inst.Status != StatusApproved {
		t.Errorf("status = %s, want approved", inst.Status)
	}
	if got := recordOf(t, inst, 5).Status; got != StepSkipped {
		t.Errorf("step 5 = %s, want skipped", got)
	}
}

func TestMachine_RequestRevision(t *testing.T) {
	tests := []struct {
		name       string
		policy     *RevisionPolicy
		fallback   RevisionPolicy
		wantReturn int
	}{
		{name: "default same", wantReturn: 3},
		{name: "service default previous", fallback: RevisionPolicy{Target: RevisionPrevious}, wantReturn: 2},
		{name: "definition first", policy: &RevisionPolicy{Target: RevisionFirst}, wantReturn: 1},
		{name: "definition step", policy: &RevisionPolicy{Target: RevisionStep, Step: 2}, fallback: RevisionPolicy{Target: RevisionFirst}, wantReturn: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := onboardingSpec()
			spec.Revision = tt.policy
			def := mustDefinition(t, spec)
			m := NewMachine(testResolver(nil), tt.fallback)

			inst := begin(t, m, def)
			inst = apply(t, m, def, inst, ActionApprove, nil)
			inst = apply(t, m, def, inst, ActionApprove, nil)

			tr, err := m.Apply(context.Background(), def, inst, Request{Action: ActionRequestRevision, Actor: "tina@acme.test"}, testNow)
			if err != nil {
				t.Fatalf("request_revision error = %v", err)
			}
			revised := tr.Instance
			if !revised.AwaitingRevision || revised.ReturnStep != tt.wantReturn || revised.CurrentStep != 3 {
				t.Fatalf("awaiting/return/current = %v/%d/%d", revised.AwaitingRevision, revised.ReturnStep, revised.CurrentStep)
			}
			if tr.Assignment == nil || tr.Assignment.Assignee != "sub@acme.test" {
				t.Errorf("revision owner = %+v", tr.Assignment)
			}
			for n := tt.wantReturn; n <= 3; n++ {
				rec := recordOf(t, revised, n)
				if rec.Status != StepPending || rec.Revision != 1 || rec.CompletedBy != "" {
					t.Errorf("step %d after revision = %+v", n, rec)
				}
			}

			resumed := apply(t, m, def, revised, ActionResubmit, nil)
			if resumed.AwaitingRevision || resumed.CurrentStep != tt.wantReturn || resumed.ReturnStep != 0 {
				t.Errorf("after resubmit awaiting/current = %v/%d", resumed.AwaitingRevision, resumed.CurrentStep)
			}
		})
	}
}

func TestMachine_InvalidStateActionBlocks(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)
	inst = apply(t, m, def, inst, ActionApprove, nil)
	inst = apply(t, m, def, inst, ActionRequestRevision, nil)

	tr, err := m.Apply(context.Background(), def, inst, Request{Action: ActionApprove}, testNow)
	var cfgErr *WorkflowConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("approve while awaiting revision error = %v, want *WorkflowConfigError", err)
	}
	if tr == nil || tr.NewStatus != StatusBlocked || tr.Instance.BlockedFrom != StatusInProgress || tr.Instance.BlockedReason == "" {
		t.Fatalf("transition = %+v", tr)
	}
	blocked := tr.Instance

	if _, err := m.Apply(context.Background(), def, blocked, Request{Action: ActionResubmit}, testNow); !errors.Is(err, ErrBlocked) {
		t.Errorf("resubmit on blocked error = %v, want ErrBlocked", err)
	}

	unblocked := apply(t, m, def, blocked, ActionUnblock, nil)
	if unblocked.Status != StatusInProgress || unblocked.BlockedReason != "" || !unblocked.AwaitingRevision {
		t.Errorf("after unblock = %s/%q/%v", unblocked.Status, unblocked.BlockedReason, unblocked.AwaitingRevision)
	}
	if _, err := m.Apply(context.Background(), def, unblocked, Request{Action: ActionUnblock}, testNow); !errors.Is(err, ErrNoChange) {
		t.Errorf("unblock on active instance error = %v, want ErrNoChange", err)
	}
}

func TestMachine_Escalate(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)

	escalated := apply(t, m, def, inst, ActionEscalate, nil)
	if rec := recordOf(t, escalated, 1); rec.Assignee != "ciso@acme.test" || !rec.Escalated {
		t.Errorf("step escalation = %+v", rec)
	}
	if escalated.CurrentStep != 1 {
		t.Errorf("escalation moved the step to %d", escalated.CurrentStep)
	}

	inst = apply(t, m, def, inst, ActionApprove, nil)
	escalated = apply(t, m, def, inst, ActionEscalate, nil)
	if rec := recordOf(t, escalated, 2); rec.Assignee != "root@platform.test" {
		t.Errorf("definition escalation = %+v", rec)
	}

	spec := onboardingSpec()
	spec.Assignment.EscalateTo = ""
	noTarget := mustDefinition(t, spec)
	tr, err := m.Apply(context.Background(), noTarget, inst, Request{Action: ActionEscalate}, testNow)
	var cfgErr *WorkflowConfigError
	if !errors.As(err, &cfgErr) || tr == nil || tr.NewStatus != StatusBlocked {
		t.Errorf("missing escalation target = %v, %+v", err, tr)
	}

	spec.Assignment.EscalateTo = "role:nobody"
	unresolvable := mustDefinition(t, spec)
	tr, err = m.Apply(context.Background(), unresolvable, inst, Request{Action: ActionEscalate}, testNow)
	var unresolved *assignment.UnresolvedAssignmentError
	if !errors.As(err, &unresolved) || tr == nil || tr.NewStatus != StatusBlocked {
		t.Errorf("unresolvable escalation = %v, %+v", err, tr)
	}
}

func TestMachine_UnresolvedStepBlocksAdvance(t *testing.T) {
	spec := onboardingSpec()
	spec.Steps[1].AssignedRole = "ghost"
	def := mustDefinition(t, spec)
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	inst := begin(t, m, def)

	tr, err := m.Apply(context.Background(), def, inst, Request{Action: ActionApprove, Actor: "sam@acme.test"}, testNow)
	var unresolved *assignment.UnresolvedAssignmentError
	if !errors.As(err, &unresolved) {
		t.Fatalf("error = %v, want *UnresolvedAssignmentError", err)
	}
	blocked := tr.Instance
	if blocked.Status != StatusBlocked || blocked.CurrentStep != 2 {
		t.Fatalf("status/step = %s/%d, want blocked/2", blocked.Status, blocked.CurrentStep)
	}
	if rec := recordOf(t, blocked, 1); rec.Status != StepCompleted {
		t.Errorf("step 1 = %s, want completed", rec.Status)
	}

	tr, err = m.Apply(context.Background(), def, blocked, Request{Action: ActionUnblock}, testNow)
	if !errors.As(err, &unresolved) || tr.NewStatus != StatusBlocked {
		t.Errorf("unblock without holders = %v, %s", err, tr.NewStatus)
	}
	if tr.Instance.BlockedFrom != StatusInProgress {
		t.Errorf("BlockedFrom = %s", tr.Instance.BlockedFrom)
	}

	fixed := NewMachine(testResolver(map[string][]string{"ghost": {"gus@acme.test"}}), RevisionPolicy{})
	restored := apply(t, fixed, def, tr.Instance, ActionUnblock, nil)
	if restored.Status != StatusInProgress || recordOf(t, restored, 2).Assignee != "gus@acme.test" {
		t.Errorf("after unblock = %s, %+v", restored.Status, recordOf(t, restored, 2))
	}
}

func TestMachine_RejectedRequests(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"stale step", Request{Action: ActionApprove, ExpectedStep: 2}, ErrStaleStep},
		{"unknown action", Request{Action: "promote"}, ErrUnknownAction},
		{"forward without assignee", Request{Action: ActionForward}, ErrInvalidPayload},
		{"forward to nobody", Request{Action: ActionForward, Payload: map[string]any{"assignee": "role:nobody"}}, ErrInvalidPayload},
		{"route without step", Request{Action: ActionRoute}, ErrInvalidPayload},
		{"route to current", Request{Action: ActionRoute, Payload: map[string]any{"step": 1}}, ErrNoChange},
		{"assign current owner", Request{Action: ActionAssign, Payload: map[string]any{"assignee": "role:security_reviewer"}}, ErrNoChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := m.Apply(context.Background(), def, inst, tt.req, testNow)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if tr != nil {
				t.Errorf("unexpected transition %+v", tr)
			}
		})
	}
}

func TestMachine_ForwardAssignComment(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)

	commented := apply(t, m, def, inst, ActionComment, nil)
	if recordOf(t, commented, 1).Status != StepInProgress || commented.Status != StatusInProgress {
		t.Errorf("comment did not start the step")
	}

	forwarded := apply(t, m, def, commented, ActionForward, map[string]any{"assignee": "fay@acme.test"})
	rec := recordOf(t, forwarded, 1)
	if rec.Assignee != "fay@acme.test" || rec.Role != "" || forwarded.CurrentStep != 1 || rec.Status != StepInProgress {
		t.Errorf("forwarded record = %+v", rec)
	}

	assigned := apply(t, m, def, forwarded, ActionAssign, map[string]any{"assignee": "role:compliance"})
	if rec := recordOf(t, assigned, 1); rec.Role != "compliance" || len(rec.Candidates) != 2 {
		t.Errorf("assigned record = %+v", rec)
	}
}

func TestMachine_Route(t *testing.T) {
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	def := mustDefinition(t, onboardingSpec())
	inst := begin(t, m, def)

	forward := apply(t, m, def, inst, ActionRoute, map[string]any{"step": 4})
	if forward.CurrentStep != 4 || recordOf(t, forward, 4).Assignee != "bo@acme.test" {
		t.Fatalf("route forward = step %d, %+v", forward.CurrentStep, recordOf(t, forward, 4))
	}
	for _, n := range []int{1, 2, 3} {
		if got := recordOf(t, forward, n).Status; got != StepSkipped {
			t.Errorf("step %d = %s, want skipped", n, got)
		}
	}

	back := apply(t, m, def, forward, ActionRoute, map[string]any{"step": float64(2)})
	if back.CurrentStep != 2 {
		t.Fatalf("route back = step %d", back.CurrentStep)
	}
	for _, n := range []int{2, 3, 4} {
		if got := recordOf(t, back, n).Status; got != StepPending {
			t.Errorf("step %d = %s, want pending", n, got)
		}
	}

	tr, err := m.Apply(context.Background(), def, back, Request{Action: ActionRoute, Payload: map[string]any{"step": "9"}}, testNow)
	var cfgErr *WorkflowConfigError
	if !errors.As(err, &cfgErr) || tr.NewStatus != StatusBlocked {
		t.Errorf("route to unknown step = %v", err)
	}
}

func TestMachine_Cancel(t *testing.T) {
	spec := onboardingSpec()
	spec.Steps[1].AssignedRole = "ghost"
	def := mustDefinition(t, spec)
	m := NewMachine(testResolver(nil), RevisionPolicy{})
	inst := begin(t, m, def)

	tr, _ := m.Apply(context.Background(), def, inst, Request{Action: ActionApprove}, testNow)
	cancelled := apply(t, m, def, tr.Instance, ActionCancel, nil)
	if cancelled.Status != StatusCancelled || cancelled.BlockedReason != "" {
		t.Errorf("status = %s, reason = %q", cancelled.Status, cancelled.BlockedReason)
	}
	for _, n := range []int{2, 3, 4, 5} {
		if got := recordOf(t, cancelled, n).Status; got != StepSkipped {
			t.Errorf("step %d = %s, want skipped", n, got)
		}
	}
	if _, err := m.Apply(context.Background(), def, cancelled, Request{Action: ActionCancel}, testNow); !errors.Is(err, ErrTerminal) {
		t.Errorf("cancel twice error = %v, want ErrTerminal", err)
	}
}

func TestMachine_BeginAllSkipped(t *testing.T) {
	def := mustDefinition(t, DefinitionSpec{
		ID:    "noop",
		Name:  "Nothing required",
		Steps: []Step{{Number: 1, Name: "a", CanSkip: true}, {Number: 2, Name: "b", CanSkip: true}},
	})
	m := NewMachine(nil, RevisionPolicy{})
	inst := begin(t, m, def)
	if inst.Status != StatusApproved || inst.CurrentStep != 2 {
		t.Errorf("status/step = %s/%d", inst.Status, inst.CurrentStep)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("request_revision"); err != nil || a != ActionRequestRevision {
		t.Errorf("ParseAction(request_revision) = %q, %v", a, err)
	}
	if _, err := ParseAction("start"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("ParseAction(start) error = %v", err)
	}
	if !ActionRoute.System() || ActionApprove.System() {
		t.Error("System() mismatch")
	}
}
