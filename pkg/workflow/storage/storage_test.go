package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/workflow"
)

func backends(t *testing.T) map[string]workflow.Repository {
	t.Helper()
	sqlite, err := NewSQLiteRepository(&config.SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "workflow.db"),
		WALMode: true,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]workflow.Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlite,
	}
}

func testDefinition(t *testing.T, tenant, id string, version int) *workflow.Definition {
	t.Helper()
	def, err := workflow.NewDefinition(workflow.DefinitionSpec{
		ID:       id,
		TenantID: tenant,
		Version:  version,
		Name:     "Review " + id,
		Steps: []workflow.Step{
			{Number: 1, Name: "Security", Required: true, AssignedRole: "security_reviewer", EscalateAfter: 48 * time.Hour},
			{Number: 2, Name: "Final", Required: true, AssignTo: "user:cfo@acme.test"},
		},
		Assignment:    workflow.AssignmentRules{EscalateTo: "role:admin", StepEscalation: map[int]string{2: "user:ceo@acme.test"}},
		Applicability: workflow.Applicability{RiskLevels: []string{"high"}},
		Revision:      &workflow.RevisionPolicy{Target: workflow.RevisionFirst},
	})
	if err != nil {
		t.Fatalf("NewDefinition() error = %v", err)
	}
	return def
}

func testInstance(id string) *workflow.Instance {
	started := time.Date(2026, 3, 2, 9, 0, 0, 123456789, time.UTC)
	completed := started.Add(time.Hour)
	return &workflow.Instance{
		ID:                id,
		TenantID:          "acme",
		DefinitionID:      "review",
		DefinitionVersion: 1,
		EntityType:        "vendor",
		EntityID:          "v-42",
		Submitter:         "sub@acme.test",
		Attributes:        map[string]any{"vendor": map[string]any{"owner": "bo@acme.test", "score": float64(7)}},
		CurrentStep:       2,
		Status:            workflow.StatusInProgress,
		Version:           3,
		StartedAt:         started,
		UpdatedAt:         completed,
		Steps: []workflow.StepRecord{
			{StepNumber: 1, Status: workflow.StepCompleted, Assignee: "sam@acme.test", Role: "security_reviewer",
				Candidates: []string{"sam@acme.test"}, CompletedBy: "sam@acme.test", Notes: "ok", Revision: 1,
				Escalated: true, StartedAt: &started, CompletedAt: &completed},
			{StepNumber: 2, Status: workflow.StepPending, Role: "compliance",
				Candidates: []string{"ann@acme.test", "cleo@acme.test"}, StartedAt: &completed},
		},
	}
}

func TestRepository_Definitions(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			v1 := testDefinition(t, "acme", "review", 1)
			v2 := testDefinition(t, "acme", "review", 2)
			platform := testDefinition(t, "", "baseline", 1)
			for _, def := range []*workflow.Definition{v1, v2, platform} {
				if err := repo.SaveDefinition(ctx, def); err != nil {
					t.Fatalf("SaveDefinition() error = %v", err)
				}
			}
			if err := repo.SaveDefinition(ctx, v1); err != nil {
				t.Errorf("saving an identical definition error = %v", err)
			}
			spec := v1.Spec()
			spec.Name = "Other"
			changed, err := workflow.NewDefinition(spec)
			if err != nil {
				t.Fatal(err)
			}
			if err := repo.SaveDefinition(ctx, changed); !errors.Is(err, workflow.ErrDefinitionExists) {
				t.Errorf("saving a changed definition error = %v", err)
			}

			got, err := repo.GetDefinition(ctx, "acme", "review", 1)
			if err != nil {
				t.Fatalf("GetDefinition() error = %v", err)
			}
			if got.Fingerprint() != v1.Fingerprint() {
				t.Errorf("definition round trip changed:\n%s\n%s", got.Fingerprint(), v1.Fingerprint())
			}

			latest, err := repo.LatestDefinition(ctx, "acme", "review")
			if err != nil || latest.Version() != 2 {
				t.Errorf("LatestDefinition() = %v, %v", latest, err)
			}
			if fallback, err := repo.LatestDefinition(ctx, "acme", "baseline"); err != nil || fallback.TenantID() != "" {
				t.Errorf("platform fallback = %v, %v", fallback, err)
			}
			if _, err := repo.GetDefinition(ctx, "other", "review", 1); !errors.Is(err, workflow.ErrNotFound) {
				t.Errorf("other tenant lookup error = %v", err)
			}

			all, err := repo.ListDefinitions(ctx, "acme")
			if err != nil || len(all) != 3 {
				t.Errorf("ListDefinitions(acme) = %d, %v", len(all), err)
			}
			if other, _ := repo.ListDefinitions(ctx, "other"); len(other) != 1 {
				t.Errorf("ListDefinitions(other) = %d, want 1", len(other))
			}
		})
	}
}

func TestRepository_InstanceRoundTrip(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inst := testInstance("wf-1")
			if err := repo.CreateInstance(ctx, inst); err != nil {
				t.Fatalf("CreateInstance() error = %v", err)
			}
			got, err := repo.GetInstance(ctx, "wf-1")
			if err != nil {
				t.Fatalf("GetInstance() error = %v", err)
			}
			if !reflect.DeepEqual(got, inst) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, inst)
			}

			got.Steps[0].Assignee = "mutated"
			again, _ := repo.GetInstance(ctx, "wf-1")
			if again.Steps[0].Assignee != "sam@acme.test" {
				t.Error("GetInstance returned shared state")
			}

			if _, err := repo.GetInstance(ctx, "missing"); !errors.Is(err, workflow.ErrNotFound) {
				t.Errorf("missing instance error = %v", err)
			}
		})
	}
}

func TestRepository_UpdateInstanceChecksVersion(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inst := testInstance("wf-1")
			if err := repo.CreateInstance(ctx, inst); err != nil {
				t.Fatal(err)
			}

			next := inst.Clone()
			next.Version = 4
			next.Status = workflow.StatusBlocked
			next.BlockedReason = "unresolved assignment"
			next.BlockedFrom = workflow.StatusInProgress
			next.AwaitingRevision = true
			next.ReturnStep = 1
			next.Steps = next.Steps[:1]
			if err := repo.UpdateInstance(ctx, next, 3); err != nil {
				t.Fatalf("UpdateInstance() error = %v", err)
			}

			stale := inst.Clone()
			stale.Version = 4
			if err := repo.UpdateInstance(ctx, stale, 3); !errors.Is(err, workflow.ErrConflict) {
				t.Errorf("stale update error = %v, want ErrConflict", err)
			}
			if err := repo.UpdateInstance(ctx, testInstance("missing"), 1); !errors.Is(err, workflow.ErrNotFound) {
				t.Errorf("update of missing instance error = %v", err)
			}

			got, _ := repo.GetInstance(ctx, "wf-1")
			if !reflect.DeepEqual(got, next) {
				t.Errorf("after update:\n got %+v\nwant %+v", got, next)
			}
		})
	}
}

func TestRepository_ListInstances(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			statuses := []workflow.Status{workflow.StatusPending, workflow.StatusInProgress, workflow.StatusApproved}
			for i, status := range statuses {
				inst := testInstance(string(rune('a' + i)))
				inst.Status = status
				inst.StartedAt = inst.StartedAt.Add(time.Duration(i) * time.Minute)
				if i == 2 {
					inst.TenantID = "other"
				}
				if err := repo.CreateInstance(ctx, inst); err != nil {
					t.Fatal(err)
				}
			}

			active, err := repo.ListInstances(ctx, workflow.InstanceFilter{Statuses: []workflow.Status{workflow.StatusPending, workflow.StatusInProgress}})
			if err != nil {
				t.Fatalf("ListInstances() error = %v", err)
			}
			if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" || len(active[1].Steps) != 2 {
				t.Errorf("active = %+v", active)
			}

			other, _ := repo.ListInstances(ctx, workflow.InstanceFilter{TenantID: "other"})
			if len(other) != 1 || other[0].ID != "c" {
				t.Errorf("tenant filter = %+v", other)
			}
			limited, _ := repo.ListInstances(ctx, workflow.InstanceFilter{Limit: 1})
			if len(limited) != 1 {
				t.Errorf("limit = %d", len(limited))
			}
		})
	}
}

func TestSQLiteRepository_Persistence(t *testing.T) {
	cfg := &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "workflow.db")}
	repo, err := NewSQLiteRepository(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := repo.SaveDefinition(ctx, testDefinition(t, "acme", "review", 1)); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateInstance(ctx, testInstance("wf-1")); err != nil {
		t.Fatal(err)
	}
	repo.Close()

	reopened, err := NewSQLiteRepository(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.GetDefinition(ctx, "acme", "review", 1); err != nil {
		t.Errorf("definition lost: %v", err)
	}
	if inst, err := reopened.GetInstance(ctx, "wf-1"); err != nil || inst.CurrentStep != 2 {
		t.Errorf("instance lost: %v, %v", inst, err)
	}

	if _, err := NewSQLiteRepository(&config.SQLiteConfig{}, nil); err == nil {
		t.Error("expected error for empty path")
	}
}
