// Package workflow implements versioned approval workflow definitions,
// the instance state machine, and the transition service.
//
// Definitions are compiled once by NewDefinition into an explicit ordered
// step index and are immutable afterwards. Machine.Apply computes the next
// instance state for an action without side effects. Service wraps the
// machine with per-instance serialization, write-ahead auditing,
// optimistic check-and-set persistence and post-commit event emission:
//
//	inst, err := svc.ApplyAction(ctx, "wf-123", workflow.ActionApprove, "sam@acme.test",
//		map[string]any{"expected_step": 1})
//	switch {
//	case errors.Is(err, workflow.ErrStaleStep), errors.Is(err, workflow.ErrConflict):
//	    // another actor moved the instance first
//	case errors.As(err, &cfgErr):
//	    // instance is now blocked for operator attention
//	}
//
// Instance states: pending, in_progress, then approved, rejected,
// cancelled (terminal) or blocked. Step records move from pending to
// in_progress to completed or skipped.
package workflow
