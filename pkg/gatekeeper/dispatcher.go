package gatekeeper

import (
	"context"
	"log/slog"

	"mercator-hq/gatekeeper/pkg/rules/executor"
	"mercator-hq/gatekeeper/pkg/workflow"
)

// LogDispatcher logs notifications and flags. It is the default dispatcher
// when none is configured; delivery belongs to the host application.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger.With("component", "dispatcher")}
}

func (d *LogDispatcher) Notify(ctx context.Context, n executor.Notification) error {
	d.logger.InfoContext(ctx, "notification",
		"rule_id", n.RuleID,
		"tenant_id", n.TenantID,
		"channel", n.Channel,
		"role", n.Role,
		"recipients", n.Recipients,
	)
	return nil
}

func (d *LogDispatcher) Flag(ctx context.Context, f executor.Flag) error {
	d.logger.InfoContext(ctx, "flag raised",
		"flag", f.Name,
		"rule_id", f.RuleID,
		"tenant_id", f.TenantID,
	)
	return nil
}

// logEmitter logs committed workflow transitions.
type logEmitter struct {
	logger *slog.Logger
}

func (e logEmitter) OnTransition(ctx context.Context, ev workflow.Event) error {
	e.logger.DebugContext(ctx, "workflow event",
		"instance_id", ev.InstanceID,
		"action", ev.Action,
		"status", ev.NewStatus,
		"step", ev.NewStep,
		"assignee", ev.Assignee,
		"sequence", ev.Sequence,
	)
	return nil
}
