// Package logging builds the slog loggers used across gatekeeper.
//
// New returns a *slog.Logger whose handler chain adds request-scoped fields
// from the context (tenant, workflow instance, actor, request id) and masks
// personal data before records reach the JSON or text handler:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactPII: true})
//	ctx = logging.WithTenant(ctx, "acme")
//	logger.InfoContext(ctx, "rule matched", "assignee", "m@x.com")
//	// ... "tenant_id":"acme","assignee":"m***@x.com"
//
// Components take a *slog.Logger and default to slog.Default() with a
// "component" attribute when none is given.
package logging
