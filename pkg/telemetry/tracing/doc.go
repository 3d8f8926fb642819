// Package tracing provides OpenTelemetry spans for rule matching, action
// execution and workflow transitions.
//
// New configures an SDK tracer provider exporting over OTLP gRPC with
// parent-based ratio sampling; when tracing is disabled a noop tracer is
// returned so callers never branch on configuration:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "workflow.apply", tracing.Instance(id))
//	defer func() { tracing.End(span, err) }()
//
// Tests use NewWithProvider with an in-memory span recorder.
package tracing
