// Package telemetry groups the observability packages of the engine.
//
//   - logging: slog construction with context fields and PII redaction
//   - metrics: Prometheus collectors for rule matching, actions, workflow
//     transitions, audit appends and escalations
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness checks served by the run command
//
// Every collaborator accepts a nil *metrics.Collector or *tracing.Tracer,
// so library users opt in to what they need:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(ctx)
package telemetry
