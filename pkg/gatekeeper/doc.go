// Package gatekeeper wires the rule engine, the action executor and the
// workflow service into one Engine.
//
// An evaluation builds a context, matches the tenant's rules and executes
// or suggests their actions. Workflow actions go through the transition
// service, which audits every committed transition before emitting events.
//
//	cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//	if err != nil {
//		return err
//	}
//	eng, err := gatekeeper.Open(ctx, cfg, gatekeeper.Options{}, logger)
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	eval, err := eng.Evaluate(ctx, gatekeeper.EvaluateRequest{
//		TenantID:   "acme",
//		EntityType: "vendor",
//		Context:    evalCtx,
//	})
package gatekeeper
