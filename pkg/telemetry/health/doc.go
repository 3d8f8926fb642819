// Package health serves liveness and readiness probes for the run command.
//
// Components register named checks; readiness runs them concurrently with
// a per-check timeout and reports 503 when any fails:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("workflow_store", repo.Ping)
//	checker.Mount(mux, health.BuildInfo{Version: version})
//
// Endpoints: /healthz (liveness), /readyz (readiness), /version.
package health
