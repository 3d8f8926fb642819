// Package escalation escalates workflow steps that have waited longer than
// their configured EscalateAfter.
//
// The workflow engine never reads the clock on its own. A Scheduler runs on
// a cron schedule, scans pending and in-progress instances and applies the
// escalate action as a system actor:
//
//	sched, err := escalation.NewScheduler(svc, &cfg.Escalation, escalation.Options{}, logger)
//	if err != nil {
//		return err
//	}
//	if err := sched.Start(ctx); err != nil {
//		return err
//	}
//	defer sched.Stop()
//
// RunOnce performs a single scan and is what the cron job calls.
package escalation
