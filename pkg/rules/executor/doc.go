// Package executor applies the actions of matched rules.
//
// A match executes immediately only when the caller asked for automatic
// execution and the rule itself is marked automatic. Every other match is
// returned as a suggestion carrying a preview of its resolved target;
// Confirm applies a suggestion later. Automatic applications are keyed in
// an IdempotencyLedger so the same rule, action and context never apply
// twice. Workflow verbs (assign_to with a workflow.instance_id in the
// context, and step) go through the workflow service as system actions;
// notify and flag produce records for a Dispatcher that runs after every
// action has been applied.
package executor
