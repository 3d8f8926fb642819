package tracing

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys use the "gatekeeper.*" namespace.
const (
	AttrTenantID   = "gatekeeper.tenant_id"
	AttrRuleID     = "gatekeeper.rule.id"
	AttrRuleCount  = "gatekeeper.rule.count"
	AttrMatchCount = "gatekeeper.match.count"
	AttrVerb       = "gatekeeper.action.verb"
	AttrTarget     = "gatekeeper.action.target"
	AttrInstanceID = "gatekeeper.workflow.instance_id"
	AttrDefinition = "gatekeeper.workflow.definition"
	AttrTransition = "gatekeeper.workflow.transition"
	AttrStep       = "gatekeeper.workflow.step"
	AttrActor      = "gatekeeper.actor"
	AttrContextSum = "gatekeeper.context.digest"
)

// Tenant returns the tenant attribute.
func Tenant(id string) attribute.KeyValue {
	return attribute.String(AttrTenantID, id)
}

// Rule returns the rule id attribute.
func Rule(id string) attribute.KeyValue {
	return attribute.String(AttrRuleID, id)
}

// Instance returns the workflow instance attribute.
func Instance(id string) attribute.KeyValue {
	return attribute.String(AttrInstanceID, id)
}

// Transition returns the transition name attribute.
func Transition(name string) attribute.KeyValue {
	return attribute.String(AttrTransition, name)
}

// Step returns the workflow step attribute.
func Step(n int) attribute.KeyValue {
	return attribute.Int(AttrStep, n)
}

// Action returns the verb and target attributes of an action.
func Action(verb, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrVerb, verb),
		attribute.String(AttrTarget, target),
	}
}

// Count returns an integer attribute for one of the count keys.
func Count(key string, n int) attribute.KeyValue {
	return attribute.Int(key, n)
}
