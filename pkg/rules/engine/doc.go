// Package engine evaluates compiled rule conditions and selects the rules
// that match an evaluation context.
//
// Evaluator handles both condition forms. Expressions compare a context
// path against a literal or another path using a fixed operator table;
// structured conditions AND across attribute keys and OR within each key's
// allowed list, with "all" accepting any value. Paths that do not resolve
// are absent: an absent operand fails every operator except "!=" against a
// literal. Evaluation never panics and never returns an error.
//
// Matcher loads a tenant's rules from a RuleRepository, drops inactive,
// invalid and out-of-scope rules, evaluates the rest (optionally in
// parallel) and returns matches ordered by priority, creation sequence and
// rule ID. The same rules and context always produce the same result.
package engine
