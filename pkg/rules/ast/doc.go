// Package ast defines the compiled form of tenant rules.
//
// A rule pairs a Condition (when it applies) with an Action (what it does).
// Conditions come in two shapes that are parsed once at load time:
//
//   - Expression: a single comparison "<path> <operator> <operand>", for
//     example "user.department = agent.department".
//   - Structured: an attribute-match map of path to allowed values, for
//     example {"assessment_type": ["tprm"], "industry": ["healthcare"]}.
//
// Operators and action verbs are closed enums. Every switch over them in the
// engine is backed by a table sized with OperatorCount or VerbCount, so a new
// member that is not handled fails at compile time or in tests rather than
// falling through a string comparison.
//
// Rules that failed to parse keep their errors in Rule.Errors. Such rules are
// never matched; they are surfaced to operators instead.
package ast
