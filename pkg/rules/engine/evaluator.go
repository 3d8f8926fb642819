package engine

import (
	"fmt"
	"strings"

	"mercator-hq/gatekeeper/pkg/evalctx"
	"mercator-hq/gatekeeper/pkg/rules/ast"
)

// MatchOutcome is the result of evaluating one condition.
type MatchOutcome struct {
	Matched bool
	// Path is the attribute path that decided the outcome: the matched keys
	// of a structured condition, or the failing key.
	Path string
	// Reason explains the outcome for operators and debugging.
	Reason string
}

// Evaluator evaluates compiled conditions against an evaluation context. It
// holds no state and is safe for concurrent use.
type Evaluator struct{}

// NewEvaluator creates a condition evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// EvaluateRule evaluates a rule's condition. Invalid rules never match.
func (e *Evaluator) EvaluateRule(rule *ast.Rule, ctx evalctx.Context) MatchOutcome {
	if rule == nil {
		return MatchOutcome{Reason: "nil rule"}
	}
	if !rule.Valid() {
		return MatchOutcome{Reason: fmt.Sprintf("rule is invalid: %v", rule.Err())}
	}
	return e.Evaluate(rule.Condition, ctx)
}

// Evaluate evaluates a condition. It never panics and never returns an
// error; anything that cannot be evaluated is a non-match.
func (e *Evaluator) Evaluate(cond ast.Condition, ctx evalctx.Context) MatchOutcome {
	switch cond.Kind {
	case ast.ConditionAlways:
		return MatchOutcome{Matched: true, Reason: "rule has no condition"}
	case ast.ConditionExpression:
		return e.evaluateExpression(cond.Expression, ctx)
	case ast.ConditionStructured:
		return e.evaluateStructured(cond, ctx)
	default:
		return MatchOutcome{Reason: fmt.Sprintf("unsupported condition kind %s", cond.Kind)}
	}
}

func (e *Evaluator) evaluateExpression(expr ast.Expression, ctx evalctx.Context) MatchOutcome {
	left := resolve(ctx, expr.Left)

	var right any
	if expr.Right.IsPath() {
		right = resolve(ctx, expr.Right.Path)
	} else {
		right = expr.Right.Value
	}

	matched := applyOperator(expr.Op, left, right, !expr.Right.IsPath())

	out := MatchOutcome{Matched: matched, Path: expr.Left}
	switch {
	case isAbsent(left) && isAbsent(right):
		out.Reason = fmt.Sprintf("%s and %s are absent", expr.Left, expr.Right.Path)
	case isAbsent(left):
		out.Reason = fmt.Sprintf("%s is absent", expr.Left)
	case isAbsent(right):
		out.Path = expr.Right.Path
		out.Reason = fmt.Sprintf("%s is absent", expr.Right.Path)
	default:
		out.Reason = fmt.Sprintf("%v %s %v is %t", left, expr.Op, right, matched)
	}
	return out
}

func (e *Evaluator) evaluateStructured(cond ast.Condition, ctx evalctx.Context) MatchOutcome {
	keys := cond.MatchKeys()
	if len(keys) == 0 {
		return MatchOutcome{Matched: true, Reason: "empty attribute match"}
	}

	for _, key := range keys {
		allowed := cond.Match[key]
		if hasAll(allowed) {
			continue
		}

		value, ok := ctx.Lookup(key)
		if !ok {
			return MatchOutcome{Path: key, Reason: fmt.Sprintf("%s is absent", key)}
		}
		if isEmpty(value) {
			return MatchOutcome{Path: key, Reason: fmt.Sprintf("%s is empty", key)}
		}
		if !intersects(value, allowed) {
			return MatchOutcome{Path: key, Reason: fmt.Sprintf("%s=%v not in %v", key, value, allowed)}
		}
	}

	return MatchOutcome{
		Matched: true,
		Path:    strings.Join(keys, ","),
		Reason:  "all attributes matched",
	}
}

func resolve(ctx evalctx.Context, path string) any {
	v, ok := ctx.Lookup(path)
	if !ok {
		return absent
	}
	return v
}

func hasAll(allowed []any) bool {
	for _, v := range allowed {
		if s, ok := v.(string); ok && s == ast.AllValues {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// intersects reports whether a context value (or any element of a list
// value) equals one of the allowed values.
func intersects(value any, allowed []any) bool {
	if list, ok := value.([]any); ok {
		for _, elem := range list {
			if intersects(elem, allowed) {
				return true
			}
		}
		return false
	}
	for _, a := range allowed {
		if valuesEqual(value, a) {
			return true
		}
	}
	return false
}
