package engine

import (
	"reflect"
	"strings"

	"mercator-hq/gatekeeper/pkg/rules/ast"
)

// absentValue marks a path that did not resolve in the context.
type absentValue struct{}

var absent = absentValue{}

func isAbsent(v any) bool {
	_, ok := v.(absentValue)
	return ok
}

// operatorFunc compares two present values. Type mismatches are a non-match,
// never an error.
type operatorFunc func(left, right any) bool

// operatorTable dispatches every ast.Operator. A zero entry means an operator
// was added without an implementation; TestOperatorTableComplete guards it.
var operatorTable = [ast.OperatorCount]operatorFunc{
	ast.OpEqual:        valuesEqual,
	ast.OpNotEqual:     func(l, r any) bool { return !valuesEqual(l, r) },
	ast.OpContains:     containsValue,
	ast.OpIn:           inValue,
	ast.OpGreater:      ordered(func(c int) bool { return c > 0 }),
	ast.OpLess:         ordered(func(c int) bool { return c < 0 }),
	ast.OpGreaterEqual: ordered(func(c int) bool { return c >= 0 }),
	ast.OpLessEqual:    ordered(func(c int) bool { return c <= 0 }),
}

// applyOperator evaluates op with the absent-value rules: an absent operand
// fails every operator, except that an absent left side is "not equal" to a
// literal.
func applyOperator(op ast.Operator, left, right any, rightIsLiteral bool) bool {
	if isAbsent(left) || isAbsent(right) {
		return op == ast.OpNotEqual && isAbsent(left) && !isAbsent(right) && rightIsLiteral
	}
	if op >= ast.OperatorCount || operatorTable[op] == nil {
		return false
	}
	return operatorTable[op](left, right)
}

// valuesEqual compares numerically when both sides are numbers and falls
// back to deep equality otherwise.
func valuesEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	ln, lok := toFloat64(left)
	rn, rok := toFloat64(right)
	if lok && rok {
		return ln == rn
	}
	if lok != rok {
		return false
	}

	ll, lIsList := left.([]any)
	rl, rIsList := right.([]any)
	if lIsList && rIsList {
		if len(ll) != len(rl) {
			return false
		}
		for i := range ll {
			if !valuesEqual(ll[i], rl[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(left, right)
}

// containsValue reports whether container holds item: substring for strings,
// element for lists, key for objects.
func containsValue(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, elem := range c {
			if valuesEqual(elem, item) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[key]
		return found
	default:
		return false
	}
}

// inValue reports whether left is an element of right. A list on the left
// matches when any of its elements is in right.
func inValue(left, right any) bool {
	if list, ok := left.([]any); ok {
		for _, elem := range list {
			if containsValue(right, elem) {
				return true
			}
		}
		return false
	}
	return containsValue(right, left)
}

func ordered(accept func(int) bool) operatorFunc {
	return func(left, right any) bool {
		c, ok := compareValues(left, right)
		return ok && accept(c)
	}
}

// compareValues orders two numbers or two strings. Other combinations are
// not comparable.
func compareValues(left, right any) (int, bool) {
	ln, lok := toFloat64(left)
	rn, rok := toFloat64(right)
	if lok && rok {
		switch {
		case ln < rn:
			return -1, true
		case ln > rn:
			return 1, true
		default:
			return 0, true
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return strings.Compare(ls, rs), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
