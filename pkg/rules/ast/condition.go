package ast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AllValues is the sentinel that matches any context value in a structured
// condition.
const AllValues = "all"

// Operator is a comparison operator of the expression form.
type Operator uint8

const (
	OpEqual Operator = iota
	OpNotEqual
	OpContains
	OpIn
	OpGreater
	OpLess
	OpGreaterEqual
	OpLessEqual

	// OperatorCount is the number of operators. Dispatch tables are sized with it.
	OperatorCount
)

var operatorSymbols = [OperatorCount]string{
	OpEqual:        "=",
	OpNotEqual:     "!=",
	OpContains:     "contains",
	OpIn:           "in",
	OpGreater:      ">",
	OpLess:         "<",
	OpGreaterEqual: ">=",
	OpLessEqual:    "<=",
}

// String returns the operator as written in rule expressions.
func (o Operator) String() string {
	if o >= OperatorCount {
		return "Operator(" + strconv.Itoa(int(o)) + ")"
	}
	return operatorSymbols[o]
}

// IsKeyword reports whether the operator is spelled as a word and therefore
// needs surrounding whitespace in an expression.
func (o Operator) IsKeyword() bool {
	return o == OpContains || o == OpIn
}

// ParseOperator returns the operator for a symbol. "==" is accepted as an
// alias of "=".
func ParseOperator(s string) (Operator, bool) {
	s = strings.TrimSpace(s)
	if s == "==" {
		return OpEqual, true
	}
	for op := Operator(0); op < OperatorCount; op++ {
		if operatorSymbols[op] == strings.ToLower(s) {
			return op, true
		}
	}
	return 0, false
}

// OperatorsBySymbolLength returns all operators ordered for longest-first
// scanning, so ">=" is tried before ">" and "!=" before "=".
func OperatorsBySymbolLength() []Operator {
	ops := make([]Operator, 0, OperatorCount)
	for op := Operator(0); op < OperatorCount; op++ {
		ops = append(ops, op)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return len(operatorSymbols[ops[i]]) > len(operatorSymbols[ops[j]])
	})
	return ops
}

// OperandKind distinguishes path references from literals.
type OperandKind uint8

const (
	OperandLiteral OperandKind = iota
	OperandPath
)

// Operand is the right-hand side of an expression.
type Operand struct {
	Kind OperandKind
	// Path is set for OperandPath.
	Path string
	// Value is set for OperandLiteral: string, float64, bool or []any.
	Value any
}

// Literal returns a literal operand.
func Literal(v any) Operand {
	return Operand{Kind: OperandLiteral, Value: v}
}

// PathRef returns an operand that refers to a context path.
func PathRef(path string) Operand {
	return Operand{Kind: OperandPath, Path: path}
}

// IsPath reports whether the operand references the context.
func (o Operand) IsPath() bool {
	return o.Kind == OperandPath
}

func (o Operand) String() string {
	if o.Kind == OperandPath {
		return o.Path
	}
	switch v := o.Value.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Expression is a parsed "<path> <operator> <operand>" condition.
type Expression struct {
	Left  string
	Op    Operator
	Right Operand
}

func (e Expression) String() string {
	return e.Left + " " + e.Op.String() + " " + e.Right.String()
}

// ConditionKind tags the Condition union.
type ConditionKind uint8

const (
	// ConditionAlways matches every context. Used for rules without a condition.
	ConditionAlways ConditionKind = iota
	ConditionExpression
	ConditionStructured
)

func (k ConditionKind) String() string {
	switch k {
	case ConditionAlways:
		return "always"
	case ConditionExpression:
		return "expression"
	case ConditionStructured:
		return "structured"
	default:
		return "ConditionKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Condition is the compiled matching predicate of a rule.
type Condition struct {
	Kind ConditionKind

	// Expression is set when Kind is ConditionExpression.
	Expression Expression

	// Match is set when Kind is ConditionStructured: path to allowed values.
	// Allowed values are strings, float64 or bool.
	Match map[string][]any

	// Source is the raw text or a rendering of the structured map, for
	// diagnostics.
	Source string
}

// Always returns a condition that matches every context.
func Always() Condition {
	return Condition{Kind: ConditionAlways}
}

// MatchKeys returns the structured condition keys in sorted order.
func (c Condition) MatchKeys() []string {
	keys := make([]string, 0, len(c.Match))
	for k := range c.Match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Condition) String() string {
	switch c.Kind {
	case ConditionExpression:
		return c.Expression.String()
	case ConditionStructured:
		parts := make([]string, 0, len(c.Match))
		for _, k := range c.MatchKeys() {
			parts = append(parts, fmt.Sprintf("%s in %v", k, c.Match[k]))
		}
		return strings.Join(parts, " and ")
	default:
		return "always"
	}
}
