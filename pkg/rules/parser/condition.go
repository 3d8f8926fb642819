package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"mercator-hq/gatekeeper/pkg/rules/ast"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z0-9_\-]+)*$`)

// IsPath reports whether s is a valid dotted attribute path.
func IsPath(s string) bool {
	return pathPattern.MatchString(s)
}

// ParseCondition compiles a raw condition.
//
// nil and the empty string yield a condition that always matches. A string is
// parsed as an expression "<path> <operator> <operand>", unless it holds a
// JSON object, which is treated as a structured condition. A map is a
// structured condition of path to allowed values; a scalar value is a
// one-item list.
func ParseCondition(raw any) (ast.Condition, error) {
	switch v := raw.(type) {
	case nil:
		return ast.Always(), nil
	case ast.Condition:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return ast.Always(), nil
		}
		if strings.HasPrefix(s, "{") {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return ast.Condition{}, newParseError("condition", v, -1, "invalid structured condition: %v", err)
			}
			return parseStructured(m, s)
		}
		return parseExpression(v)
	}

	m, err := toStringMap(raw)
	if err != nil {
		return ast.Condition{}, newParseError("condition", fmt.Sprint(raw), -1, "unsupported condition type %T", raw)
	}
	data, _ := json.Marshal(m)
	return parseStructured(m, string(data))
}

// ParseExpression parses a single condition expression.
func ParseExpression(input string) (ast.Expression, error) {
	cond, err := parseExpression(input)
	if err != nil {
		return ast.Expression{}, err
	}
	return cond.Expression, nil
}

func parseExpression(input string) (ast.Condition, error) {
	s := &scanner{input: input}
	s.skipSpace()

	start := s.pos
	for s.pos < len(input) && isPathByte(input[s.pos]) {
		s.pos++
	}
	left := input[start:s.pos]
	if left == "" {
		return ast.Condition{}, newParseError("condition", input, start, "expected attribute path on the left side")
	}
	if !IsPath(left) {
		return ast.Condition{}, newParseError("condition", input, start, "left side %q is not a dotted attribute path", left)
	}

	spaced := s.skipSpace()
	opPos := s.pos
	op, ok := s.operator(spaced)
	if !ok {
		pe := newParseError("condition", input, opPos, "expected operator")
		pe.Suggestion = "operators are = != contains in > < >= <="
		return ast.Condition{}, pe
	}

	s.skipSpace()
	rightPos := s.pos
	rest := strings.TrimRightFunc(input[s.pos:], unicode.IsSpace)
	if rest == "" {
		return ast.Condition{}, newParseError("condition", input, rightPos, "missing right-hand operand after %q", op)
	}

	right, err := parseOperand(rest)
	if err != nil {
		pe := newParseError("condition", input, rightPos+err.offset, "%s", err.msg)
		pe.Suggestion = err.hint
		return ast.Condition{}, pe
	}

	expr := ast.Expression{Left: left, Op: op, Right: right}
	return ast.Condition{
		Kind:       ast.ConditionExpression,
		Expression: expr,
		Source:     strings.TrimSpace(input),
	}, nil
}

func isPathByte(c byte) bool {
	return c == '.' || c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type scanner struct {
	input string
	pos   int
}

// skipSpace advances past whitespace and reports whether any was consumed.
func (s *scanner) skipSpace() bool {
	start := s.pos
	for s.pos < len(s.input) && unicode.IsSpace(rune(s.input[s.pos])) {
		s.pos++
	}
	return s.pos > start
}

// operator matches the longest operator at the current position. Keyword
// operators need whitespace on both sides.
func (s *scanner) operator(spacedBefore bool) (ast.Operator, bool) {
	rest := s.input[s.pos:]
	for _, op := range ast.OperatorsBySymbolLength() {
		sym := op.String()
		if op.IsKeyword() {
			if !spacedBefore || len(rest) <= len(sym) {
				continue
			}
			if !strings.EqualFold(rest[:len(sym)], sym) || !unicode.IsSpace(rune(rest[len(sym)])) {
				continue
			}
		} else if !strings.HasPrefix(rest, sym) {
			continue
		}
		s.pos += len(sym)
		return op, true
	}
	return 0, false
}

type operandError struct {
	offset int
	msg    string
	hint   string
}

// parseOperand parses the right side of an expression: a quoted string, a
// number, a boolean, a list literal, or a dotted path.
func parseOperand(text string) (ast.Operand, *operandError) {
	switch {
	case text[0] == '"' || text[0] == '\'':
		str, n, err := unquote(text)
		if err != nil {
			return ast.Operand{}, err
		}
		if n != len(text) {
			return ast.Operand{}, &operandError{offset: n, msg: "unexpected text after quoted string"}
		}
		return ast.Literal(str), nil

	case text[0] == '[':
		list, err := parseList(text)
		if err != nil {
			return ast.Operand{}, err
		}
		return ast.Literal(list), nil
	}

	if v, ok := parseScalar(text); ok {
		return ast.Literal(v), nil
	}
	if IsPath(text) {
		return ast.PathRef(text), nil
	}
	return ast.Operand{}, &operandError{
		msg:  fmt.Sprintf("invalid operand %q", text),
		hint: "quote string literals, e.g. \"value\"",
	}
}

// parseScalar recognizes unquoted booleans and numbers.
func parseScalar(text string) (any, bool) {
	switch text {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if c := text[0]; c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9') {
		f, err := strconv.ParseFloat(text, 64)
		if err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f, true
		}
	}
	return nil, false
}

// unquote reads a quoted string at the start of text and returns its value
// and the number of bytes consumed.
func unquote(text string) (string, int, *operandError) {
	quote := text[0]
	var sb strings.Builder
	for i := 1; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\':
			if i+1 >= len(text) {
				return "", 0, &operandError{offset: i, msg: "unterminated escape sequence"}
			}
			i++
			switch text[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(text[i])
			}
		case c == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", 0, &operandError{offset: len(text), msg: "unterminated string literal"}
}

// parseList parses a list literal such as ["a", 'b', 3, true].
func parseList(text string) ([]any, *operandError) {
	items := []any{}
	i := 1
	skip := func() {
		for i < len(text) && unicode.IsSpace(rune(text[i])) {
			i++
		}
	}

	skip()
	if i < len(text) && text[i] == ']' {
		if i+1 != len(text) {
			return nil, &operandError{offset: i + 1, msg: "unexpected text after list literal"}
		}
		return items, nil
	}

	for {
		skip()
		if i >= len(text) {
			return nil, &operandError{offset: i, msg: "unterminated list literal"}
		}

		if text[i] == '"' || text[i] == '\'' {
			str, n, err := unquote(text[i:])
			if err != nil {
				err.offset += i
				return nil, err
			}
			items = append(items, str)
			i += n
		} else {
			start := i
			for i < len(text) && text[i] != ',' && text[i] != ']' && !unicode.IsSpace(rune(text[i])) {
				i++
			}
			v, ok := parseScalar(text[start:i])
			if start == i || !ok {
				return nil, &operandError{
					offset: start,
					msg:    fmt.Sprintf("invalid list element %q", text[start:i]),
					hint:   "list elements must be quoted strings, numbers or booleans",
				}
			}
			items = append(items, v)
		}

		skip()
		if i >= len(text) {
			return nil, &operandError{offset: i, msg: "unterminated list literal"}
		}
		switch text[i] {
		case ',':
			i++
		case ']':
			if i+1 != len(text) {
				return nil, &operandError{offset: i + 1, msg: "unexpected text after list literal"}
			}
			return items, nil
		default:
			return nil, &operandError{offset: i, msg: "expected ',' or ']' in list literal"}
		}
	}
}

func parseStructured(m map[string]any, source string) (ast.Condition, error) {
	match := make(map[string][]any, len(m))

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := strings.TrimSpace(key)
		if !IsPath(path) {
			return ast.Condition{}, newParseError("condition", source, -1, "structured key %q is not a dotted attribute path", key)
		}

		values, err := allowedValues(m[key])
		if err != nil {
			return ast.Condition{}, newParseError("condition", source, -1, "key %q: %v", key, err)
		}
		if len(values) == 0 {
			pe := newParseError("condition", source, -1, "key %q has no allowed values", key)
			pe.Suggestion = `use ["all"] to match any value`
			return ast.Condition{}, pe
		}
		match[path] = values
	}

	return ast.Condition{Kind: ast.ConditionStructured, Match: match, Source: source}, nil
}

func allowedValues(raw any) ([]any, error) {
	if raw == nil {
		return nil, fmt.Errorf("null is not an allowed value")
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		v, err := scalarValue(raw)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}

	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := scalarValue(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func scalarValue(raw any) (any, error) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	default:
		return nil, fmt.Errorf("allowed values must be scalars, got %T", raw)
	}
}

// toStringMap converts any map with string keys into map[string]any.
func toStringMap(raw any) (map[string]any, error) {
	if m, ok := raw.(map[string]any); ok {
		return m, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("not a map: %T", raw)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		if k.Kind() == reflect.Interface {
			k = k.Elem()
		}
		if k.Kind() != reflect.String {
			return nil, fmt.Errorf("non-string key %v", k.Interface())
		}
		out[k.String()] = iter.Value().Interface()
	}
	return out, nil
}
