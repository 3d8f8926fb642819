package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mercator-hq/gatekeeper/pkg/rules/ast"
)

// ParseAction compiles a raw action. Strings use the "<verb>:<target>" form;
// maps are descriptors with "verb" (or "type"), "target" and optional
// "params". A string holding a JSON object is decoded as a descriptor.
func ParseAction(raw any) (ast.Action, error) {
	switch v := raw.(type) {
	case nil:
		return ast.Action{}, newParseError("action", "", -1, "action is required")
	case ast.Action:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "{") {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return ast.Action{}, newParseError("action", v, -1, "invalid action descriptor: %v", err)
			}
			return parseDescriptor(m, s)
		}
		return parseActionString(v)
	}

	m, err := toStringMap(raw)
	if err != nil {
		return ast.Action{}, newParseError("action", fmt.Sprint(raw), -1, "unsupported action type %T", raw)
	}
	data, _ := json.Marshal(m)
	return parseDescriptor(m, string(data))
}

func parseActionString(input string) (ast.Action, error) {
	s := strings.TrimSpace(input)
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		pe := newParseError("action", input, -1, "expected <verb>:<target>")
		pe.Suggestion = "e.g. assign_to:user.department_manager"
		return ast.Action{}, pe
	}
	return buildAction(s[:idx], s[idx+1:], nil, input, idx)
}

func parseDescriptor(m map[string]any, source string) (ast.Action, error) {
	verb := firstString(m, "verb", "type", "action")
	target := firstString(m, "target", "value", "to")

	var params map[string]string
	if raw, ok := m["params"]; ok && raw != nil {
		pm, err := toStringMap(raw)
		if err != nil {
			return ast.Action{}, newParseError("action", source, -1, "params must be a map")
		}
		params = make(map[string]string, len(pm))
		keys := make([]string, 0, len(pm))
		for k := range pm {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			params[k] = stringify(pm[k])
		}
	}
	return buildAction(verb, target, params, source, -1)
}

func buildAction(verbText, target string, params map[string]string, source string, pos int) (ast.Action, error) {
	verbText = strings.TrimSpace(verbText)
	target = strings.TrimSpace(target)

	verb, ok := ast.ParseVerb(verbText)
	if !ok {
		pe := newParseError("action", source, -1, "unknown verb %q", verbText)
		if verbText == "" {
			pe.Message = "missing verb"
		}
		if pos >= 0 {
			pe.Position = 0
		}
		pe.Suggestion = "valid verbs: " + strings.Join(ast.VerbNames(), ", ")
		return ast.Action{}, pe
	}
	if target == "" {
		return ast.Action{}, newParseError("action", source, pos, "verb %s requires a target", verb)
	}
	if verb == ast.VerbStep {
		n, err := strconv.Atoi(target)
		if err != nil || n <= 0 {
			return ast.Action{}, newParseError("action", source, pos, "step target %q must be a positive step number", target)
		}
	}

	return ast.Action{
		Verb:   verb,
		Target: target,
		Params: params,
		Source: strings.TrimSpace(source),
	}, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return stringify(v)
		}
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
