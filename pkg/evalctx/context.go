package evalctx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Context is an immutable snapshot of entity attributes used to evaluate rule
// conditions. It is built once per evaluation call and only ever read.
//
// All values inside a Context are normalized: numbers are float64, lists are
// []any and objects are map[string]any. A Context is safe for concurrent use.
type Context struct {
	root   map[string]any
	digest string
}

// Empty returns a context with no attributes.
func Empty() Context {
	return Context{root: map[string]any{}}
}

// FromMap builds a context from a plain nested map. The map is deep-copied,
// so later changes to m are not visible through the returned context.
func FromMap(m map[string]any) (Context, error) {
	b := NewBuilder()
	for k, v := range m {
		b.Set(k, v)
	}
	return b.Build()
}

// Lookup resolves a dotted path such as "user.department" against the
// context. The second return value is false when any segment of the path is
// missing or traverses a non-object value.
func (c Context) Lookup(path string) (any, bool) {
	if path == "" || c.root == nil {
		return nil, false
	}

	// Exact top-level key wins, so attribute names that contain dots
	// (e.g. flattened "agent.type") remain addressable.
	if v, ok := c.root[path]; ok {
		return v, true
	}

	var current any = c.root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Has reports whether the path resolves to a value.
func (c Context) Has(path string) bool {
	_, ok := c.Lookup(path)
	return ok
}

// String resolves a path and returns its value when it is a non-empty string.
func (c Context) String(path string) (string, bool) {
	v, ok := c.Lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Map returns a deep copy of the context as a nested map.
func (c Context) Map() map[string]any {
	if c.root == nil {
		return map[string]any{}
	}
	return deepCopy(c.root).(map[string]any)
}

// Len returns the number of top-level attributes.
func (c Context) Len() int {
	return len(c.root)
}

// Digest returns a stable hex-encoded SHA-256 of the canonical JSON form of the
// context. Two contexts with equal content always share a digest.
func (c Context) Digest() string {
	if c.digest != "" {
		return c.digest
	}
	return computeDigest(c.root)
}

// MarshalJSON encodes the context as its underlying nested map.
func (c Context) MarshalJSON() ([]byte, error) {
	if c.root == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.root)
}

func computeDigest(root map[string]any) string {
	if root == nil {
		root = map[string]any{}
	}
	// encoding/json sorts map keys, which makes the encoding canonical.
	data, err := json.Marshal(root)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
