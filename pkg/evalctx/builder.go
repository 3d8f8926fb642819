package evalctx

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Well-known entity names used by rules and workflow routing.
const (
	EntityUser       = "user"
	EntityAgent      = "agent"
	EntityVendor     = "vendor"
	EntityAssessment = "assessment"
	EntityWorkflow   = "workflow"
)

// Builder flattens entity snapshots into a nested attribute map. A Builder is
// not safe for concurrent use; the Context it builds is.
type Builder struct {
	entries map[string]any
	errs    []string
}

// NewBuilder creates an empty context builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]any)}
}

// Entity adds a named entity. Structs are flattened through their json tags,
// maps are copied, and nil values are ignored.
func (b *Builder) Entity(name string, entity any) *Builder {
	return b.Set(name, entity)
}

// Set adds a top-level attribute. Setting the same key twice replaces the
// earlier value.
func (b *Builder) Set(key string, value any) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		b.errs = append(b.errs, "empty attribute name")
		return b
	}
	if value == nil {
		return b
	}

	normalized, err := normalize(value)
	if err != nil {
		b.errs = append(b.errs, fmt.Sprintf("%s: %v", key, err))
		return b
	}
	b.entries[key] = normalized
	return b
}

// Merge sets every key of m as a top-level attribute.
func (b *Builder) Merge(m map[string]any) *Builder {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Set(k, m[k])
	}
	return b
}

// Build returns the immutable context. The builder may keep being used; later
// calls to Set do not affect contexts already built.
func (b *Builder) Build() (Context, error) {
	if len(b.errs) > 0 {
		return Context{}, fmt.Errorf("invalid evaluation context: %s", strings.Join(b.errs, "; "))
	}
	root := deepCopy(b.entries).(map[string]any)
	return Context{root: root, digest: computeDigest(root)}, nil
}

// MustBuild is like Build but panics on error. Intended for tests and static
// fixtures.
func (b *Builder) MustBuild() Context {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

// normalize converts arbitrary Go values into the canonical representation:
// map[string]any, []any, float64, string, bool.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		return val, nil
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
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
	}

	// Structs and anything else go through their JSON representation so
	// json tags decide the attribute names.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot flatten %T: %w", v, err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("cannot flatten %T: %w", v, err)
	}
	return normalize(decoded)
}
