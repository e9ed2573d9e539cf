// Package claims holds helpers for inspecting decoded JWT claim values.
//
// Payloads are decoded from JSON, so numbers arrive as float64, arrays as
// []any and objects as map[string]any. Values supplied by Go callers are
// normalized to the same representation before comparison.
package claims

import (
	"encoding/json"
	"strings"
)

// Normalize converts a JSON primitive (string, number, boolean or nil) to the
// representation produced by encoding/json. The boolean result is false for
// any other type.
func Normalize(v any) (any, bool) {
	switch n := v.(type) {
	case nil, string, bool, float64:
		return v, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// IsPrimitive reports whether v is a JSON primitive.
func IsPrimitive(v any) bool {
	_, ok := Normalize(v)
	return ok
}

// Equal reports whether two primitives are strictly equal: same JSON type
// and same value. Non-primitives are never equal.
func Equal(a, b any) bool {
	na, ok := Normalize(a)
	if !ok {
		return false
	}
	nb, ok := Normalize(b)
	if !ok {
		return false
	}
	return na == nb
}

// Number returns v as a float64 if it is numeric.
func Number(v any) (float64, bool) {
	n, ok := Normalize(v)
	if !ok {
		return 0, false
	}
	f, ok := n.(float64)
	return f, ok
}

// Lookup returns the claim value and whether the claim is present. A claim
// present with a JSON null value is reported as present.
func Lookup(payload map[string]any, claim string) (any, bool) {
	v, ok := payload[claim]
	return v, ok
}

// Members returns the members of a space-delimited string or a JSON array.
// The boolean result is false for any other type.
func Members(v any) ([]any, bool) {
	switch t := v.(type) {
	case string:
		fields := strings.Fields(t)
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out, true
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Contains reports whether members holds a value strictly equal to want.
func Contains(members []any, want any) bool {
	for _, m := range members {
		if Equal(m, want) {
			return true
		}
	}
	return false
}
