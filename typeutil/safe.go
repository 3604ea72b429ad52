// Package typeutil provides safe type assertion helpers for walking the
// dynamically-typed message-content trees that flow through the codec and
// the delta encoder. They exist so that malformed or unexpected content
// (e.g. a decoded MessagePack value that isn't the type a caller expects)
// degrades to a zero value instead of panicking.
package typeutil

import "fmt"

// SafeMap safely asserts value to map[string]any.
func SafeMap(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeMapDefault asserts value to map[string]any, falling back to defaultVal.
func SafeMapDefault(value any, defaultVal map[string]any) map[string]any {
	if m, ok := SafeMap(value); ok {
		return m
	}
	return defaultVal
}

// SafeString safely asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeStringDefault asserts value to string, falling back to defaultVal.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// SafeInt64 safely asserts value to int64, also accepting the other numeric
// kinds a MessagePack decode can produce.
func SafeInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint8:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// SafeInt64Default asserts value to int64, falling back to defaultVal.
func SafeInt64Default(value any, defaultVal int64) int64 {
	if i, ok := SafeInt64(value); ok {
		return i
	}
	return defaultVal
}

// SafeFloat64 safely asserts value to float64.
func SafeFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// SafeBool safely asserts value to bool.
func SafeBool(value any) (bool, bool) {
	if value == nil {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// SafeSlice safely asserts value to []any.
func SafeSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}

// DeepEqual reports whether two decoded content values are structurally
// equal, recursing into maps and slices. Used by the delta encoder's diff;
// avoids a reflect.DeepEqual dependency on
// map key/value types that can differ between int and int64 after a
// MessagePack round trip.
func DeepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !DeepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		// Numeric values can cross int/int64/float64 boundaries across a
		// MessagePack round trip; normalize before comparing.
		an, aok := normalizeNumber(a)
		bn, bok := normalizeNumber(b)
		if aok && bok {
			return an == bn
		}
		return a == b
	}
}

func normalizeNumber(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// MustMap asserts value to map[string]any or panics with descriptive
// context; reserved for call sites where the type is guaranteed by a prior
// validation step.
func MustMap(value any, context string) map[string]any {
	if m, ok := SafeMap(value); ok {
		return m
	}
	panic(fmt.Sprintf("typeutil.MustMap: expected map[string]any, got %T at %s", value, context))
}
