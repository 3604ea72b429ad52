package cbp

import (
	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// maxCanonDepth bounds recursion over a value tree. Structured messages
// produced by agents are shallow (a handful of levels); anything deeper is
// almost certainly a caller mistake (e.g. a value holding itself indirectly
// through a slice of maps), and we would rather fail the encode than spin
// or blow the stack (§9 Cyclic references).
const maxCanonDepth = 32

// canonicalize walks an arbitrary Go value tree built from map[string]any,
// []any, and scalars, and rewrites every map key that has a registered
// field name into its numeric schema.FieldID (§4.3.2 step 1, §4.1). Keys
// with no registered name are left as strings. Every map in the result is
// a map[any]any, so the wire encoder can emit a genuinely mixed
// int/string-keyed MessagePack map.
func canonicalize(v any, depth int) (any, error) {
	if depth > maxCanonDepth {
		return nil, cbperr.New(cbperr.KindInvalidInput, "value tree exceeds maximum canonicalization depth")
	}

	switch val := v.(type) {
	case map[string]any:
		out := make(map[any]any, len(val))
		for k, child := range val {
			cv, err := canonicalize(child, depth+1)
			if err != nil {
				return nil, err
			}
			if id, ok := schema.FieldIDByName(k); ok {
				out[uint8(id)] = cv
			} else {
				out[k] = cv
			}
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			cv, err := canonicalize(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return v, nil
	}
}

// uncanonicalize reverses canonicalize: every integer map key that
// resolves to a registered schema.FieldID is rewritten to its canonical
// long field name (§4.3.3 step 6); keys that don't resolve are rendered
// back as plain strings so unknown/forward-compatible fields survive a
// round trip without loss.
func uncanonicalize(v any, depth int) (any, error) {
	if depth > maxCanonDepth {
		return nil, cbperr.New(cbperr.KindInvalidSchema, "value tree exceeds maximum canonicalization depth")
	}

	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			cv, err := uncanonicalize(child, depth+1)
			if err != nil {
				return nil, err
			}
			out[fieldKeyToString(k)] = cv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			cv, err := uncanonicalize(child, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			cv, err := uncanonicalize(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return v, nil
	}
}

// fieldKeyToString resolves a decoded map key (which may have come back as
// any of msgpack's integer flavors depending on the decoder's generic
// typing) to its canonical field name, or to its string form if it isn't a
// registered field id.
func fieldKeyToString(k any) string {
	if id, ok := asFieldID(k); ok {
		if name, ok := schema.FieldNameByID(id); ok {
			return name
		}
		return "field_" + itoa(int64(id))
	}
	if s, ok := k.(string); ok {
		return s
	}
	return "field_" + toDecimalString(k)
}

func asFieldID(k any) (schema.FieldID, bool) {
	switch n := k.(type) {
	case uint8:
		return schema.FieldID(n), true
	case int8:
		return schema.FieldID(n), true
	case uint64:
		if n <= 0xFF {
			return schema.FieldID(n), true
		}
	case int64:
		if n >= 0 && n <= 0xFF {
			return schema.FieldID(n), true
		}
	case int:
		if n >= 0 && n <= 0xFF {
			return schema.FieldID(n), true
		}
	case uint:
		if n <= 0xFF {
			return schema.FieldID(n), true
		}
	}
	return 0, false
}

func toDecimalString(k any) string {
	switch n := k.(type) {
	case int64:
		return itoa(n)
	case uint64:
		return itoa(int64(n))
	case int:
		return itoa(int64(n))
	default:
		return ""
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
