package cbp

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
)

// packValue serializes a canonicalized value tree (built by canonicalize,
// so maps may carry mixed uint8/string keys) to MessagePack bytes.
func packValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("msgpack")
	if err := enc.Encode(v); err != nil {
		return nil, cbperr.Wrap(cbperr.KindUnpackFailed, "failed to pack MessagePack payload", err)
	}
	return buf.Bytes(), nil
}

// unpackValue deserializes MessagePack bytes back into a generic value
// tree. The decoder's own generic map handling falls back to
// map[interface{}]interface{} whenever a map contains any non-string key,
// and to map[string]interface{} when every key happens to be a string;
// uncanonicalize accepts both shapes.
func unpackValue(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, cbperr.Wrap(cbperr.KindUnpackFailed, "failed to unpack MessagePack payload", err)
	}
	return v, nil
}
