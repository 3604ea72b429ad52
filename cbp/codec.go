// Package cbp implements the Compressed Binary Protocol codec (C3):
// converting structured messages to and from a self-contained byte frame,
// optionally deduplicated against a Semantic Registry and block-compressed.
package cbp

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
	"github.com/jeeves-cluster-organization/cbp-bus/semreg"
)

// DefaultCompressionThreshold matches the reference implementation's
// default: payloads at or below this size are never worth spending a
// compression pass on (§4.3.2 step 4, §9).
const DefaultCompressionThreshold = 256

// Options configures an Encoder/Decoder pair. Registry is shared between
// encode and decode so a decoder can resolve HAS_HASH references produced
// by a peer encoder that deduplicated against the same registry instance
// (single-process use; cross-process dedup requires an external registry
// sync mechanism out of scope here, §9).
type Options struct {
	Registry                  *semreg.Registry
	UseDedup                  bool
	UseCompression            bool
	CompressionThresholdBytes int
}

// DefaultOptions returns sensible defaults: dedup and compression both on,
// using a fresh registry at default capacity.
func DefaultOptions() Options {
	return Options{
		Registry:                  semreg.New(semreg.DefaultMaxEntries),
		UseDedup:                  true,
		UseCompression:            true,
		CompressionThresholdBytes: DefaultCompressionThreshold,
	}
}

// Stats accumulates encoder-side counters (§4.3.2).
type Stats struct {
	MessagesEncoded  uint64
	OriginalBytes    uint64
	EncodedBytes     uint64
}

// Encoder turns structured messages into CBP frames.
type Encoder struct {
	opts  Options
	stats Stats
}

// NewEncoder builds an Encoder. A zero-value Registry in opts is replaced
// with a fresh default-capacity one.
func NewEncoder(opts Options) *Encoder {
	if opts.Registry == nil {
		opts.Registry = semreg.New(semreg.DefaultMaxEntries)
	}
	if opts.CompressionThresholdBytes <= 0 {
		opts.CompressionThresholdBytes = DefaultCompressionThreshold
	}
	return &Encoder{opts: opts}
}

// Stats returns a snapshot of encoder counters.
func (e *Encoder) Stats() Stats {
	return e.stats
}

// Encode implements the 7-step encode pipeline of §4.3.2.
func (e *Encoder) Encode(m message.Message, deltaBase *uint64) ([]byte, error) {
	raw := messageToMap(m)

	canon, err := canonicalize(raw, 0)
	if err != nil {
		return nil, err
	}

	payload, err := packValue(canon)
	if err != nil {
		return nil, err
	}
	originalLen := len(payload)

	var flags byte

	deduped := false
	if e.opts.UseDedup {
		hash, isNew, _ := e.opts.Registry.StoreOrRef(payload)
		if !isNew {
			payload = encodeU64(hash)
			flags |= FlagHasHash
			deduped = true
		}
	}

	if !deduped && e.opts.UseCompression && len(payload) > e.opts.CompressionThresholdBytes {
		compressed, err := compress(payload)
		if err == nil && len(compressed) < len(payload) {
			payload = compressed
			flags |= FlagCompressed
		}
	}

	if deltaBase != nil {
		if flags&FlagHasHash != 0 {
			// §9 Open Question, resolved: a delta body may never itself be a
			// registry reference. The reference implementation never
			// exercises this combination, so this module rejects it outright
			// rather than guessing at undefined semantics.
			return nil, cbperr.New(cbperr.KindInvalidInput, "IS_DELTA combined with HAS_HASH is not a supported frame")
		}
		payload = append(encodeU64(*deltaBase), payload...)
		flags |= FlagIsDelta
	}

	frame := append(buildHeader(flags, payload), payload...)

	e.stats.MessagesEncoded++
	e.stats.OriginalBytes += uint64(originalLen)
	e.stats.EncodedBytes += uint64(len(frame))

	return frame, nil
}

// Decoder turns CBP frames back into structured messages.
type Decoder struct {
	registry *semreg.Registry
}

// NewDecoder builds a Decoder against registry. registry must be the same
// instance (or one sharing state) used by the encoder for HAS_HASH
// references to resolve.
func NewDecoder(registry *semreg.Registry) *Decoder {
	if registry == nil {
		registry = semreg.New(semreg.DefaultMaxEntries)
	}
	return &Decoder{registry: registry}
}

// Decode implements the 7-step decode pipeline of §4.3.3.
func (d *Decoder) Decode(frame []byte) (message.Message, *uint64, error) {
	h, err := parseHeader(frame)
	if err != nil {
		return message.Message{}, nil, err
	}

	payload := frame[headerSize:]
	if int(h.length) != len(payload) {
		return message.Message{}, nil, cbperr.New(cbperr.KindLengthMismatch, "payload_length does not match frame body")
	}
	if crc16(payload) != h.crc {
		return message.Message{}, nil, cbperr.New(cbperr.KindCRCMismatch, "CRC16 mismatch over payload")
	}

	if hasFlag(h.flags, FlagIsDelta) && hasFlag(h.flags, FlagHasHash) {
		return message.Message{}, nil, cbperr.New(cbperr.KindInvalidInput, "IS_DELTA combined with HAS_HASH is not a supported frame")
	}

	var deltaRef *uint64
	if hasFlag(h.flags, FlagIsDelta) {
		if len(payload) < 8 {
			return message.Message{}, nil, cbperr.New(cbperr.KindLengthMismatch, "IS_DELTA frame shorter than the 8-byte base-hash prefix")
		}
		ref := decodeU64(payload[:8])
		deltaRef = &ref
		payload = payload[8:]
	}

	if hasFlag(h.flags, FlagHasHash) {
		if len(payload) != 8 {
			return message.Message{}, nil, cbperr.New(cbperr.KindLengthMismatch, "HAS_HASH payload must be exactly 8 bytes")
		}
		hash := decodeU64(payload)
		resolved, ok := d.registry.Get(hash)
		if !ok {
			return message.Message{}, nil, cbperr.New(cbperr.KindHashNotFound, "semantic registry has no entry for referenced hash").
				WithContext(map[string]any{"hash": hash})
		}
		payload = resolved
	} else if hasFlag(h.flags, FlagCompressed) {
		decompressed, err := decompress(payload)
		if err != nil {
			return message.Message{}, nil, cbperr.Wrap(cbperr.KindDecompressionFailed, "failed to decompress payload", err)
		}
		payload = decompressed
	}

	unpacked, err := unpackValue(payload)
	if err != nil {
		return message.Message{}, nil, err
	}

	uncanon, err := uncanonicalize(unpacked, 0)
	if err != nil {
		return message.Message{}, nil, err
	}

	asMap, ok := uncanon.(map[string]any)
	if !ok {
		return message.Message{}, nil, cbperr.New(cbperr.KindInvalidSchema, "decoded payload is not a map")
	}

	m, err := mapToMessage(asMap)
	if err != nil {
		return message.Message{}, nil, err
	}
	m.DeltaRef = deltaRef

	return m, deltaRef, nil
}

func compress(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, bound)
	var c lz4.Compressor
	n, err := c.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, cbperr.New(cbperr.KindDecompressionFailed, "lz4 reported an incompressible block")
	}
	out := make([]byte, 8+n)
	binary.BigEndian.PutUint64(out[:8], uint64(len(data)))
	copy(out[8:], dst[:n])
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, cbperr.New(cbperr.KindDecompressionFailed, "compressed payload missing size prefix")
	}
	size := binary.BigEndian.Uint64(data[:8])
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[8:], dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// messageToMap flattens a structured Message into the string-keyed map
// canonicalize expects, using the Schema Registry's canonical field names.
func messageToMap(m message.Message) map[string]any {
	out := map[string]any{
		"type":       uint8(m.Kind),
		"sender":     uint8(m.Sender),
		"receiver":   uint8(m.Receiver),
		"timestamp":  m.Timestamp,
		"priority":   uint8(m.Priority),
		"message_id": m.MessageID,
	}
	if m.Content != nil {
		out["content"] = m.Content
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = m.Metadata
	}
	if m.CorrelationID != "" {
		out["correlation_id"] = m.CorrelationID
	}
	if m.InResponseTo != "" {
		out["in_response_to"] = m.InResponseTo
	}
	return out
}

// mapToMessage reverses messageToMap, tolerating the numeric-type drift
// that a MessagePack round trip introduces (ints may come back as int64,
// uint64, or their original narrow width depending on the decoder's
// generic path).
func mapToMessage(v map[string]any) (message.Message, error) {
	m := message.Message{}

	kind, err := requireU8(v, "type")
	if err != nil {
		return m, err
	}
	m.Kind = schema.MessageKind(kind)

	sender, err := requireU8(v, "sender")
	if err != nil {
		return m, err
	}
	m.Sender = schema.AgentID(sender)

	receiver, err := requireU8(v, "receiver")
	if err != nil {
		return m, err
	}
	m.Receiver = schema.AgentID(receiver)

	priority, err := requireU8(v, "priority")
	if err != nil {
		return m, err
	}
	m.Priority = schema.Priority(priority)

	m.Timestamp = asInt64(v["timestamp"])
	m.MessageID, _ = v["message_id"].(string)
	m.CorrelationID, _ = v["correlation_id"].(string)
	m.InResponseTo, _ = v["in_response_to"].(string)

	if c, ok := v["content"].(map[string]any); ok {
		m.Content = c
	}
	if md, ok := v["metadata"].(map[string]any); ok {
		m.Metadata = md
	}

	return m, nil
}

func requireU8(v map[string]any, key string) (uint8, error) {
	raw, ok := v[key]
	if !ok {
		return 0, cbperr.New(cbperr.KindInvalidSchema, "decoded payload missing required field "+key)
	}
	switch n := raw.(type) {
	case uint8:
		return n, nil
	case int8:
		return uint8(n), nil
	case int64:
		return uint8(n), nil
	case uint64:
		return uint8(n), nil
	case int:
		return uint8(n), nil
	default:
		return 0, cbperr.New(cbperr.KindInvalidSchema, "field "+key+" is not an integer")
	}
}

func asInt64(raw any) int64 {
	switch n := raw.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
