// Package delta implements the Delta Encoder (C4): computing and applying
// structural, additive-only diffs between two structured-message content
// maps.
package delta

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/cbp-bus/semreg"
	"github.com/jeeves-cluster-organization/cbp-bus/typeutil"
)

// Diff computes the additive structural diff of current against base,
// following §4.4's rules exactly:
//   - keys only in current are emitted in full
//   - keys whose value differs recurse if both sides are maps, otherwise
//     are overwritten wholesale
//   - keys present in base but absent from current are NOT recorded; this
//     is an explicit, documented limitation (deletions do not round-trip)
func Diff(base, current map[string]any) map[string]any {
	out := make(map[string]any)

	for k, curVal := range current {
		baseVal, inBase := base[k]
		if !inBase {
			out[k] = curVal
			continue
		}
		if typeutil.DeepEqual(baseVal, curVal) {
			continue
		}

		baseMap, baseIsMap := typeutil.SafeMap(baseVal)
		curMap, curIsMap := typeutil.SafeMap(curVal)
		if baseIsMap && curIsMap {
			nested := Diff(baseMap, curMap)
			if len(nested) > 0 {
				out[k] = nested
			}
			continue
		}

		out[k] = curVal
	}

	return out
}

// Apply reconstructs current from base and a diff produced by Diff,
// following §4.4's merge rules: start from a copy of base, and for each
// delta key recurse if both sides are maps, otherwise overwrite.
func Apply(base, diff map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(diff))
	for k, v := range base {
		out[k] = v
	}

	for k, deltaVal := range diff {
		baseVal, inBase := out[k]
		deltaMap, deltaIsMap := typeutil.SafeMap(deltaVal)
		baseMap, baseIsMap := typeutil.SafeMap(baseVal)
		if inBase && deltaIsMap && baseIsMap {
			out[k] = Apply(baseMap, deltaMap)
			continue
		}
		out[k] = deltaVal
	}

	return out
}

// Encoder keeps a map of base_hash -> base content so that Reconstruct can
// resolve a delta even after the Semantic Registry has evicted the
// underlying encoded bytes. It is intentionally independent of the Semantic
// Registry's own eviction policy (§4.4, §9); stored bases are never evicted.
type Encoder struct {
	mu    sync.Mutex
	bases map[uint64]map[string]any
}

// NewEncoder creates an empty delta encoder.
func NewEncoder() *Encoder {
	return &Encoder{bases: make(map[uint64]map[string]any)}
}

// ComputeDelta mirrors the source's compute_delta behavior precisely:
//   - if baseHash is nil, or is non-nil but not a base we've seen, current
//     is stored as a new base and returned in full as the "delta" with
//     bytesSaved = 0, and its own hash is returned as newBaseHash
//   - otherwise current is diffed against the stored base, current is then
//     re-stored as a new candidate base under its own hash, and bytesSaved
//     is estimated by comparing an approximate serialized size of the full
//     content against the diff (a reporting aid only, not on the wire)
func (e *Encoder) ComputeDelta(current map[string]any, baseHash *uint64) (diffOut map[string]any, newBaseHash uint64, bytesSaved int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	contentHash := contentHash(current)

	if baseHash == nil {
		e.bases[contentHash] = current
		return current, contentHash, 0
	}
	base, ok := e.bases[*baseHash]
	if !ok {
		e.bases[contentHash] = current
		return current, contentHash, 0
	}

	d := Diff(base, current)
	e.bases[contentHash] = current

	fullSize := approxSize(current)
	diffSize := approxSize(d)
	saved := fullSize - diffSize
	if saved < 0 {
		saved = 0
	}

	return d, contentHash, saved
}

// Reconstruct resolves a delta back into full content using the base
// identified by baseHash. Reports false if the base is unknown (the encoder
// never saw it).
func (e *Encoder) Reconstruct(diffIn map[string]any, baseHash uint64) (map[string]any, bool) {
	e.mu.Lock()
	base, ok := e.bases[baseHash]
	e.mu.Unlock()

	if !ok {
		return nil, false
	}
	return Apply(base, diffIn), true
}

// contentHash hashes an approximate canonical serialization of content for
// use as a base-tracking key. It is independent of, but uses the same
// 64-bit hash function as, the Semantic Registry (§9 hashing note).
func contentHash(content map[string]any) uint64 {
	b, err := json.Marshal(content)
	if err != nil {
		// content produced by the codec/bus is always JSON-representable
		// MessagePack-derived data; a marshal failure here indicates a
		// caller passed something pathological (e.g. a channel). Fall back
		// to hashing the sorted, concatenated key names so the call still
		// succeeds deterministically.
		return semreg.Hash([]byte(mapKeysSorted(content)))
	}
	return semreg.Hash(b)
}

// approxSize estimates the on-the-wire size of content for bytes_saved
// reporting purposes, mirroring the source's use of a JSON-size proxy
// rather than the actual MessagePack frame size.
func approxSize(content map[string]any) int {
	b, err := json.Marshal(content)
	if err != nil {
		return len(mapKeysSorted(content))
	}
	return len(b)
}

func mapKeysSorted(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "")
}
