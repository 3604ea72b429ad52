// Package semreg implements the Semantic Registry (C2): a bounded,
// content-addressed store used by the CBP codec to deduplicate repeated
// payloads and to reconstruct reference-only frames on decode.
//
// Eviction is strictly insertion-order. A cache hit increments ref_count
// and the hit counter but never refreshes the entry's insertion time; this
// is deliberately not LRU (§4.2, §9).
package semreg

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultMaxEntries matches the source implementation's default capacity.
const DefaultMaxEntries = 10000

type entry struct {
	bytes      []byte
	refCount   uint32
	insertedAt time.Time
}

// Registry is the bounded hash->bytes store. The zero value is not usable;
// construct with New.
type Registry struct {
	mu         sync.Mutex
	maxEntries int
	store      map[uint64]*entry
	order      []uint64 // insertion order, oldest first; used for eviction
	hits       uint64
	misses     uint64
}

// New creates a Registry bounded to maxEntries. A non-positive maxEntries
// falls back to DefaultMaxEntries.
func New(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Registry{
		maxEntries: maxEntries,
		store:      make(map[uint64]*entry),
		order:      make([]uint64, 0, maxEntries),
	}
}

// Hash computes the 64-bit content hash used as the registry key, the
// delta encoder's base-hash, and the bus dedup-cache fingerprint. All three
// components MUST use this same function for wire compatibility (§9).
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// StoreOrRef implements C2's store_or_ref contract. If data's hash already
// exists, it increments the ref count and returns isNew=false with
// bytesSaved = len(data) - 8 (the savings from replacing the payload with
// an 8-byte hash reference on the wire). Otherwise it inserts data,
// evicting the oldest entry first if at capacity, and returns isNew=true.
func (r *Registry) StoreOrRef(data []byte) (hash uint64, isNew bool, bytesSaved int) {
	h := Hash(data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.store[h]; ok {
		e.refCount++
		r.hits++
		return h, false, len(data) - 8
	}

	if len(r.store) >= r.maxEntries {
		r.evictOldestLocked()
	}

	r.store[h] = &entry{
		bytes:      append([]byte(nil), data...),
		refCount:   0,
		insertedAt: time.Now(),
	}
	r.order = append(r.order, h)
	r.misses++
	return h, true, 0
}

// evictOldestLocked removes the longest-resident entry. Callers must hold
// r.mu.
func (r *Registry) evictOldestLocked() {
	for len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		if _, ok := r.store[oldest]; ok {
			delete(r.store, oldest)
			return
		}
	}
}

// Get returns the stored bytes for hash, or (nil, false) if absent or
// evicted. A decode-time miss here is an unrecoverable protocol violation
// for the frame being decoded (§4.2 failure modes); the codec is
// responsible for turning that into a hash_not_found error.
func (r *Registry) Get(hash uint64) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.store[hash]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.bytes...), true
}

// Stats summarizes registry state for diagnostics.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	HitRate   float64
	TotalRefs uint64
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var totalRefs uint64
	for _, e := range r.store {
		totalRefs += uint64(e.refCount)
	}

	total := r.hits + r.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(r.hits) / float64(total)
	}

	return Stats{
		Entries:   len(r.store),
		Hits:      r.hits,
		Misses:    r.misses,
		HitRate:   hitRate,
		TotalRefs: totalRefs,
	}
}

// Clear empties the registry and resets all counters. Safe to call while
// other goroutines hold references returned by a prior Get, since Get
// returns copies.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store = make(map[uint64]*entry)
	r.order = r.order[:0]
	r.hits = 0
	r.misses = 0
}
