package agentbus

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
	"github.com/jeeves-cluster-organization/cbp-bus/semreg"
)

// DefaultDedupTTL matches §4.5.7's stated default.
const DefaultDedupTTL = 10 * time.Second

// requestFingerprint implements §4.5.7's "stable fingerprint of the
// request (canonical serialization of { receiver, content } hashed to a
// byte string)", reusing semreg.Hash (§9: all three components — registry,
// delta base, dedup cache — agree on one 64-bit hash function).
func requestFingerprint(req message.Message) uint64 {
	canon := canonicalizeForHash(req.Content)
	b, err := json.Marshal(struct {
		Receiver schema.AgentID `json:"receiver"`
		Content  any            `json:"content"`
	}{req.Receiver, canon})
	if err != nil {
		// Content produced by callers is always JSON-representable; this
		// path only triggers for pathological inputs (channels, funcs),
		// which are not valid message content to begin with.
		b = []byte{byte(req.Receiver)}
	}
	return semreg.Hash(b)
}

// canonicalizeForHash recursively sorts map keys so two logically equal
// but differently-ordered payloads hash the same, and normalizes any
// MessagePack-shaped value json.Marshal would otherwise reject.
func canonicalizeForHash(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalizeForHash(val[k])
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = canonicalizeForHash(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalizeForHash(e)
		}
		return out
	default:
		return val
	}
}

type dedupEntry struct {
	reply      message.Message
	insertedAt time.Time
}

// dedupCache implements §4.5.7: a TTL'd request->reply memoization keyed
// by request fingerprint. Opt-in per call site (ResilientSendAndWait),
// never applied to plain Send/SendAndWait.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint64]dedupEntry
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &dedupCache{ttl: ttl, entries: make(map[uint64]dedupEntry)}
}

// lookup returns the cached reply if fingerprint was inserted within the
// last ttl; an expired entry is evicted on the read that discovers it.
func (c *dedupCache) lookup(fingerprint uint64) (message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return message.Message{}, false
	}
	if time.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, fingerprint)
		return message.Message{}, false
	}
	return e.reply, true
}

func (c *dedupCache) store(fingerprint uint64, reply message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = dedupEntry{reply: reply, insertedAt: time.Now()}
}

// purgeExpired drops every entry past its TTL; called opportunistically
// rather than on a background timer, since the cache is opt-in and small.
func (c *dedupCache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}
