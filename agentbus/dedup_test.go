package agentbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func TestRequestFingerprint_StableForEquivalentContent(t *testing.T) {
	r1 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"a": 1, "b": 2}, schema.PriorityNormal)
	r2 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"b": 2, "a": 1}, schema.PriorityNormal)

	assert.Equal(t, requestFingerprint(r1), requestFingerprint(r2))
}

func TestRequestFingerprint_DiffersOnContent(t *testing.T) {
	r1 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"a": 1}, schema.PriorityNormal)
	r2 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"a": 2}, schema.PriorityNormal)

	assert.NotEqual(t, requestFingerprint(r1), requestFingerprint(r2))
}

func TestRequestFingerprint_DiffersOnReceiver(t *testing.T) {
	r1 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"a": 1}, schema.PriorityNormal)
	r2 := message.NewRequest(schema.AgentAnalyzer, schema.AgentReflector, map[string]any{"a": 1}, schema.PriorityNormal)

	assert.NotEqual(t, requestFingerprint(r1), requestFingerprint(r2))
}

func TestDedupCache_MissThenHit(t *testing.T) {
	c := newDedupCache(time.Minute)

	_, ok := c.lookup(42)
	assert.False(t, ok)

	reply := message.NewResponse(schema.AgentCritic, message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal), map[string]any{"ok": true})
	c.store(42, reply)

	got, ok := c.lookup(42)
	assert.True(t, ok)
	assert.Equal(t, reply.MessageID, got.MessageID)
}

func TestDedupCache_ExpiresAfterTTL(t *testing.T) {
	c := newDedupCache(20 * time.Millisecond)
	c.store(1, message.Message{MessageID: "m1"})

	_, ok := c.lookup(1)
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.lookup(1)
	assert.False(t, ok)
}

func TestDedupCache_PurgeExpired(t *testing.T) {
	c := newDedupCache(10 * time.Millisecond)
	c.store(1, message.Message{MessageID: "m1"})
	c.store(2, message.Message{MessageID: "m2"})

	time.Sleep(20 * time.Millisecond)
	c.purgeExpired()

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestDedupCache_DefaultsTTLWhenZero(t *testing.T) {
	c := newDedupCache(0)
	assert.Equal(t, DefaultDedupTTL, c.ttl)
}

func TestNewDedupCache_PublicWrapper(t *testing.T) {
	c := NewDedupCache(time.Minute)
	assert.NotNil(t, c.inner)
	c.PurgeExpired() // should not panic on an empty cache
}
