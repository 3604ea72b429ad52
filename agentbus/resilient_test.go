package agentbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func TestResilientSendAndWait_SucceedsThroughBreakerAndRetry(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		reply := message.NewResponse(m.Receiver, m, map[string]any{"ok": true})
		return &reply, nil
	})
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"task": "analyze"}, schema.PriorityNormal)
	reply, err := bus.ResilientSendAndWait(context.Background(), req, ResilientOptions{
		Timeout: time.Second,
		Retry:   DefaultRetryConfig(),
	})

	require.NoError(t, err)
	assert.Equal(t, req.MessageID, reply.InResponseTo)
}

func TestResilientSendAndWait_DedupCacheServesSecondCall(t *testing.T) {
	var calls int32
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		atomic.AddInt32(&calls, 1)
		reply := message.NewResponse(m.Receiver, m, map[string]any{"n": calls})
		return &reply, nil
	})
	bus.Start()
	defer bus.Stop()

	cache := NewDedupCache(time.Minute)
	opts := ResilientOptions{Timeout: time.Second, Retry: DefaultRetryConfig(), UseDedup: true, DedupCache: cache}

	req1 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"task": "analyze"}, schema.PriorityNormal)
	_, err := bus.ResilientSendAndWait(context.Background(), req1, opts)
	require.NoError(t, err)

	req2 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"task": "analyze"}, schema.PriorityNormal)
	_, err = bus.ResilientSendAndWait(context.Background(), req2, opts)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call should be served from the dedup cache")
}

func TestResilientSendAndWait_OpenBreakerShortCircuits(t *testing.T) {
	bus := New(Config{BreakerConfig: BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenProbes: 1}})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		return nil, cbperr.New(cbperr.KindResource, "overloaded")
	})
	bus.Start()
	defer bus.Stop()

	opts := ResilientOptions{Timeout: 200 * time.Millisecond, Retry: RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Base: 2.0}}

	req1 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.ResilientSendAndWait(context.Background(), req1, opts)
	require.Error(t, err)

	req2 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err = bus.ResilientSendAndWait(context.Background(), req2, opts)
	require.Error(t, err)
	assert.True(t, cbperr.Is(err, cbperr.KindCircuitOpen))
}

func TestResilientSendAndWait_DefaultsTimeoutWhenZero(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		reply := message.NewResponse(m.Receiver, m, nil)
		return &reply, nil
	})
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.ResilientSendAndWait(context.Background(), req, ResilientOptions{})
	assert.NoError(t, err)
}
