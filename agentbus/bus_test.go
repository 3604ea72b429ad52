package agentbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func echoHandler(t *testing.T) Handler {
	return func(ctx context.Context, m message.Message) (*message.Message, error) {
		reply := message.NewResponse(m.Receiver, m, map[string]any{"echo": m.Content})
		return &reply, nil
	}
}

func TestBus_SendAndWait_RoundTrip(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, echoHandler(t))
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"x": 1}, schema.PriorityNormal)
	reply, err := bus.SendAndWait(context.Background(), req, time.Second)

	require.NoError(t, err)
	assert.Equal(t, req.MessageID, reply.InResponseTo)
	assert.Equal(t, schema.AgentAnalyzer, reply.Receiver)
}

func TestBus_SendAndWait_TimesOutWithNoHandlerReply(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		return nil, nil // swallow the request, never reply
	})
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.SendAndWait(context.Background(), req, 30*time.Millisecond)

	require.Error(t, err)
	assert.True(t, cbperr.Is(err, cbperr.KindTimeout))
	assert.Equal(t, uint64(1), bus.Stats().Timeouts)
}

func TestBus_SendAndWait_LateReplyIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		<-release
		reply := message.NewResponse(m.Receiver, m, nil)
		return &reply, nil
	})
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.SendAndWait(context.Background(), req, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, cbperr.Is(err, cbperr.KindTimeout))

	close(release)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, uint64(1), bus.Stats().RepliesDiscarded)
}

func TestBus_Send_NoAgentRegistered(t *testing.T) {
	bus := New(Config{})
	bus.Start()
	defer bus.Stop()

	m := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.Send(m)

	require.Error(t, err)
	assert.True(t, cbperr.Is(err, cbperr.KindAgentNotFound))
}

func TestBus_Broadcast_DeliversToAllExceptSender(t *testing.T) {
	bus := New(Config{})

	receivedA := make(chan message.Message, 1)
	receivedB := make(chan message.Message, 1)
	bus.Register(schema.AgentAnalyzer, func(ctx context.Context, m message.Message) (*message.Message, error) {
		receivedA <- m
		return nil, nil
	})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		receivedB <- m
		return nil, nil
	})
	bus.Start()
	defer bus.Stop()

	m := message.NewNotification(schema.KindContext, schema.AgentStrategist, schema.AgentBroadcast, map[string]any{"hi": true}, schema.PriorityNormal)
	_, err := bus.Send(m)
	require.NoError(t, err)

	select {
	case got := <-receivedA:
		assert.Equal(t, m.MessageID, got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("analyzer never received broadcast")
	}
	select {
	case got := <-receivedB:
		assert.Equal(t, m.MessageID, got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("critic never received broadcast")
	}
}

func TestBus_HandlerError_RoutesErrorBackToSender(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		return nil, cbperr.New(cbperr.KindInvalidInput, "bad request")
	})
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.SendAndWait(context.Background(), req, time.Second)

	require.Error(t, err)
	assert.Equal(t, uint64(1), bus.Stats().HandlerErrors)
}

func TestBus_HandlerPanic_IsRecoveredAndSurfacedAsError(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		panic("boom")
	})
	bus.Start()
	defer bus.Stop()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.SendAndWait(context.Background(), req, time.Second)

	require.Error(t, err)
	assert.Equal(t, uint64(1), bus.Stats().HandlerErrors)

	// The worker must still be alive to handle a second message after the panic.
	req2 := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err = bus.SendAndWait(context.Background(), req2, time.Second)
	require.Error(t, err)
	assert.Equal(t, uint64(2), bus.Stats().HandlerErrors)
}

func TestBus_Unregister_StopsDelivery(t *testing.T) {
	bus := New(Config{})
	var calls int
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		calls++
		return nil, nil
	})
	bus.Start()
	defer bus.Stop()

	bus.Unregister(schema.AgentCritic)

	m := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	_, err := bus.Send(m)
	require.Error(t, err)
	assert.True(t, cbperr.Is(err, cbperr.KindAgentNotFound))
}

func TestBus_CapabilityDiscovery(t *testing.T) {
	bus := New(Config{})
	bus.RegisterCapability(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze", SuccessRate: 0.9}},
		Availability: true,
	})

	agents := bus.FindAgentsForCapability("analyze")
	assert.Equal(t, []schema.AgentID{schema.AgentAnalyzer}, agents)

	best, found := bus.BestAgentForTask([]string{"analyze"})
	assert.True(t, found)
	assert.Equal(t, schema.AgentAnalyzer, best)
}

func TestBus_History_FiltersByReceiver(t *testing.T) {
	bus := New(Config{HistoryLimit: 10})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		return nil, nil
	})
	bus.Register(schema.AgentReflector, func(ctx context.Context, m message.Message) (*message.Message, error) {
		return nil, nil
	})
	bus.Start()
	defer bus.Stop()

	toCritic := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	toReflector := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentReflector, nil, schema.PriorityNormal)
	_, _ = bus.Send(toCritic)
	_, _ = bus.Send(toReflector)

	time.Sleep(30 * time.Millisecond)

	critic := schema.AgentCritic
	history := bus.History(HistoryFilter{Receiver: &critic}, 0)
	require.Len(t, history, 1)
	assert.Equal(t, toCritic.MessageID, history[0].MessageID)
}

func TestBus_StartIsIdempotent(t *testing.T) {
	bus := New(Config{})
	bus.Start()
	bus.Start() // must not panic or double-spawn
	bus.Stop()
}

func TestBus_StopFailsAllPending(t *testing.T) {
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		time.Sleep(time.Hour) // never completes before Stop
		return nil, nil
	})
	bus.Start()

	req := message.NewRequest(schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	errCh := make(chan error, 1)
	go func() {
		_, err := bus.SendAndWait(context.Background(), req, time.Minute)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Stop()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, cbperr.Is(err, cbperr.KindBusShuttingDown))
	case <-time.After(time.Second):
		t.Fatal("pending send_and_wait never resolved on Stop")
	}
}

func TestBus_PriorityOrderingAcrossMultipleSends(t *testing.T) {
	var order []string
	done := make(chan struct{})
	bus := New(Config{})
	bus.Register(schema.AgentCritic, func(ctx context.Context, m message.Message) (*message.Message, error) {
		order = append(order, m.Content["label"].(string))
		if len(order) == 3 {
			close(done)
		}
		return nil, nil
	})

	_, _ = bus.Send(message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"label": "low"}, schema.PriorityLow))
	_, _ = bus.Send(message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"label": "critical"}, schema.PriorityCritical))
	_, _ = bus.Send(message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"label": "normal"}, schema.PriorityNormal))

	bus.Start()
	defer bus.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never drained all three messages")
	}

	assert.Equal(t, []string{"critical", "normal", "low"}, order)
}
