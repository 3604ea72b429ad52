package agentbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func TestPriorityQueue_DequeuesHighestLaneFirst(t *testing.T) {
	q := newPriorityQueue()

	low := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityLow)
	normal := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	high := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityHigh)
	critical := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityCritical)

	q.push(low)
	q.push(normal)
	q.push(high)
	q.push(critical)

	m, ok := q.pop()
	assert.True(t, ok)
	assert.Equal(t, critical.MessageID, m.MessageID)

	m, ok = q.pop()
	assert.True(t, ok)
	assert.Equal(t, high.MessageID, m.MessageID)

	m, ok = q.pop()
	assert.True(t, ok)
	assert.Equal(t, normal.MessageID, m.MessageID)

	m, ok = q.pop()
	assert.True(t, ok)
	assert.Equal(t, low.MessageID, m.MessageID)
}

func TestPriorityQueue_StrictFIFOWithinLane(t *testing.T) {
	q := newPriorityQueue()

	first := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"n": 1}, schema.PriorityNormal)
	second := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"n": 2}, schema.PriorityNormal)
	third := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, map[string]any{"n": 3}, schema.PriorityNormal)

	q.push(first)
	q.push(second)
	q.push(third)

	m1, _ := q.pop()
	m2, _ := q.pop()
	m3, _ := q.pop()

	assert.Equal(t, first.MessageID, m1.MessageID)
	assert.Equal(t, second.MessageID, m2.MessageID)
	assert.Equal(t, third.MessageID, m3.MessageID)
}

func TestPriorityQueue_PopBlocksUntilPush(t *testing.T) {
	q := newPriorityQueue()

	done := make(chan message.Message, 1)
	go func() {
		m, ok := q.pop()
		if ok {
			done <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("pop returned before any push")
	default:
	}

	m := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	q.push(m)

	select {
	case got := <-done:
		assert.Equal(t, m.MessageID, got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("pop never woke after push")
	}
}

func TestPriorityQueue_CloseUnblocksPop(t *testing.T) {
	q := newPriorityQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop never unblocked on close")
	}
}

func TestPriorityQueue_PushAfterCloseIsDropped(t *testing.T) {
	q := newPriorityQueue()
	q.close()

	m := message.NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentCritic, nil, schema.PriorityNormal)
	q.push(m)

	assert.Equal(t, 0, q.len())
}

func TestLaneIndex(t *testing.T) {
	assert.Equal(t, 0, laneIndex(schema.PriorityLow))
	assert.Equal(t, 1, laneIndex(schema.PriorityNormal))
	assert.Equal(t, 2, laneIndex(schema.PriorityHigh))
	assert.Equal(t, 3, laneIndex(schema.PriorityCritical))
	assert.Equal(t, 1, laneIndex(schema.Priority(0)))
}
