package agentbus

import (
	"sync"

	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// priorityQueue is a single recipient's inbound mailbox: four FIFO lanes,
// one per schema.Priority level. Dequeue always drains the highest
// non-empty lane first (§4.5.3, §4.5.4): critical > high > normal > low,
// strict FIFO within a lane, unordered across recipients.
//
// Capacity is unbounded, matching §5's "send MUST NOT deadlock under
// normal load; unbounded is acceptable for the in-process spec".
type priorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	lanes  [4][]message.Message // index 0=low .. 3=critical
	closed bool
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func laneIndex(p schema.Priority) int {
	switch p {
	case schema.PriorityCritical:
		return 3
	case schema.PriorityHigh:
		return 2
	case schema.PriorityLow:
		return 0
	default:
		return 1 // PriorityNormal and any unrecognized value
	}
}

// push enqueues m on its priority lane and wakes one blocked worker.
func (q *priorityQueue) push(m message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	idx := laneIndex(m.Priority)
	q.lanes[idx] = append(q.lanes[idx], m)
	q.cond.Signal()
}

// pop blocks until a message is available or the queue is closed. ok is
// false only once the queue has been closed and drained.
func (q *priorityQueue) pop() (m message.Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for idx := 3; idx >= 0; idx-- {
			if len(q.lanes[idx]) > 0 {
				m = q.lanes[idx][0]
				q.lanes[idx] = q.lanes[idx][1:]
				return m, true
			}
		}
		if q.closed {
			return message.Message{}, false
		}
		q.cond.Wait()
	}
}

// close wakes every blocked pop so the worker can exit; messages already
// enqueued are still returned by pop until the queue is drained, and later
// pushes are dropped.
func (q *priorityQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *priorityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}
