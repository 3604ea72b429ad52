// Package agentbus implements the Agent Message Bus (C5, §4.5): an
// in-process publish/subscribe and request/response router with
// per-recipient priority queues, correlation-based reply matching, a
// capability-discovery registry, per-(caller,callee) circuit breakers,
// exponential-backoff retry, and a TTL request-deduplication cache.
//
// It is grounded on commbus's InMemoryCommBus (handler registration,
// injectable BusLogger, middleware chain) generalized from commbus's
// string-keyed, single-handler-per-type routing to the spec's
// AgentID-keyed, priority-queued, per-recipient-worker model.
package agentbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/commbus"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// Handler processes one structured message and optionally yields one
// reply. A nil reply means the message was fully handled with nothing to
// send back (e.g. a notification or a one-way coordination message).
type Handler func(ctx context.Context, m message.Message) (*message.Message, error)

// DefaultHistoryLimit is the bounded diagnostics history size of §6.
const DefaultHistoryLimit = 10000

// Config configures a Bus at construction time.
type Config struct {
	Logger        commbus.BusLogger
	HistoryLimit  int
	BreakerConfig BreakerConfig
	// Diagnostics, if set, receives lifecycle events (agent
	// registered/unregistered, breaker transitions, bus start/stop) as
	// commbus events — the diagnostics fan-out channel for integrators
	// who want WebSocket/telemetry visibility into the bus without
	// coupling agentbus itself to any particular sink.
	Diagnostics commbus.CommBus
}

type pendingReply struct {
	ch chan replyOrErr
}

type replyOrErr struct {
	msg message.Message
	err error
}

// Bus is the concrete Agent Message Bus (C5).
type Bus struct {
	mu       sync.RWMutex
	handlers map[schema.AgentID]Handler
	queues   map[schema.AgentID]*priorityQueue
	running  bool
	wg       sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]*pendingReply

	capabilities *capabilityIndex
	breakers     *breakerRegistry

	history *historyLog
	logger  commbus.BusLogger
	diag    commbus.CommBus

	statsMu sync.Mutex
	stats   Stats
}

// Stats summarizes bus-wide counters for diagnostics (§6 Bus API stats()).
type Stats struct {
	MessagesSent      uint64
	MessagesDelivered uint64
	MessagesBroadcast uint64
	HandlerErrors     uint64
	RepliesCorrelated uint64
	RepliesDiscarded  uint64
	Timeouts          uint64
}

// New constructs a Bus. Call Start before registering handlers that need
// to begin processing immediately, or register first and Start after —
// both orders are supported (§4.5.1).
func New(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = commbus.NoopBusLogger()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	b := &Bus{
		handlers:     make(map[schema.AgentID]Handler),
		queues:       make(map[schema.AgentID]*priorityQueue),
		pending:      make(map[string]*pendingReply),
		capabilities: newCapabilityIndex(),
		breakers:     newBreakerRegistry(cfg.BreakerConfig),
		history:      newHistoryLog(cfg.HistoryLimit),
		logger:       cfg.Logger,
		diag:         cfg.Diagnostics,
	}
	b.breakers.onTransition = func(caller, callee schema.AgentID, toState string) {
		b.publishDiag(&commbus.CircuitBreakerTransitioned{Caller: uint8(caller), Callee: uint8(callee), ToState: toState})
	}
	return b
}

func (b *Bus) publishDiag(event commbus.Message) {
	if b.diag == nil {
		return
	}
	_ = b.diag.Publish(context.Background(), event)
}

// Register adds a handler for agentID (§4.5.1). If the bus is already
// running, a worker is spawned immediately; otherwise spawning is
// deferred to Start.
func (b *Bus) Register(agentID schema.AgentID, handler Handler) {
	b.mu.Lock()
	b.handlers[agentID] = handler
	q, exists := b.queues[agentID]
	if !exists {
		q = newPriorityQueue()
		b.queues[agentID] = q
	}
	running := b.running
	if running {
		b.wg.Add(1)
		go b.runWorker(agentID, handler, q)
	}
	b.mu.Unlock()

	b.logger.Info("agent_registered", "agent_id", agentID, "running", running)
	b.publishDiag(&commbus.AgentRegistered{AgentID: uint8(agentID)})
}

// Unregister removes agentID's handler and stops its worker (§4.5.1).
func (b *Bus) Unregister(agentID schema.AgentID) {
	b.mu.Lock()
	delete(b.handlers, agentID)
	q, exists := b.queues[agentID]
	delete(b.queues, agentID)
	b.mu.Unlock()

	if exists {
		q.close()
	}
	b.capabilities.unregister(agentID)
	b.logger.Info("agent_unregistered", "agent_id", agentID)
	b.publishDiag(&commbus.AgentUnregistered{AgentID: uint8(agentID)})
}

// RegisterCapability adds or updates the capability-discovery entry for
// an agent (§4.5.1, §4.5.8).
func (b *Bus) RegisterCapability(entry AgentRegistration) {
	b.capabilities.register(entry)
	b.publishDiag(&commbus.CapabilityRegistered{AgentID: uint8(entry.AgentID), Capabilities: capabilityNames(entry.Capabilities)})
}

func capabilityNames(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = c.Name
	}
	return out
}

// FindAgentsForCapability implements §4.5.8.
func (b *Bus) FindAgentsForCapability(name string) []schema.AgentID {
	return b.capabilities.findAgentsForCapability(name)
}

// BestAgentForTask implements §4.5.8.
func (b *Bus) BestAgentForTask(requiredCapabilities []string) (schema.AgentID, bool) {
	return b.capabilities.bestAgentForTask(requiredCapabilities)
}

// Start spawns a worker for every currently-registered agent (§4.5.1).
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	for agentID, handler := range b.handlers {
		q := b.queues[agentID]
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			// A previous Stop closed this queue; the new worker gets a fresh one.
			q = newPriorityQueue()
			b.queues[agentID] = q
		}
		b.wg.Add(1)
		go b.runWorker(agentID, handler, q)
	}
	b.mu.Unlock()

	b.logger.Info("bus_started")
	b.publishDiag(&commbus.BusStarted{})
}

// Stop closes every worker's queue and fails all pending promises with
// bus_shutting_down (§4.5.4, §5). It does not wait for in-flight handler
// calls to return; a worker exits once its current handler returns and its
// queue is drained. The registry of handlers/capabilities is left intact;
// a stopped Bus may be Start-ed again.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	for _, q := range b.queues {
		q.close()
	}
	b.mu.Unlock()

	b.pendingMu.Lock()
	for id, p := range b.pending {
		delete(b.pending, id)
		p.ch <- replyOrErr{err: cbperr.New(cbperr.KindBusShuttingDown, "bus stopped with request still pending")}
	}
	b.pendingMu.Unlock()

	b.logger.Info("bus_stopped")
	b.publishDiag(&commbus.BusStopped{})
}

func (b *Bus) runWorker(agentID schema.AgentID, handler Handler, q *priorityQueue) {
	defer b.wg.Done()
	ctx := context.Background()

	for {
		m, ok := q.pop()
		if !ok {
			return
		}

		b.history.append(m)
		start := time.Now()
		reply, err := b.invokeHandler(ctx, agentID, handler, m)
		recordHandlerDuration(schema.AgentName(agentID), time.Since(start).Seconds())

		if err != nil {
			b.statsInc(func(s *Stats) { s.HandlerErrors++ })
			b.logger.Error("handler_failed", "agent_id", agentID, "message_id", m.MessageID, "error", err.Error())
			errMsg := message.NewError(agentID, m.Sender, m.MessageID, handlerErrorKind(err), err.Error())
			b.routeOrResolve(errMsg)
			continue
		}
		if reply != nil {
			b.routeOrResolve(*reply)
		}
	}
}

// invokeHandler calls handler inside a panic-safe recovery boundary: a
// handler panic is recovered, logged with a stack trace, and surfaced as an
// ordinary handler error rather than crashing the worker goroutine. This
// keeps the §4.5.3 guarantee that every send_and_wait caller gets a reply,
// an error, or a timeout — never a dead process.
func (b *Bus) invokeHandler(ctx context.Context, agentID schema.AgentID, handler Handler, m message.Message) (reply *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler_panicked", "agent_id", agentID, "message_id", m.MessageID,
				"panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
			reply = nil
			err = cbperr.New(cbperr.KindHandlerFailure, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return handler(ctx, m)
}

func handlerErrorKind(err error) string {
	if ce, ok := err.(*cbperr.Error); ok {
		return string(ce.Kind())
	}
	return string(cbperr.KindHandlerFailure)
}

// routeOrResolve implements the post-processing rule of §4.5.3: a reply
// correlated to a live pending request resolves that promise and is not
// re-enqueued; anything else is routed as a normal send. A reply whose
// InResponseTo no longer has a pending entry (already timed out) is
// discarded per §5's "a late reply arriving after timeout is discarded".
func (b *Bus) routeOrResolve(m message.Message) {
	if m.InResponseTo != "" {
		var resolveErr error
		if m.Kind == schema.KindError {
			resolveErr = errorReplyToErr(m)
		}
		if b.resolvePending(m.InResponseTo, m, resolveErr) {
			b.statsInc(func(s *Stats) { s.RepliesCorrelated++ })
			return
		}
		b.statsInc(func(s *Stats) { s.RepliesDiscarded++ })
		b.logger.Debug("late_reply_discarded", "in_response_to", m.InResponseTo)
		return
	}
	if _, err := b.deliver(m); err != nil {
		b.logger.Warn("route_failed", "message_id", m.MessageID, "error", err.Error())
	}
}

// errorReplyToErr turns a KindError reply (§4.5.3) back into a Go error so
// that SendAndWait/ResilientSendAndWait callers and the circuit breaker see
// a handler failure as a failure, not a successful round trip.
func errorReplyToErr(m message.Message) error {
	kind := cbperr.KindHandlerFailure
	if k, ok := m.Content["error_kind"].(string); ok && k != "" {
		kind = cbperr.Kind(k)
	}
	description, _ := m.Content["description"].(string)
	if description == "" {
		description = "handler reported an error"
	}
	return cbperr.New(kind, description).WithContext(map[string]any{"original_message_id": m.InResponseTo})
}

func (b *Bus) resolvePending(id string, m message.Message, err error) bool {
	b.pendingMu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()

	if !ok {
		return false
	}
	p.ch <- replyOrErr{msg: m, err: err}
	return true
}

// Send routes m and returns its message_id (§4.5.2). Broadcast receivers
// fan out to every registered agent except the sender; concrete receivers
// enqueue on that agent's priority queue.
func (b *Bus) Send(m message.Message) (string, error) {
	return b.deliver(m)
}

func (b *Bus) deliver(m message.Message) (string, error) {
	b.statsInc(func(s *Stats) { s.MessagesSent++ })

	if m.IsBroadcast() {
		b.mu.RLock()
		targets := make([]*priorityQueue, 0, len(b.queues))
		for id, q := range b.queues {
			if id == m.Sender {
				continue
			}
			targets = append(targets, q)
		}
		b.mu.RUnlock()

		for _, q := range targets {
			q.push(m)
		}
		b.statsInc(func(s *Stats) { s.MessagesBroadcast++ })
		recordRouted(kindLabel(m.Kind), "broadcast")
		return m.MessageID, nil
	}

	b.mu.RLock()
	q, ok := b.queues[m.Receiver]
	b.mu.RUnlock()
	if !ok {
		recordRouted(kindLabel(m.Kind), "no_handler")
		return m.MessageID, cbperr.New(cbperr.KindAgentNotFound, fmt.Sprintf("no agent registered for receiver 0x%02x", uint8(m.Receiver))).
			WithContext(map[string]any{"receiver": m.Receiver})
	}

	q.push(m)
	b.statsInc(func(s *Stats) { s.MessagesDelivered++ })
	recordRouted(kindLabel(m.Kind), "delivered")
	return m.MessageID, nil
}

func kindLabel(k schema.MessageKind) string {
	if name, ok := schema.MessageKindName(k); ok {
		return name
	}
	return "unknown"
}

// SendAndWait implements §4.5.2: register a pending-reply promise keyed
// by request.MessageID, send the request, and await the promise with a
// timeout. On timeout the promise is removed so a late reply is
// discarded rather than delivered (§5).
func (b *Bus) SendAndWait(ctx context.Context, request message.Message, timeout time.Duration) (message.Message, error) {
	ctx, span := startSendSpan(ctx, request.Sender, request.Receiver, request)
	reply, err := b.sendAndWait(ctx, request, timeout)
	endSendSpan(span, err)
	return reply, err
}

func (b *Bus) sendAndWait(ctx context.Context, request message.Message, timeout time.Duration) (message.Message, error) {
	p := &pendingReply{ch: make(chan replyOrErr, 1)}

	b.pendingMu.Lock()
	b.pending[request.MessageID] = p
	b.pendingMu.Unlock()

	if _, err := b.deliver(request); err != nil {
		b.pendingMu.Lock()
		delete(b.pending, request.MessageID)
		b.pendingMu.Unlock()
		return message.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		if r.err != nil {
			return message.Message{}, r.err
		}
		return r.msg, nil
	case <-timer.C:
		b.pendingMu.Lock()
		delete(b.pending, request.MessageID)
		b.pendingMu.Unlock()
		b.statsInc(func(s *Stats) { s.Timeouts++ })
		return message.Message{}, cbperr.New(cbperr.KindTimeout, "send_and_wait timed out").
			WithContext(map[string]any{"message_id": request.MessageID, "timeout": timeout.String()})
	case <-ctx.Done():
		b.pendingMu.Lock()
		delete(b.pending, request.MessageID)
		b.pendingMu.Unlock()
		return message.Message{}, cbperr.Wrap(cbperr.KindTimeout, "send_and_wait cancelled", ctx.Err())
	}
}

func (b *Bus) statsInc(f func(*Stats)) {
	b.statsMu.Lock()
	f(&b.stats)
	b.statsMu.Unlock()
}

// Stats returns a snapshot of bus-wide counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// BreakerStats exposes every (caller,callee) circuit breaker's current
// state for diagnostics (§4.5.6 stats()).
func (b *Bus) BreakerStats() []BreakerStats {
	return b.breakers.statsAll()
}

// HistoryFilter narrows History results. A zero-value filter matches
// everything.
type HistoryFilter struct {
	Sender   *schema.AgentID
	Receiver *schema.AgentID
	Kind     *schema.MessageKind
}

// History returns up to limit most-recent messages matching filter (§6:
// "a bounded message history... is maintained for diagnostics"). limit<=0
// means "all that match, up to the history cap".
func (b *Bus) History(filter HistoryFilter, limit int) []message.Message {
	return b.history.query(filter, limit)
}
