package agentbus

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// breakerState is the three-state machine of §4.5.6, adapted from
// commbus's CircuitBreakerMiddleware (keyed there by message type; here by
// a (caller, callee) agent pair so that one flaky peer does not trip
// breakers for unrelated routes).
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes one circuit breaker instance.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening; default 5
	ResetTimeout     time.Duration // time in open before a half-open probe is allowed; default 30s
	HalfOpenProbes   int           // successful probes required to close; default 1
}

// DefaultBreakerConfig matches §4.5.6's stated defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenProbes: 1}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
	return c
}

// circuitBreaker is one (caller, callee) instance, §3 "Circuit breaker
// state per (caller, callee)".
type circuitBreaker struct {
	mu                  sync.Mutex
	cfg                 BreakerConfig
	state               breakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	openedAt            time.Time
	successInHalfOpen   int
	halfOpenInFlight    bool

	caller, callee schema.AgentID
	onTransition   func(caller, callee schema.AgentID, toState string)
}

func newCircuitBreaker(cfg BreakerConfig, caller, callee schema.AgentID, onTransition func(caller, callee schema.AgentID, toState string)) *circuitBreaker {
	return &circuitBreaker{cfg: cfg.withDefaults(), state: breakerClosed, caller: caller, callee: callee, onTransition: onTransition}
}

func (b *circuitBreaker) notify() {
	recordBreakerTransition(b.state.String())
	if b.onTransition != nil {
		b.onTransition(b.caller, b.callee, b.state.String())
	}
}

// canExecute reports whether a call should be dispatched right now. Per
// §4.5.6, an open breaker transitions itself to half_open once
// ResetTimeout has elapsed, and half_open permits one probe call in flight
// at a time (cfg.HalfOpenProbes counts the successful probes needed to
// close).
func (b *circuitBreaker) canExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = breakerHalfOpen
			b.successInHalfOpen = 0
			b.halfOpenInFlight = false
			b.notify()
		} else {
			return false
		}
		fallthrough
	case breakerHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// recordSuccess closes the breaker from half_open after enough probes
// succeed, or resets the failure streak while closed.
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.successInHalfOpen++
		b.halfOpenInFlight = false
		if b.successInHalfOpen >= b.cfg.HalfOpenProbes {
			b.state = breakerClosed
			b.consecutiveFailures = 0
			b.successInHalfOpen = 0
			b.notify()
		}
	case breakerClosed:
		b.consecutiveFailures = 0
	}
}

// recordFailure trips the breaker open on threshold, or reopens it
// immediately if a half-open probe failed.
func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = b.lastFailureTime
		b.halfOpenInFlight = false
		b.successInHalfOpen = 0
		b.notify()
	case breakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = breakerOpen
			b.openedAt = b.lastFailureTime
			b.notify()
		}
	}
}

// BreakerStats is the diagnostic snapshot exposed by Bus.BreakerStats.
type BreakerStats struct {
	Caller              schema.AgentID
	Callee              schema.AgentID
	State               string
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

func (b *circuitBreaker) stats(caller, callee schema.AgentID) BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Caller:              caller,
		Callee:              callee,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
	}
}

type breakerKey struct {
	caller schema.AgentID
	callee schema.AgentID
}

// breakerRegistry owns one circuitBreaker per (caller, callee) pair,
// created lazily on first use.
type breakerRegistry struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	breakers     map[breakerKey]*circuitBreaker
	onTransition func(caller, callee schema.AgentID, toState string)
}

func newBreakerRegistry(cfg BreakerConfig) *breakerRegistry {
	return &breakerRegistry{cfg: cfg.withDefaults(), breakers: make(map[breakerKey]*circuitBreaker)}
}

func (r *breakerRegistry) get(caller, callee schema.AgentID) *circuitBreaker {
	key := breakerKey{caller, callee}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := newCircuitBreaker(r.cfg, caller, callee, r.onTransition)
	r.breakers[key] = b
	return b
}

func (r *breakerRegistry) statsAll() []BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BreakerStats, 0, len(r.breakers))
	for k, b := range r.breakers {
		out = append(out, b.stats(k.caller, k.callee))
	}
	return out
}
