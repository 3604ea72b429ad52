package agentbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newCircuitBreaker(DefaultBreakerConfig(), schema.AgentAnalyzer, schema.AgentCritic, nil)
	assert.True(t, cb.canExecute())
	assert.Equal(t, "closed", cb.state.String())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute, HalfOpenProbes: 1}
	cb := newCircuitBreaker(cfg, schema.AgentAnalyzer, schema.AgentCritic, nil)

	cb.recordFailure()
	cb.recordFailure()
	assert.Equal(t, "closed", cb.state.String())
	cb.recordFailure()
	assert.Equal(t, "open", cb.state.String())
	assert.False(t, cb.canExecute())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenProbes: 1}
	cb := newCircuitBreaker(cfg, schema.AgentAnalyzer, schema.AgentCritic, nil)

	cb.recordFailure()
	assert.Equal(t, "open", cb.state.String())
	assert.False(t, cb.canExecute())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.canExecute())
	assert.Equal(t, "half_open", cb.state.String())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenProbes: 1}
	cb := newCircuitBreaker(cfg, schema.AgentAnalyzer, schema.AgentCritic, nil)

	cb.recordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.canExecute())

	cb.recordSuccess()
	assert.Equal(t, "closed", cb.state.String())
	assert.True(t, cb.canExecute())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenProbes: 1}
	cb := newCircuitBreaker(cfg, schema.AgentAnalyzer, schema.AgentCritic, nil)

	cb.recordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.canExecute())

	cb.recordFailure()
	assert.Equal(t, "open", cb.state.String())
	assert.False(t, cb.canExecute())
}

func TestCircuitBreaker_HalfOpenLimitsInFlightProbes(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenProbes: 1}
	cb := newCircuitBreaker(cfg, schema.AgentAnalyzer, schema.AgentCritic, nil)

	cb.recordFailure()
	time.Sleep(15 * time.Millisecond)

	assert.True(t, cb.canExecute())
	// A second probe while the first is still in flight must be refused.
	assert.False(t, cb.canExecute())
}

func TestCircuitBreaker_OnTransitionCallback(t *testing.T) {
	var transitions []string
	cfg := BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenProbes: 1}
	cb := newCircuitBreaker(cfg, schema.AgentAnalyzer, schema.AgentCritic, func(caller, callee schema.AgentID, toState string) {
		transitions = append(transitions, toState)
	})

	cb.recordFailure()
	assert.Equal(t, []string{"open"}, transitions)
}

func TestBreakerRegistry_IsolatesPerPair(t *testing.T) {
	r := newBreakerRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenProbes: 1})

	cbAC := r.get(schema.AgentAnalyzer, schema.AgentCritic)
	cbAC.recordFailure()

	cbAR := r.get(schema.AgentAnalyzer, schema.AgentReflector)
	assert.True(t, cbAR.canExecute())
	assert.False(t, cbAC.canExecute())
}

func TestBreakerRegistry_GetIsStable(t *testing.T) {
	r := newBreakerRegistry(DefaultBreakerConfig())
	a := r.get(schema.AgentAnalyzer, schema.AgentCritic)
	b := r.get(schema.AgentAnalyzer, schema.AgentCritic)
	assert.Same(t, a, b)
}

func TestBreakerRegistry_StatsAll(t *testing.T) {
	r := newBreakerRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, HalfOpenProbes: 1})
	r.get(schema.AgentAnalyzer, schema.AgentCritic).recordFailure()
	r.get(schema.AgentStrategist, schema.AgentReflector)

	stats := r.statsAll()
	assert.Len(t, stats, 2)
}

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenProbes)
}
