package agentbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func TestCapabilityIndex_RegisterAndFind(t *testing.T) {
	idx := newCapabilityIndex()
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze", SuccessRate: 0.9}},
		Availability: true,
	})

	agents := idx.findAgentsForCapability("analyze")
	assert.ElementsMatch(t, []schema.AgentID{schema.AgentAnalyzer}, agents)
	assert.Empty(t, idx.findAgentsForCapability("write"))
}

func TestCapabilityIndex_RegisterReplacesPriorMembership(t *testing.T) {
	idx := newCapabilityIndex()
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze"}},
		Availability: true,
	})
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "synthesize"}},
		Availability: true,
	})

	assert.Empty(t, idx.findAgentsForCapability("analyze"))
	assert.ElementsMatch(t, []schema.AgentID{schema.AgentAnalyzer}, idx.findAgentsForCapability("synthesize"))
}

func TestCapabilityIndex_Unregister(t *testing.T) {
	idx := newCapabilityIndex()
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze"}},
		Availability: true,
	})
	idx.unregister(schema.AgentAnalyzer)

	assert.Empty(t, idx.findAgentsForCapability("analyze"))
	_, ok := idx.get(schema.AgentAnalyzer)
	assert.False(t, ok)
}

func TestCapabilityIndex_BestAgentForTask_RequiresAllCapabilities(t *testing.T) {
	idx := newCapabilityIndex()
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze", SuccessRate: 0.9}},
		Availability: true,
	})
	idx.register(AgentRegistration{
		AgentID: schema.AgentStrategist,
		Capabilities: []Capability{
			{Name: "analyze", SuccessRate: 0.8},
			{Name: "strategize", SuccessRate: 0.8},
		},
		Availability: true,
	})

	best, found := idx.bestAgentForTask([]string{"analyze", "strategize"})
	assert.True(t, found)
	assert.Equal(t, schema.AgentStrategist, best)
}

func TestCapabilityIndex_BestAgentForTask_PrefersHigherScore(t *testing.T) {
	idx := newCapabilityIndex()
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze", SuccessRate: 0.5, AvgLatencyMS: 500}},
		Availability: true,
	})
	idx.register(AgentRegistration{
		AgentID:      schema.AgentCritic,
		Capabilities: []Capability{{Name: "analyze", SuccessRate: 0.95, AvgLatencyMS: 50}},
		Availability: true,
	})

	best, found := idx.bestAgentForTask([]string{"analyze"})
	assert.True(t, found)
	assert.Equal(t, schema.AgentCritic, best)
}

func TestCapabilityIndex_BestAgentForTask_ExcludesUnavailable(t *testing.T) {
	idx := newCapabilityIndex()
	idx.register(AgentRegistration{
		AgentID:      schema.AgentAnalyzer,
		Capabilities: []Capability{{Name: "analyze", SuccessRate: 0.99}},
		Availability: false,
	})

	_, found := idx.bestAgentForTask([]string{"analyze"})
	assert.False(t, found)
}

func TestCapabilityIndex_BestAgentForTask_NoneFound(t *testing.T) {
	idx := newCapabilityIndex()
	_, found := idx.bestAgentForTask([]string{"nonexistent"})
	assert.False(t, found)
}

func TestCompositeScore_HigherLatencyScoresLower(t *testing.T) {
	fast := []Capability{{Name: "x", SuccessRate: 0.8, AvgLatencyMS: 10}}
	slow := []Capability{{Name: "x", SuccessRate: 0.8, AvgLatencyMS: 2000}}

	assert.Greater(t, compositeScore(fast, []string{"x"}), compositeScore(slow, []string{"x"}))
}

func TestCapabilityIndex_LastHeartbeatRoundTrips(t *testing.T) {
	idx := newCapabilityIndex()
	now := time.Unix(1700000000, 0)
	idx.register(AgentRegistration{AgentID: schema.AgentAnalyzer, Availability: true, LastHeartbeat: now})

	entry, ok := idx.get(schema.AgentAnalyzer)
	assert.True(t, ok)
	assert.True(t, entry.LastHeartbeat.Equal(now))
}
