package agentbus

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// Capability is a named, versioned declaration of what an agent can
// handle (§3 "Capability entry").
type Capability struct {
	Name        string
	Version     string
	SuccessRate float64 // in [0, 1]
	AvgLatencyMS float64
}

// AgentRegistration is one agent's capability-discovery entry (§3 "agent
// registry entry").
type AgentRegistration struct {
	AgentID      schema.AgentID
	Tier         string
	Capabilities []Capability
	Availability bool
	LastHeartbeat time.Time
}

// capabilityIndex maintains the discovery registry of §4.5.8, with a
// secondary index keyed on capability name as the spec permits.
type capabilityIndex struct {
	mu          sync.RWMutex
	byAgent     map[schema.AgentID]AgentRegistration
	byCapability map[string]map[schema.AgentID]struct{}
}

func newCapabilityIndex() *capabilityIndex {
	return &capabilityIndex{
		byAgent:      make(map[schema.AgentID]AgentRegistration),
		byCapability: make(map[string]map[schema.AgentID]struct{}),
	}
}

// register adds or replaces an agent's full registration entry,
// rebuilding its secondary-index memberships.
func (c *capabilityIndex) register(entry AgentRegistration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byAgent[entry.AgentID]; ok {
		for _, cap := range old.Capabilities {
			if set, ok := c.byCapability[cap.Name]; ok {
				delete(set, entry.AgentID)
			}
		}
	}

	c.byAgent[entry.AgentID] = entry
	for _, cap := range entry.Capabilities {
		set, ok := c.byCapability[cap.Name]
		if !ok {
			set = make(map[schema.AgentID]struct{})
			c.byCapability[cap.Name] = set
		}
		set[entry.AgentID] = struct{}{}
	}
}

func (c *capabilityIndex) unregister(agentID schema.AgentID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byAgent[agentID]
	if !ok {
		return
	}
	delete(c.byAgent, agentID)
	for _, cap := range entry.Capabilities {
		if set, ok := c.byCapability[cap.Name]; ok {
			delete(set, agentID)
		}
	}
}

// findAgentsForCapability implements §4.5.8's find_agents_for_capability.
func (c *capabilityIndex) findAgentsForCapability(name string) []schema.AgentID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.byCapability[name]
	out := make([]schema.AgentID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// bestAgentForTask implements §4.5.8's best_agent_for_task: the agent
// that declares every required capability and scores highest on a simple
// weighted sum of success_rate and inverse latency. Agents that are
// unavailable (Availability == false) are excluded.
func (c *capabilityIndex) bestAgentForTask(required []string) (schema.AgentID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best schema.AgentID
	bestScore := -1.0
	found := false

	for id, entry := range c.byAgent {
		if !entry.Availability {
			continue
		}
		if !declaresAll(entry.Capabilities, required) {
			continue
		}
		score := compositeScore(entry.Capabilities, required)
		if score > bestScore {
			bestScore = score
			best = id
			found = true
		}
	}
	return best, found
}

func declaresAll(have []Capability, required []string) bool {
	names := make(map[string]struct{}, len(have))
	for _, c := range have {
		names[c.Name] = struct{}{}
	}
	for _, r := range required {
		if _, ok := names[r]; !ok {
			return false
		}
	}
	return true
}

// compositeScore weights success rate at 0.7 and normalized inverse
// latency at 0.3, averaged over the required capabilities only.
func compositeScore(have []Capability, required []string) float64 {
	byName := make(map[string]Capability, len(have))
	for _, c := range have {
		byName[c.Name] = c
	}

	var total float64
	var n int
	for _, r := range required {
		cap, ok := byName[r]
		if !ok {
			continue
		}
		invLatency := 0.0
		if cap.AvgLatencyMS > 0 {
			invLatency = 1.0 / (1.0 + cap.AvgLatencyMS/1000.0)
		} else {
			invLatency = 1.0
		}
		total += 0.7*cap.SuccessRate + 0.3*invLatency
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func (c *capabilityIndex) get(agentID schema.AgentID) (AgentRegistration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byAgent[agentID]
	return e, ok
}
