// Package commbus provides the CommBus message type catalog.
//
// These are the diagnostics/lifecycle events the agent message bus
// (package agentbus) publishes onto a CommBus when a Config.Diagnostics
// sink is configured: integrators can Subscribe to these without coupling
// agentbus itself to any particular telemetry backend.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// BUS LIFECYCLE EVENTS
// =============================================================================

// BusStarted is emitted once when the agent bus spawns its workers.
type BusStarted struct{}

// Category implements the Message interface.
func (m *BusStarted) Category() string { return string(MessageCategoryEvent) }

// BusStopped is emitted once Stop has closed every worker's queue and
// failed every pending reply promise; it does not wait for in-flight
// handler calls to return.
type BusStopped struct{}

// Category implements the Message interface.
func (m *BusStopped) Category() string { return string(MessageCategoryEvent) }

// AgentRegistered is emitted when a handler is registered for an agent id.
type AgentRegistered struct {
	AgentID uint8 `json:"agent_id"`
}

// Category implements the Message interface.
func (m *AgentRegistered) Category() string { return string(MessageCategoryEvent) }

// AgentUnregistered is emitted when an agent's handler and worker are torn down.
type AgentUnregistered struct {
	AgentID uint8 `json:"agent_id"`
}

// Category implements the Message interface.
func (m *AgentUnregistered) Category() string { return string(MessageCategoryEvent) }

// CapabilityRegistered is emitted when an agent's capability-discovery
// entry is added or replaced.
type CapabilityRegistered struct {
	AgentID      uint8    `json:"agent_id"`
	Capabilities []string `json:"capabilities"`
}

// Category implements the Message interface.
func (m *CapabilityRegistered) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// CIRCUIT BREAKER EVENTS
// =============================================================================

// CircuitBreakerTransitioned is emitted whenever a (caller, callee)
// breaker changes state (§4.5.6).
type CircuitBreakerTransitioned struct {
	Caller  uint8  `json:"caller"`
	Callee  uint8  `json:"callee"`
	ToState string `json:"to_state"` // "closed", "open", "half_open"
}

// Category implements the Message interface.
func (m *CircuitBreakerTransitioned) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DEDUP CACHE EVENTS
// =============================================================================

// DedupCacheHit is emitted when a resilient send_and_wait call is served
// from the TTL dedup cache instead of invoking the callee (§4.5.7).
type DedupCacheHit struct {
	Caller uint8 `json:"caller"`
	Callee uint8 `json:"callee"`
}

// Category implements the Message interface.
func (m *DedupCacheHit) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// DIAGNOSTIC QUERIES
// =============================================================================

// GetBusStats queries the bus's running counters.
type GetBusStats struct{}

// Category implements the Message interface.
func (m *GetBusStats) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetBusStats) IsQuery() {}

// BusStatsResponse is the response for GetBusStats.
type BusStatsResponse struct {
	MessagesSent      uint64 `json:"messages_sent"`
	MessagesDelivered uint64 `json:"messages_delivered"`
	HandlerErrors     uint64 `json:"handler_errors"`
	Timeouts          uint64 `json:"timeouts"`
}

// GetBreakerState queries the current state of one (caller, callee) breaker.
type GetBreakerState struct {
	Caller uint8 `json:"caller"`
	Callee uint8 `json:"callee"`
}

// Category implements the Message interface.
func (m *GetBreakerState) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetBreakerState) IsQuery() {}

// BreakerStateResponse is the response for GetBreakerState.
type BreakerStateResponse struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *BusStarted:
		return "BusStarted"
	case *BusStopped:
		return "BusStopped"
	case *AgentRegistered:
		return "AgentRegistered"
	case *AgentUnregistered:
		return "AgentUnregistered"
	case *CapabilityRegistered:
		return "CapabilityRegistered"
	case *CircuitBreakerTransitioned:
		return "CircuitBreakerTransitioned"
	case *DedupCacheHit:
		return "DedupCacheHit"
	case *GetBusStats:
		return "GetBusStats"
	case *GetBreakerState:
		return "GetBreakerState"
	default:
		return "Unknown"
	}
}
