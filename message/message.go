// Package message defines the structured message type shared by the CBP
// codec and the agent message bus (§3, §6): the in-memory form both
// subsystems operate on, independent of the wire representation.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// Message is the structured, in-memory form of a CBP message. It is passed
// by value to the codec or the bus and dropped once a handler returns (or
// once a reply correlates back to a pending request).
type Message struct {
	Kind     schema.MessageKind
	Sender   schema.AgentID
	Receiver schema.AgentID

	Content  map[string]any
	Metadata map[string]any

	Priority  schema.Priority
	Timestamp int64 // seconds since epoch, UTC

	MessageID     string
	CorrelationID string
	InResponseTo  string

	// DeltaRef is set when Content is a delta against a prior payload
	// identified by this base hash (§3 invariants: required if Kind ==
	// KindDelta).
	DeltaRef *uint64
}

// IsBroadcast reports whether the message should be routed to every
// registered agent except the sender.
func (m Message) IsBroadcast() bool {
	return m.Receiver == schema.AgentBroadcast
}

func newID() string {
	return uuid.NewString()
}

func now() int64 {
	return time.Now().Unix()
}

// NewRequest constructs a request message awaiting a response correlated
// by MessageID.
func NewRequest(sender, receiver schema.AgentID, content map[string]any, priority schema.Priority) Message {
	return Message{
		Kind:      schema.KindRequest,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Metadata:  map[string]any{},
		Priority:  priority,
		Timestamp: now(),
		MessageID: newID(),
	}
}

// NewResponse constructs a response to request, setting InResponseTo so
// the bus can correlate it back to a pending send_and_wait.
func NewResponse(sender schema.AgentID, request Message, content map[string]any) Message {
	return Message{
		Kind:         schema.KindResponse,
		Sender:       sender,
		Receiver:     request.Sender,
		Content:      content,
		Metadata:     map[string]any{},
		Priority:     request.Priority,
		Timestamp:    now(),
		MessageID:    newID(),
		InResponseTo: request.MessageID,
	}
}

// NewNotification constructs a one-way message with no expected reply
// (context push, handoff, feedback, sync, or federation control kinds).
func NewNotification(kind schema.MessageKind, sender, receiver schema.AgentID, content map[string]any, priority schema.Priority) Message {
	return Message{
		Kind:      kind,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Metadata:  map[string]any{},
		Priority:  priority,
		Timestamp: now(),
		MessageID: newID(),
	}
}

// NewError constructs a handler-failure error message addressed back to
// the original sender, per §4.5.3.
func NewError(sender, receiver schema.AgentID, originalMessageID string, errKind string, description string) Message {
	return Message{
		Kind:     schema.KindError,
		Sender:   sender,
		Receiver: receiver,
		Content: map[string]any{
			"error_kind":         errKind,
			"description":        description,
			"original_message_id": originalMessageID,
		},
		Metadata:     map[string]any{},
		Priority:     schema.PriorityHigh,
		Timestamp:    now(),
		MessageID:    newID(),
		InResponseTo: originalMessageID,
	}
}

// NewCoordination constructs a federation/coordination message (discover,
// register, heartbeat, handoff, sync) sharing a correlation id across
// multiple hops.
func NewCoordination(kind schema.MessageKind, sender, receiver schema.AgentID, correlationID string, content map[string]any) Message {
	if correlationID == "" {
		correlationID = newID()
	}
	return Message{
		Kind:          kind,
		Sender:        sender,
		Receiver:      receiver,
		Content:       content,
		Metadata:      map[string]any{},
		Priority:      schema.PriorityNormal,
		Timestamp:     now(),
		MessageID:     newID(),
		CorrelationID: correlationID,
	}
}

// NewDelta constructs a delta-kind message; deltaRef MUST be set per the
// §3 invariant that every KindDelta message carries a base hash.
func NewDelta(sender, receiver schema.AgentID, deltaContent map[string]any, deltaRef uint64, priority schema.Priority) Message {
	return Message{
		Kind:      schema.KindDelta,
		Sender:    sender,
		Receiver:  receiver,
		Content:   deltaContent,
		Metadata:  map[string]any{},
		Priority:  priority,
		Timestamp: now(),
		MessageID: newID(),
		DeltaRef:  &deltaRef,
	}
}
