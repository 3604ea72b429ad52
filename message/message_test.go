package message

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

func TestNewRequest_HasMessageID(t *testing.T) {
	m := NewRequest(schema.AgentAnalyzer, schema.AgentStrategist, map[string]any{"task": "analyze"}, schema.PriorityNormal)
	assert.NotEmpty(t, m.MessageID)
	assert.Equal(t, schema.KindRequest, m.Kind)
	assert.False(t, m.IsBroadcast())
}

func TestNewResponse_CorrelatesToRequest(t *testing.T) {
	req := NewRequest(schema.AgentAnalyzer, schema.AgentStrategist, nil, schema.PriorityNormal)
	res := NewResponse(schema.AgentStrategist, req, map[string]any{"result": "ok"})

	assert.Equal(t, req.MessageID, res.InResponseTo)
	assert.Equal(t, req.Sender, res.Receiver)
}

func TestNewError_CorrelatesAndAddressesSender(t *testing.T) {
	req := NewRequest(schema.AgentAnalyzer, schema.AgentStrategist, nil, schema.PriorityNormal)
	errMsg := NewError(schema.AgentStrategist, req.Sender, req.MessageID, "handler_failure", "boom")

	assert.Equal(t, req.MessageID, errMsg.InResponseTo)
	assert.Equal(t, schema.KindError, errMsg.Kind)
	assert.Equal(t, "boom", errMsg.Content["description"])
}

func TestIsBroadcast(t *testing.T) {
	m := NewNotification(schema.KindContext, schema.AgentAnalyzer, schema.AgentBroadcast, nil, schema.PriorityNormal)
	assert.True(t, m.IsBroadcast())
}

func TestNewDelta_CarriesBaseHash(t *testing.T) {
	m := NewDelta(schema.AgentAnalyzer, schema.AgentStrategist, map[string]any{"b": 1}, 42, schema.PriorityNormal)
	if assert.NotNil(t, m.DeltaRef) {
		assert.Equal(t, uint64(42), *m.DeltaRef)
	}
}
