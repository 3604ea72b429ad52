// Package schema is the static, process-wide lookup table for the
// Compressed Binary Protocol: fixed numeric IDs for agents, message kinds,
// fields, tasks, and priorities. Ids are stable; renumbering any of them is
// a breaking wire change.
package schema

// AgentID identifies a participant on the bus. The space is partitioned
// into core roles, extended roles, and system roles; 0x00 is unknown.
type AgentID uint8

const (
	AgentUnknown AgentID = 0x00

	// Core roles.
	AgentAnalyzer    AgentID = 0x01
	AgentStrategist  AgentID = 0x02
	AgentCritic      AgentID = 0x03
	AgentSynthesizer AgentID = 0x04
	AgentReflector   AgentID = 0x05

	// Extended roles.
	AgentOrchestrator AgentID = 0x10
	AgentResearcher   AgentID = 0x11
	AgentWriter       AgentID = 0x12
	AgentReviewer     AgentID = 0x13
	AgentFederation   AgentID = 0x20

	// System roles.
	AgentUser   AgentID = 0xFE
	AgentSystem AgentID = 0xFF

	// AgentBroadcast is the receiver sentinel meaning "every registered
	// agent except the sender". It is not a real identity and never
	// appears as a sender.
	AgentBroadcast AgentID = 0x00
)

var agentNameToID = map[string]AgentID{
	"analyzer":     AgentAnalyzer,
	"strategist":   AgentStrategist,
	"critic":       AgentCritic,
	"synthesizer":  AgentSynthesizer,
	"reflector":    AgentReflector,
	"orchestrator": AgentOrchestrator,
	"researcher":   AgentResearcher,
	"writer":       AgentWriter,
	"reviewer":     AgentReviewer,
	"federation":   AgentFederation,
	"user":         AgentUser,
	"system":       AgentSystem,
}

var agentIDToName map[AgentID]string

func init() {
	agentIDToName = make(map[AgentID]string, len(agentNameToID))
	for name, id := range agentNameToID {
		agentIDToName[id] = name
	}
}

// AgentIDByName resolves a human-readable agent name to its numeric id.
// Unknown names resolve to AgentUnknown, matching the source's
// case-insensitive default-to-unknown lookup.
func AgentIDByName(name string) AgentID {
	if id, ok := agentNameToID[toLower(name)]; ok {
		return id
	}
	return AgentUnknown
}

// AgentName returns the canonical name for an agent id, or "" if unknown.
func AgentName(id AgentID) string {
	return agentIDToName[id]
}

// MessageKind identifies the role a message plays on the bus.
type MessageKind uint8

const (
	KindRequest  MessageKind = 0x01
	KindResponse MessageKind = 0x02
	KindContext  MessageKind = 0x03
	KindHandoff  MessageKind = 0x04
	KindFeedback MessageKind = 0x05
	KindSync     MessageKind = 0x06
	KindDelta    MessageKind = 0x07

	// Federation control.
	KindDiscover  MessageKind = 0x10
	KindRegister  MessageKind = 0x11
	KindHeartbeat MessageKind = 0x12

	// KindError carries a handler-failure notification routed back to the
	// original sender (§4.5.3); it has no direct counterpart in the
	// federation/control ranges above and lives in the extension slot.
	KindError MessageKind = 0x13
)

var kindNameToID = map[string]MessageKind{
	"req":   KindRequest,
	"res":   KindResponse,
	"ctx":   KindContext,
	"hnd":   KindHandoff,
	"fbk":   KindFeedback,
	"syn":   KindSync,
	"delta": KindDelta,
	"dsc":   KindDiscover,
	"reg":   KindRegister,
	"hbt":   KindHeartbeat,
	"err":   KindError,
}

var kindIDToName map[MessageKind]string

func init() {
	kindIDToName = make(map[MessageKind]string, len(kindNameToID))
	for name, id := range kindNameToID {
		kindIDToName[id] = name
	}
}

// MessageKindByName resolves a short wire code ("req", "res", ...) to its
// numeric kind. Returns (0, false) if unrecognized.
func MessageKindByName(name string) (MessageKind, bool) {
	k, ok := kindNameToID[name]
	return k, ok
}

// MessageKindName returns the short wire code for a message kind.
func MessageKindName(k MessageKind) (string, bool) {
	name, ok := kindIDToName[k]
	return name, ok
}

// Priority is the bus scheduling class; higher values dequeue first.
type Priority uint8

const (
	PriorityLow      Priority = 0x01
	PriorityNormal   Priority = 0x02
	PriorityHigh     Priority = 0x03
	PriorityCritical Priority = 0x04
)

var priorityNameToID = map[string]Priority{
	"low":      PriorityLow,
	"normal":   PriorityNormal,
	"medium":   PriorityNormal,
	"high":     PriorityHigh,
	"critical": PriorityCritical,
	"urgent":   PriorityCritical,
}

// PriorityByName resolves a priority name (including the "medium"/"urgent"
// aliases) to its numeric level, defaulting to PriorityNormal.
func PriorityByName(name string) Priority {
	if p, ok := priorityNameToID[toLower(name)]; ok {
		return p
	}
	return PriorityNormal
}

// FieldID is the numeric replacement for a MessagePack map string key.
type FieldID uint8

const (
	// Frame fields: 0x01-0x0F.
	FieldType      FieldID = 0x01
	FieldSender    FieldID = 0x02
	FieldReceiver  FieldID = 0x03
	FieldContent   FieldID = 0x04
	FieldMetadata  FieldID = 0x05
	FieldTimestamp FieldID = 0x06
	FieldMessageID FieldID = 0x07
	FieldPriority  FieldID = 0x08

	// Dedup/delta fields: 0x10-0x1F.
	FieldHash         FieldID = 0x10
	FieldDeltaRef     FieldID = 0x11
	FieldDeltaPayload FieldID = 0x12

	// Semantic content fields: 0x20-0x4F.
	FieldTask            FieldID = 0x20
	FieldTarget          FieldID = 0x21
	FieldResult          FieldID = 0x22
	FieldConfidence      FieldID = 0x23
	FieldReasoning       FieldID = 0x24
	FieldRecommendations FieldID = 0x25
	FieldRisks           FieldID = 0x26
	FieldOpportunities   FieldID = 0x27

	FieldAnalysis   FieldID = 0x30
	FieldStrategies FieldID = 0x31
	FieldCritique   FieldID = 0x32
	FieldSynthesis  FieldID = 0x33
	FieldReflection FieldID = 0x34

	FieldKeyFactors     FieldID = 0x40
	FieldNextSteps      FieldID = 0x41
	FieldSuccessMetrics FieldID = 0x42
	FieldRiskMitigation FieldID = 0x43
	FieldQualityEval    FieldID = 0x44
)

// fieldNameToID maps both the canonical long name and its short alias to
// the same numeric id. Decode always emits the long name.
var fieldNameToID = map[string]FieldID{
	"type": FieldType, "t": FieldType,
	"sender": FieldSender, "s": FieldSender,
	"receiver": FieldReceiver, "r": FieldReceiver,
	"content": FieldContent, "c": FieldContent,
	"metadata": FieldMetadata, "m": FieldMetadata,
	"timestamp": FieldTimestamp, "ts": FieldTimestamp,
	"message_id": FieldMessageID, "id": FieldMessageID,
	"priority": FieldPriority, "p": FieldPriority,

	"hash": FieldHash,
	"delta_ref": FieldDeltaRef,
	"delta_payload": FieldDeltaPayload,

	"task": FieldTask, "tk": FieldTask,
	"target": FieldTarget,
	"result": FieldResult, "rs": FieldResult,
	"confidence": FieldConfidence, "cf": FieldConfidence,
	"reasoning": FieldReasoning, "rn": FieldReasoning,
	"recommendations": FieldRecommendations, "rc": FieldRecommendations,
	"risks": FieldRisks, "rk": FieldRisks,
	"opportunities": FieldOpportunities, "op": FieldOpportunities,

	"analysis": FieldAnalysis, "an": FieldAnalysis,
	"strategies": FieldStrategies, "st": FieldStrategies,
	"critique": FieldCritique, "cr": FieldCritique,
	"synthesis": FieldSynthesis, "sy": FieldSynthesis,
	"reflection": FieldReflection, "rf": FieldReflection,

	"key_factors": FieldKeyFactors, "kf": FieldKeyFactors,
	"next_steps": FieldNextSteps, "ns": FieldNextSteps,
	"success_metrics": FieldSuccessMetrics, "sm": FieldSuccessMetrics,
	"risk_mitigation": FieldRiskMitigation, "rm": FieldRiskMitigation,
	"quality_eval": FieldQualityEval, "qe": FieldQualityEval,
}

// fieldIDToName holds only the canonical long name for each id.
var fieldIDToName = map[FieldID]string{
	FieldType: "type", FieldSender: "sender", FieldReceiver: "receiver",
	FieldContent: "content", FieldMetadata: "metadata", FieldTimestamp: "timestamp",
	FieldMessageID: "message_id", FieldPriority: "priority",
	FieldHash: "hash", FieldDeltaRef: "delta_ref", FieldDeltaPayload: "delta_payload",
	FieldTask: "task", FieldTarget: "target", FieldResult: "result",
	FieldConfidence: "confidence", FieldReasoning: "reasoning",
	FieldRecommendations: "recommendations", FieldRisks: "risks", FieldOpportunities: "opportunities",
	FieldAnalysis: "analysis", FieldStrategies: "strategies", FieldCritique: "critique",
	FieldSynthesis: "synthesis", FieldReflection: "reflection",
	FieldKeyFactors: "key_factors", FieldNextSteps: "next_steps",
	FieldSuccessMetrics: "success_metrics", FieldRiskMitigation: "risk_mitigation",
	FieldQualityEval: "quality_eval",
}

// FieldIDByName implements C1's field_id(name) contract: callers must
// handle the not-found case themselves.
func FieldIDByName(name string) (FieldID, bool) {
	id, ok := fieldNameToID[name]
	return id, ok
}

// FieldNameByID implements C1's field_name(id) contract.
func FieldNameByID(id FieldID) (string, bool) {
	name, ok := fieldIDToName[id]
	return name, ok
}

// TaskID identifies a common agent task.
type TaskID uint8

const (
	TaskAnalyze    TaskID = 0x01
	TaskStrategize TaskID = 0x02
	TaskCritique   TaskID = 0x03
	TaskSynthesize TaskID = 0x04
	TaskReflect    TaskID = 0x05
	TaskResearch   TaskID = 0x06
	TaskWrite      TaskID = 0x07
	TaskReview     TaskID = 0x08
	TaskExecute    TaskID = 0x09
	TaskValidate   TaskID = 0x0A
)

var taskNameToID = map[string]TaskID{
	"analyze": TaskAnalyze, "strategize": TaskStrategize, "critique": TaskCritique,
	"synthesize": TaskSynthesize, "reflect": TaskReflect, "research": TaskResearch,
	"write": TaskWrite, "review": TaskReview, "execute": TaskExecute, "validate": TaskValidate,
}

// TaskIDByName resolves a task name to its numeric id.
func TaskIDByName(name string) (TaskID, bool) {
	id, ok := taskNameToID[toLower(name)]
	return id, ok
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
