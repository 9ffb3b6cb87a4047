package core

import "time"

// EventType discriminates outbound transport events.
type EventType string

// Outbound event types delivered to the transport layer and the monitoring bus.
const (
	EventSessionStart    EventType = "session_start"
	EventTranscription   EventType = "transcription"
	EventIntentDetected  EventType = "intent_detected"
	EventAgentSwitch     EventType = "agent_switch"
	EventStartResponse   EventType = "start_response"
	EventTextChunk       EventType = "text_chunk"
	EventAudio           EventType = "audio"
	EventToolCall        EventType = "tool_call"
	EventKnowledgeHit    EventType = "knowledge_hit"
	EventEscalation      EventType = "escalation"
	EventComplianceAlert EventType = "compliance_alert"
	EventAgentDiscovery  EventType = "agent_discovery"
	EventEndResponse     EventType = "end_response"
	EventError           EventType = "error"
)

// Event is one outbound transport event. Exactly the fields relevant to the
// Type are populated; the zero values of the rest are omitted on the wire.
// Events are immutable after construction.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Text      string `json:"text,omitempty"`       // transcription, text_chunk
	Role      Role   `json:"role,omitempty"`       // transcription
	Intent    string `json:"intent,omitempty"`     // intent_detected
	From      string `json:"from,omitempty"`       // agent_switch
	To        string `json:"to,omitempty"`         // agent_switch
	Reason    string `json:"reason,omitempty"`     // agent_switch, escalation
	AgentName string `json:"agent_name,omitempty"` // session_start, agent_discovery

	AudioData  string `json:"data,omitempty"`       // audio (base64)
	Arguments  string `json:"arguments,omitempty"`  // tool_call (JSON)
	ToolName   string `json:"tool,omitempty"`       // tool_call
	Count      int    `json:"count,omitempty"`      // knowledge_hit
	RiskScore  float64 `json:"risk_score,omitempty"` // compliance_alert
	Severity   string `json:"severity,omitempty"`   // compliance_alert
	Capability string `json:"capability,omitempty"` // agent_discovery
	Message    string `json:"message,omitempty"`    // error
}

// NewEvent creates a bare event of the given type bound to a session.
func NewEvent(sessionID string, typ EventType) Event {
	return Event{ID: NewID(), SessionID: sessionID, Type: typ, Timestamp: time.Now().UTC()}
}

// NewSessionStartEvent announces a new session and its owning agent.
func NewSessionStartEvent(sessionID, agentName string) Event {
	e := NewEvent(sessionID, EventSessionStart)
	e.AgentName = agentName
	return e
}

// NewTranscriptionEvent carries a finalized utterance for either role.
func NewTranscriptionEvent(sessionID string, role Role, text string) Event {
	e := NewEvent(sessionID, EventTranscription)
	e.Role = role
	e.Text = text
	return e
}

// NewIntentEvent reports a detected intent.
func NewIntentEvent(sessionID, intent string) Event {
	e := NewEvent(sessionID, EventIntentDetected)
	e.Intent = intent
	return e
}

// NewAgentSwitchEvent reports a routing decision that changed the responding agent.
func NewAgentSwitchEvent(sessionID, from, to, reason string) Event {
	e := NewEvent(sessionID, EventAgentSwitch)
	e.From = from
	e.To = to
	e.Reason = reason
	return e
}

// NewTextChunkEvent carries a fragment of the assistant response.
func NewTextChunkEvent(sessionID, text string) Event {
	e := NewEvent(sessionID, EventTextChunk)
	e.Text = text
	return e
}

// NewAudioEvent carries base64 synthesized audio.
func NewAudioEvent(sessionID, data string) Event {
	e := NewEvent(sessionID, EventAudio)
	e.AudioData = data
	return e
}

// NewToolCallEvent reports a tool invocation requested by the model.
func NewToolCallEvent(sessionID, tool, arguments string) Event {
	e := NewEvent(sessionID, EventToolCall)
	e.ToolName = tool
	e.Arguments = arguments
	return e
}

// NewKnowledgeHitEvent reports how many knowledge chunks augmented the turn.
func NewKnowledgeHitEvent(sessionID string, count int) Event {
	e := NewEvent(sessionID, EventKnowledgeHit)
	e.Count = count
	return e
}

// NewEscalationEvent reports a session handed off to a human.
func NewEscalationEvent(sessionID, reason string) Event {
	e := NewEvent(sessionID, EventEscalation)
	e.Reason = reason
	return e
}

// NewComplianceAlertEvent reports an audit finding.
func NewComplianceAlertEvent(sessionID string, riskScore float64, severity string) Event {
	e := NewEvent(sessionID, EventComplianceAlert)
	e.RiskScore = riskScore
	e.Severity = severity
	return e
}

// NewAgentDiscoveryEvent reports an agent hired via autonomous discovery.
func NewAgentDiscoveryEvent(sessionID, name, capability string) Event {
	e := NewEvent(sessionID, EventAgentDiscovery)
	e.AgentName = name
	e.Capability = capability
	return e
}

// NewErrorEvent reports a turn failure surfaced to the caller.
func NewErrorEvent(sessionID, message string) Event {
	e := NewEvent(sessionID, EventError)
	e.Message = message
	return e
}
