package core

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionActive is the normal in-conversation state.
	SessionActive SessionStatus = "active"
	// SessionEscalated marks a session handed to a human; the turn loop has ended.
	SessionEscalated SessionStatus = "escalated"
	// SessionEnded marks a finished session (disconnect, error or explicit end).
	SessionEnded SessionStatus = "ended"
)

// Session is the durable conversational container for one caller. It tracks
// an ordered append-only turn history, a tool-call log, the current policy
// state and arbitrary metadata. It is safe for concurrent access.
//
// Contract:
//   - History only grows; AppendTurn never reorders or drops entries
//   - All mutations update the Updated timestamp
//   - Snapshot accessors return copies, never internal slices
//   - Core fields are mutated only through the turn pipeline; monitoring and
//     audit paths are read-only or append-only side channels
type Session struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agent_id"`
	Status           SessionStatus     `json:"status"`
	History          []Turn            `json:"history"`
	ToolCalls        []ToolCallRecord  `json:"tool_calls"`
	Metadata         map[string]string `json:"metadata"`
	PolicyState      string            `json:"policy_state,omitempty"`
	EscalationReason string            `json:"escalation_reason,omitempty"`
	TransferredTo    string            `json:"transferred_to,omitempty"`
	Created          time.Time         `json:"created"`
	Updated          time.Time         `json:"updated"`
	mu               sync.RWMutex
}

// NewSession creates an active session owned by the given agent.
func NewSession(id, agentID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:       id,
		AgentID:  agentID,
		Status:   SessionActive,
		History:  []Turn{},
		Metadata: map[string]string{},
		Created:  now,
		Updated:  now,
	}
}

// AppendTurn adds a turn to the history.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, t)
	s.Updated = time.Now().UTC()
}

// LogToolCall appends a record to the tool-call log.
func (s *Session) LogToolCall(rec ToolCallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolCalls = append(s.ToolCalls, rec)
	s.Updated = time.Now().UTC()
}

// GetHistory returns a copy of the turn history.
func (s *Session) GetHistory() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.History))
	copy(out, s.History)
	return out
}

// HistoryLen returns the number of turns without copying.
func (s *Session) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.History)
}

// GetToolCalls returns a copy of the tool-call log.
func (s *Session) GetToolCalls() []ToolCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolCallRecord, len(s.ToolCalls))
	copy(out, s.ToolCalls)
	return out
}

// SetPolicyState records the current policy state machine position.
func (s *Session) SetPolicyState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PolicyState = state
	s.Updated = time.Now().UTC()
}

// GetPolicyState returns the current policy state machine position.
func (s *Session) GetPolicyState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PolicyState
}

// GetStatus returns the lifecycle state.
func (s *Session) GetStatus() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// SetMetadata sets a metadata key.
func (s *Session) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata[key] = value
	s.Updated = time.Now().UTC()
}

// GetMetadata reads a metadata key.
func (s *Session) GetMetadata(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Metadata[key]
	return v, ok
}

// Escalate marks the session escalated with a reason and transfer target.
func (s *Session) Escalate(reason, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = SessionEscalated
	s.EscalationReason = reason
	s.TransferredTo = target
	s.Updated = time.Now().UTC()
}

// End moves the session to the ended state recording the reason.
func (s *Session) End(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = SessionEnded
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata["end_reason"] = reason
	s.Updated = time.Now().UTC()
}

// Clone returns a deep copy of the session safe for independent inspection.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:               s.ID,
		AgentID:          s.AgentID,
		Status:           s.Status,
		History:          make([]Turn, len(s.History)),
		ToolCalls:        make([]ToolCallRecord, len(s.ToolCalls)),
		Metadata:         make(map[string]string, len(s.Metadata)),
		PolicyState:      s.PolicyState,
		EscalationReason: s.EscalationReason,
		TransferredTo:    s.TransferredTo,
		Created:          s.Created,
		Updated:          s.Updated,
	}
	copy(clone.History, s.History)
	copy(clone.ToolCalls, s.ToolCalls)
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// SessionStore persists sessions and their evolving history. Read-modify-write
// against the store is not atomic under concurrent writers; only one writer
// (the turn loop) mutates a given session's core fields at a time.
type SessionStore interface {
	Create(id, agentID string, metadata map[string]string) (*Session, error)
	Get(id string) (*Session, error)
	AppendTurn(sessionID string, t Turn) error
	LogToolCall(sessionID string, rec ToolCallRecord) error
	SetPolicyState(sessionID, state string) error
	SetMetadata(sessionID, key, value string) error
	Escalate(sessionID, reason, target string) error
	End(sessionID, reason string) error
	ActiveSessions() ([]*Session, error)
}
