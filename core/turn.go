package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the caller.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the responding agent.
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a session's conversation history. Turns are
// immutable once appended; ordering is the sole correctness requirement.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Degraded is set when the turn completed via the latency-budget
	// stall path instead of a full generation.
	Degraded bool `json:"degraded,omitempty"`
}

// NewTurn creates a turn stamped with the current UTC time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// ToolCallRecord captures one tool invocation made during a session, kept in
// the session's tool-call log separate from the conversation history.
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Arguments string    `json:"arguments"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID generates a unique identifier for sessions, turns and events.
func NewID() string { return uuid.NewString() }
