// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities (lookups, computations, side effects) with
// schema validated arguments and consistent error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/voicemesh/internal/util"
	"github.com/hupe1980/voicemesh/knowledge"
	"github.com/hupe1980/voicemesh/logging"
)

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and
	// how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]interface{}

	// Call executes the tool with structured arguments and a Context.
	// Arguments are parsed from JSON and validated against the tool's schema.
	Call(tc *Context, args map[string]interface{}) (interface{}, error)
}

// Approver is implemented by tools whose invocations must be approved by a
// human operator before execution.
type Approver interface {
	RequiresApproval() bool
}

// Context carries per-call identity and collaborators into a tool invocation,
// and collects flow-control signals the pipeline consumes after execution.
type Context struct {
	ctx       context.Context
	sessionID string
	agentID   string
	callID    string
	logger    logging.Logger
	memory    knowledge.SessionMemory

	transferTarget string
	escalated      bool
	escalateReason string
}

// NewContext builds a tool invocation context. memory may be nil when no
// session memory collaborator is wired.
func NewContext(ctx context.Context, sessionID, agentID, callID string, logger logging.Logger, memory knowledge.SessionMemory) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:       ctx,
		sessionID: sessionID,
		agentID:   agentID,
		callID:    callID,
		logger:    logger,
		memory:    memory,
	}
}

// Context returns the cancellation context of the enclosing turn.
func (c *Context) Context() context.Context { return c.ctx }

// SessionID returns the owning session identifier.
func (c *Context) SessionID() string { return c.sessionID }

// AgentID returns the identifier of the agent invoking the tool.
func (c *Context) AgentID() string { return c.agentID }

// CallID returns the function call identifier correlating model request and
// tool execution.
func (c *Context) CallID() string { return c.callID }

// Logger returns the call-scoped logger.
func (c *Context) Logger() logging.Logger { return c.logger }

// Memory returns the session memory collaborator, which may be nil.
func (c *Context) Memory() knowledge.SessionMemory { return c.memory }

// TransferToAgent requests orchestration transfer to the named agent.
func (c *Context) TransferToAgent(name string) { c.transferTarget = name }

// TransferTarget reports a transfer requested during the call.
func (c *Context) TransferTarget() (string, bool) {
	return c.transferTarget, c.transferTarget != ""
}

// Escalate requests human escalation with a reason.
func (c *Context) Escalate(reason string) {
	c.escalated = true
	c.escalateReason = reason
}

// EscalationRequested reports an escalation requested during the call.
func (c *Context) EscalationRequested() (string, bool) {
	return c.escalateReason, c.escalated
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
