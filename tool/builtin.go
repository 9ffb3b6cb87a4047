package tool

import (
	"fmt"
)

// transferToAgentTool requests routing handoff to a named agent.
type transferToAgentTool struct{}

// NewTransferToAgentTool constructs the transfer tool instance.
func NewTransferToAgentTool() Tool { return &transferToAgentTool{} }

func (t *transferToAgentTool) Name() string { return "transfer_to_agent" }

func (t *transferToAgentTool) Description() string {
	return "Request transfer of the conversation to another agent by name. Use when another agent is better suited."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent name"},
		},
		"required": []string{"agent"},
	}
}

func (t *transferToAgentTool) Call(tc *Context, args map[string]any) (any, error) {
	raw, ok := args["agent"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'agent'")
	}
	agentName, ok := raw.(string)
	if !ok || agentName == "" {
		return nil, fmt.Errorf("field 'agent' must be non-empty string")
	}
	tc.TransferToAgent(agentName)
	return map[string]any{"transferred": true, "agent": agentName}, nil
}

// escalateToHumanTool flags the session for handoff to a human operator.
type escalateToHumanTool struct{}

// NewEscalateToHumanTool constructs the escalation tool instance.
func NewEscalateToHumanTool() Tool { return &escalateToHumanTool{} }

func (t *escalateToHumanTool) Name() string { return "escalate_to_human" }

func (t *escalateToHumanTool) Description() string {
	return "Escalate the conversation to a human operator. Use when the caller is frustrated or the request is outside your abilities."
}

func (t *escalateToHumanTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Why escalation is needed"},
		},
		"required": []string{"reason"},
	}
}

func (t *escalateToHumanTool) Call(tc *Context, args map[string]any) (any, error) {
	raw, ok := args["reason"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'reason'")
	}
	reason, ok := raw.(string)
	if !ok || reason == "" {
		return nil, fmt.Errorf("field 'reason' must be non-empty string")
	}
	tc.Escalate(reason)
	return map[string]any{"escalated": true, "reason": reason}, nil
}

// rememberFactTool stores a caller fact in session memory for later turns.
type rememberFactTool struct{}

// NewRememberFactTool constructs the session memory tool instance.
func NewRememberFactTool() Tool { return &rememberFactTool{} }

func (t *rememberFactTool) Name() string { return "remember_fact" }

func (t *rememberFactTool) Description() string {
	return "Store a fact about the caller for the rest of this session, such as their name or account number."
}

func (t *rememberFactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string", "description": "Short identifier for the fact"},
			"value": map[string]any{"type": "string", "description": "The fact to remember"},
		},
		"required": []string{"key", "value"},
	}
}

func (t *rememberFactTool) Call(tc *Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("field 'key' must be non-empty string")
	}
	value, ok := args["value"].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("field 'value' must be non-empty string")
	}
	if tc.Memory() == nil {
		return nil, fmt.Errorf("session memory is not available")
	}
	if err := tc.Memory().Put(tc.SessionID(), map[string]any{key: value}); err != nil {
		return nil, err
	}
	return map[string]any{"stored": true, "key": key}, nil
}
