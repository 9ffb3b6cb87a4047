package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/knowledge"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
)

func testContext() *Context {
	return NewContext(context.Background(), "sess-1", "agent-1", "fc-1", logging.NoOpLogger{}, knowledge.NewInMemoryKnowledge())
}

func echoTool() *FunctionTool {
	return NewFunctionTool(
		"echo",
		"Echo back the provided text",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			return map[string]any{"echo": args["text"]}, nil
		},
	)
}

func TestFunctionTool(t *testing.T) {
	t.Run("validates required arguments", func(t *testing.T) {
		_, err := echoTool().Call(testContext(), map[string]any{})
		require.Error(t, err)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
		assert.Equal(t, "echo", toolErr.Tool)
	})

	t.Run("executes with valid arguments", func(t *testing.T) {
		result, err := echoTool().Call(testContext(), map[string]any{"text": "hello"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"echo": "hello"}, result)
	})

	t.Run("wraps plain errors as EXECUTION_ERROR", func(t *testing.T) {
		failing := NewFunctionTool("boom", "always fails", map[string]any{"type": "object"},
			func(tc *Context, args map[string]any) (any, error) {
				return nil, fmt.Errorf("downstream unavailable")
			})

		_, err := failing.Call(testContext(), map[string]any{})
		require.Error(t, err)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
		assert.Contains(t, toolErr.Message, "downstream unavailable")
	})

	t.Run("preserves custom ToolError codes", func(t *testing.T) {
		failing := NewFunctionTool("quota", "fails with custom code", map[string]any{"type": "object"},
			func(tc *Context, args map[string]any) (any, error) {
				return nil, NewToolError("quota", "rate limited", "RATE_LIMITED")
			})

		_, err := failing.Call(testContext(), map[string]any{})
		require.Error(t, err)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, "RATE_LIMITED", toolErr.Code)
	})

	t.Run("approval flag", func(t *testing.T) {
		plain := echoTool()
		assert.False(t, plain.RequiresApproval())

		gated := echoTool().WithApproval()
		assert.True(t, gated.RequiresApproval())
	})
}

func TestRegistry(t *testing.T) {
	t.Run("rejects duplicate names", func(t *testing.T) {
		r, err := NewRegistry(echoTool())
		require.NoError(t, err)
		assert.Error(t, r.Register(echoTool()))
	})

	t.Run("definitions skip unknown names", func(t *testing.T) {
		r, err := NewRegistry(echoTool(), NewTransferToAgentTool())
		require.NoError(t, err)

		defs := r.Definitions([]string{"echo", "missing", "transfer_to_agent"})
		require.Len(t, defs, 2)
		assert.Equal(t, "function", defs[0].Type)
		assert.Equal(t, "echo", defs[0].Function.Name)
		assert.Equal(t, "transfer_to_agent", defs[1].Function.Name)
	})

	t.Run("execute round trip", func(t *testing.T) {
		r, err := NewRegistry(echoTool())
		require.NoError(t, err)

		out, err := r.Execute(testContext(), model.ToolCall{
			ID:   "fc-1",
			Type: "function",
			Function: model.ToolCallFunction{
				Name:      "echo",
				Arguments: json.RawMessage(`{"text":"hi"}`),
			},
		})
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, "hi", decoded["echo"])
	})

	t.Run("execute unknown tool", func(t *testing.T) {
		r, err := NewRegistry()
		require.NoError(t, err)

		_, err = r.Execute(testContext(), model.ToolCall{
			Function: model.ToolCallFunction{Name: "nope"},
		})
		require.Error(t, err)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, "UNKNOWN_TOOL", toolErr.Code)
	})

	t.Run("execute malformed arguments", func(t *testing.T) {
		r, err := NewRegistry(echoTool())
		require.NoError(t, err)

		_, err = r.Execute(testContext(), model.ToolCall{
			Function: model.ToolCallFunction{
				Name:      "echo",
				Arguments: json.RawMessage(`{"text":`),
			},
		})
		require.Error(t, err)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	})

	t.Run("approval lookup", func(t *testing.T) {
		r, err := NewRegistry(echoTool().WithApproval(), NewRememberFactTool())
		require.NoError(t, err)

		assert.True(t, r.RequiresApproval("echo"))
		assert.False(t, r.RequiresApproval("remember_fact"))
		assert.False(t, r.RequiresApproval("missing"))
	})
}

func TestBuiltinTools(t *testing.T) {
	t.Run("transfer signals routing handoff", func(t *testing.T) {
		tc := testContext()
		result, err := NewTransferToAgentTool().Call(tc, map[string]any{"agent": "billing_specialist"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"transferred": true, "agent": "billing_specialist"}, result)

		target, ok := tc.TransferTarget()
		require.True(t, ok)
		assert.Equal(t, "billing_specialist", target)
	})

	t.Run("transfer rejects missing agent", func(t *testing.T) {
		_, err := NewTransferToAgentTool().Call(testContext(), map[string]any{})
		assert.Error(t, err)
	})

	t.Run("escalate records reason", func(t *testing.T) {
		tc := testContext()
		_, err := NewEscalateToHumanTool().Call(tc, map[string]any{"reason": "caller is upset"})
		require.NoError(t, err)

		reason, ok := tc.EscalationRequested()
		require.True(t, ok)
		assert.Equal(t, "caller is upset", reason)
	})

	t.Run("remember_fact stores in session memory", func(t *testing.T) {
		mem := knowledge.NewInMemoryKnowledge()
		tc := NewContext(context.Background(), "sess-9", "agent-1", "fc-2", logging.NoOpLogger{}, mem)

		_, err := NewRememberFactTool().Call(tc, map[string]any{"key": "name", "value": "Ada"})
		require.NoError(t, err)

		facts, err := mem.Get("sess-9")
		require.NoError(t, err)
		assert.Equal(t, "Ada", facts["name"])
	})
}
