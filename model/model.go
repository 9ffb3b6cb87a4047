package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/voicemesh/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the turn pipeline.
// History carries prior turns oldest first; Input is the current utterance.
type Request struct {
	Instructions string           `json:"instructions"`
	History      []core.Turn      `json:"history"`
	Input        string           `json:"input"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
	MaxTokens    int64            `json:"max_tokens,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Capabilities enumerates what a model implementation can do. Callers branch
// on these typed flags instead of probing provider names.
type Capabilities struct {
	Streaming bool `json:"streaming"`
	Tools     bool `json:"tools"`
	Audio     bool `json:"audio"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name         string       `json:"name"`
	Provider     string       `json:"provider"` // "openai", "anthropic", "mock", etc.
	Capabilities Capabilities `json:"capabilities"`
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate stream and returns the final response. Partial
// chunks are discarded; the last non-partial response wins. Context
// cancellation and stream errors are both surfaced as errors.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (Response, error) {
	var final Response
	var got bool
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				final = resp
				got = true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !got {
		return Response{}, fmt.Errorf("model stream ended without a final response")
	}
	return final, nil
}

// MockModel is a lightweight in-memory Model useful for tests.
type MockModel struct {
	info        Info
	responses   map[string]string
	defaultResp string
	err         error
	calls       atomic.Int64
}

// NewMockModel constructs a MockModel with streaming and tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:         name,
			Provider:     provider,
			Capabilities: Capabilities{Streaming: true, Tools: true},
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// SetDefault registers the completion returned for prompts with no canned
// response.
func (m *MockModel) SetDefault(response string) { m.defaultResp = response }

// FailWith makes every subsequent Generate call fail with err.
func (m *MockModel) FailWith(err error) { m.err = err }

// Calls returns how many times Generate ran.
func (m *MockModel) Calls() int { return int(m.calls.Load()) }

// Generate implements Model; emits optional streaming char chunks then a final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)
	m.calls.Add(1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if m.err != nil {
			errCh <- m.err
			return
		}
		full := m.responses[req.Input]
		if full == "" {
			full = m.defaultResp
		}
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", req.Input)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Partial: false, Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
