package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/voicemesh/model"
)

// Registry holds the tools available to agents, keyed by name. An agent's
// descriptor lists which registered tools it may use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs a registry preloaded with the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool; duplicate names are rejected.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Name() == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// RequiresApproval reports whether the named tool demands human approval.
// Unknown tools and tools without the Approver extension do not.
func (r *Registry) RequiresApproval(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	if a, ok := t.(Approver); ok {
		return a.RequiresApproval()
	}
	return false
}

// Definitions builds the model-facing declarations for the named tools.
// Unknown names are skipped; agents may reference tools that are not wired
// in a given deployment.
func (r *Registry) Definitions(names []string) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []model.ToolDefinition
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute resolves and runs the tool named in call, returning the result
// serialized for the model. Argument JSON is decoded into a map before the
// schema validation the tool itself performs.
func (r *Registry) Execute(tc *Context, call model.ToolCall) (string, error) {
	t, ok := r.Get(call.Function.Name)
	if !ok {
		return "", NewToolError(call.Function.Name, "unknown tool", "UNKNOWN_TOOL")
	}

	args := map[string]any{}
	if len(call.Function.Arguments) > 0 {
		if err := json.Unmarshal(call.Function.Arguments, &args); err != nil {
			return "", &ToolError{
				Tool:    call.Function.Name,
				Message: fmt.Sprintf("malformed arguments: %v", err),
				Code:    "VALIDATION_ERROR",
			}
		}
	}

	result, err := t.Call(tc, args)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", &ToolError{
			Tool:    call.Function.Name,
			Message: fmt.Sprintf("unserializable result: %v", err),
			Code:    "EXECUTION_ERROR",
		}
	}
	return string(out), nil
}
