package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parse decodes a JSON policy document and validates it.
func Parse(data []byte) (*ConversationPolicy, error) {
	var p ConversationPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses a policy document from disk.
func LoadFile(path string) (*ConversationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Default returns a minimal permissive policy used when an agent has none
// configured: a single unrestricted state that loops on every event.
func Default() *ConversationPolicy {
	return &ConversationPolicy{
		InitialState: "LISTENING",
		States: map[string]*State{
			"LISTENING": {Name: "LISTENING"},
		},
	}
}
