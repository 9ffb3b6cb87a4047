package router

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hupe1980/voicemesh/core"
)

// Compile time check to ensure InMemoryDirectory satisfies the core.Directory interface.
var _ core.Directory = (*InMemoryDirectory)(nil)

// InMemoryDirectory is a static agent catalog loaded once at startup.
// Lookups preserve registration order so "first active agent with role X"
// is deterministic.
type InMemoryDirectory struct {
	byID  map[string]core.AgentDescriptor
	order []string
}

// NewInMemoryDirectory builds a directory from the given descriptors.
// Duplicate IDs are rejected.
func NewInMemoryDirectory(agents ...core.AgentDescriptor) (*InMemoryDirectory, error) {
	d := &InMemoryDirectory{byID: make(map[string]core.AgentDescriptor, len(agents))}
	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %q has no id", a.Name)
		}
		if _, exists := d.byID[a.ID]; exists {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		d.byID[a.ID] = a
		d.order = append(d.order, a.ID)
	}
	return d, nil
}

// LoadDirectoryFile reads a JSON array of agent descriptors from disk.
func LoadDirectoryFile(path string) (*InMemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	var agents []core.AgentDescriptor
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}
	return NewInMemoryDirectory(agents...)
}

// AgentByID implements core.Directory.
func (d *InMemoryDirectory) AgentByID(id string) (core.AgentDescriptor, bool) {
	a, ok := d.byID[id]
	return a, ok
}

// AgentsByRole implements core.Directory.
func (d *InMemoryDirectory) AgentsByRole(role core.AgentRole) []core.AgentDescriptor {
	var out []core.AgentDescriptor
	for _, id := range d.order {
		if a := d.byID[id]; a.Active && a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// AgentsBySpecialty implements core.Directory.
func (d *InMemoryDirectory) AgentsBySpecialty(specialty string) []core.AgentDescriptor {
	var out []core.AgentDescriptor
	for _, id := range d.order {
		if a := d.byID[id]; a.Active && a.Specialty == specialty {
			out = append(out, a)
		}
	}
	return out
}

// ActiveAgents implements core.Directory.
func (d *InMemoryDirectory) ActiveAgents() []core.AgentDescriptor {
	var out []core.AgentDescriptor
	for _, id := range d.order {
		if a := d.byID[id]; a.Active {
			out = append(out, a)
		}
	}
	return out
}
