package core

// AgentRole categorizes an agent's position in orchestration.
type AgentRole string

const (
	// RolePrimary is the main agent handling the conversation.
	RolePrimary AgentRole = "primary"
	// RoleSupervisor oversees worker agents and receives escalations.
	RoleSupervisor AgentRole = "supervisor"
	// RoleSpecialist handles a specific domain (billing, technical, ...).
	RoleSpecialist AgentRole = "specialist"
	// RoleValidator validates responses produced by other agents.
	RoleValidator AgentRole = "validator"
	// RoleFallback is a backup agent.
	RoleFallback AgentRole = "fallback"
)

// GenerationMode selects the generation path for an agent's turns.
type GenerationMode string

const (
	// GenerateDirect produces a plain completion.
	GenerateDirect GenerationMode = "direct"
	// GenerateWithTools allows function calling against the agent's tool set.
	GenerateWithTools GenerationMode = "tools"
	// GeneratePlanned runs a plan-then-execute loop before answering.
	GeneratePlanned GenerationMode = "plan"
)

// AgentDescriptor is the static configuration of one agent, loaded once per
// orchestrator instance and cached by identifier. Version overrides are
// resolved at session start and are immutable for the session's lifetime.
type AgentDescriptor struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Role        AgentRole      `json:"role"`
	Specialty   string         `json:"specialty,omitempty"` // specialist domain key, e.g. "billing"
	Description string         `json:"description,omitempty"`
	Persona     string         `json:"persona"` // system-prompt text
	Tools       []string       `json:"tools,omitempty"`
	Mode        GenerationMode `json:"mode,omitempty"`

	SuccessCriteria   []string `json:"success_criteria,omitempty"`
	FailureConditions []string `json:"failure_conditions,omitempty"`
	TokenBudget       int      `json:"token_budget,omitempty"`
	FallbackModel     string   `json:"fallback_model,omitempty"`

	Active bool `json:"active"`

	// Pool lists worker agent IDs this agent may delegate to when it is
	// swarm-capable (supervisor role).
	Pool []string `json:"pool,omitempty"`

	Versions []AgentVersion `json:"versions,omitempty"`
}

// AgentVersion overrides persona/tools for canary or pinned rollout. Weights
// are relative; a pinned version always wins.
type AgentVersion struct {
	Name    string   `json:"name"`
	Persona string   `json:"persona,omitempty"`
	Tools   []string `json:"tools,omitempty"`
	Weight  int      `json:"weight,omitempty"`
	Pinned  bool     `json:"pinned,omitempty"`
}

// SwarmCapable reports whether the agent may delegate turns to a worker pool.
func (d AgentDescriptor) SwarmCapable() bool {
	return d.Role == RoleSupervisor && len(d.Pool) > 0
}

// ResolveVersion applies version selection to the descriptor and returns the
// effective configuration for a new session. Selection happens exactly once,
// before the turn loop begins. pick is a number in [0, total weight) used for
// weighted selection; callers supply a random value, tests a fixed one. With
// no versions the descriptor is returned unchanged.
func (d AgentDescriptor) ResolveVersion(pick int) AgentDescriptor {
	if len(d.Versions) == 0 {
		return d
	}
	for _, v := range d.Versions {
		if v.Pinned {
			return d.withVersion(v)
		}
	}
	total := 0
	for _, v := range d.Versions {
		total += v.Weight
	}
	if total <= 0 {
		return d
	}
	pick = pick % total
	for _, v := range d.Versions {
		pick -= v.Weight
		if pick < 0 {
			return d.withVersion(v)
		}
	}
	return d
}

func (d AgentDescriptor) withVersion(v AgentVersion) AgentDescriptor {
	out := d
	if v.Persona != "" {
		out.Persona = v.Persona
	}
	if len(v.Tools) > 0 {
		out.Tools = append([]string(nil), v.Tools...)
	}
	out.Versions = nil
	return out
}

// Directory is the read-only agent catalog consulted by the router. The
// backing storage (relational, config file, ...) is an external collaborator;
// implementations cache descriptors by identifier.
type Directory interface {
	// AgentByID returns the descriptor for id, or false if unknown.
	AgentByID(id string) (AgentDescriptor, bool)
	// AgentsByRole returns all active agents with the given role.
	AgentsByRole(role AgentRole) []AgentDescriptor
	// AgentsBySpecialty returns all active specialists for a domain key.
	AgentsBySpecialty(specialty string) []AgentDescriptor
	// ActiveAgents returns the full active catalog.
	ActiveAgents() []AgentDescriptor
}
