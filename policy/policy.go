package policy

import (
	"fmt"
	"regexp"
)

// GuardrailType selects the evaluation strategy of a guardrail.
type GuardrailType string

const (
	// GuardrailRegex matches Pattern against the text case-insensitively.
	GuardrailRegex GuardrailType = "regex"
	// GuardrailPII detects structured personal data (email, phone, card
	// numbers, SSN, IPv4) via fixed patterns.
	GuardrailPII GuardrailType = "pii"
	// GuardrailRetryLimit triggers once consecutive policy rejections in a
	// session reach MaxRetries.
	GuardrailRetryLimit GuardrailType = "retry_limit"
	// GuardrailSemantic triggers when any of Keywords occurs in the text.
	// A lexical stand-in for embedding-based topical checks.
	GuardrailSemantic GuardrailType = "semantic"
)

// GuardrailAction is what happens when a guardrail triggers.
type GuardrailAction string

const (
	// ActionBlock rejects the text outright.
	ActionBlock GuardrailAction = "block"
	// ActionMask redacts the offending spans and lets the text through.
	ActionMask GuardrailAction = "mask"
	// ActionWarn records the finding but does not alter the outcome.
	ActionWarn GuardrailAction = "warn"
	// ActionEscalate hands the session to a human.
	ActionEscalate GuardrailAction = "escalate"
)

// Guardrail is a named rule evaluated against input or output text.
type Guardrail struct {
	Name       string          `json:"name"`
	Type       GuardrailType   `json:"type"`
	Pattern    string          `json:"pattern,omitempty"`     // regex
	Keywords   []string        `json:"keywords,omitempty"`    // semantic
	MaxRetries int             `json:"max_retries,omitempty"` // retry_limit
	Action     GuardrailAction `json:"action"`

	compiled *regexp.Regexp
}

// Transition maps an event to a target state.
type Transition struct {
	Event       string `json:"event"`
	TargetState string `json:"target_state"`
}

// State is one node of the conversation state machine.
type State struct {
	Name string `json:"name"`
	// EnforceScript, when set, mandates this exact wording for responses
	// produced in the state.
	EnforceScript string `json:"enforce_script,omitempty"`
	// AllowedIntents restricts which detected intents may proceed. Empty
	// means unrestricted.
	AllowedIntents []string `json:"allowed_intents,omitempty"`
	Transitions    []Transition `json:"transitions,omitempty"`
	Guardrails     []Guardrail  `json:"guardrails,omitempty"`
	// MandatoryPhrases must each appear verbatim (case-insensitive) in any
	// response produced in the state.
	MandatoryPhrases []string `json:"mandatory_phrases,omitempty"`
	// Sensitive marks states whose content should be redacted in logs and
	// analytics.
	Sensitive bool `json:"is_sensitive,omitempty"`
}

// ConversationPolicy is the full declarative policy document.
type ConversationPolicy struct {
	Version          string            `json:"version,omitempty"`
	InitialState     string            `json:"initial_state"`
	States           map[string]*State `json:"states"`
	GlobalGuardrails []Guardrail       `json:"global_guardrails,omitempty"`
}

// Validate checks structural consistency: the initial state must exist, every
// transition target must be a declared state, and every regex guardrail must
// compile. Guardrail patterns are compiled as a side effect.
func (p *ConversationPolicy) Validate() error {
	if p.InitialState == "" {
		return fmt.Errorf("policy: initial_state is required")
	}
	if _, ok := p.States[p.InitialState]; !ok {
		return fmt.Errorf("policy: initial_state %q is not a declared state", p.InitialState)
	}
	for name, state := range p.States {
		for _, tr := range state.Transitions {
			if _, ok := p.States[tr.TargetState]; !ok {
				return fmt.Errorf("policy: state %q transition on %q targets unknown state %q", name, tr.Event, tr.TargetState)
			}
		}
		if err := compileGuardrails(state.Guardrails); err != nil {
			return fmt.Errorf("policy: state %q: %w", name, err)
		}
	}
	if err := compileGuardrails(p.GlobalGuardrails); err != nil {
		return fmt.Errorf("policy: global guardrails: %w", err)
	}
	return nil
}

func compileGuardrails(rails []Guardrail) error {
	for i := range rails {
		g := &rails[i]
		if g.Type != GuardrailRegex {
			continue
		}
		if g.Pattern == "" {
			return fmt.Errorf("guardrail %q: regex type requires a pattern", g.Name)
		}
		re, err := regexp.Compile("(?i)" + g.Pattern)
		if err != nil {
			return fmt.Errorf("guardrail %q: %w", g.Name, err)
		}
		g.compiled = re
	}
	return nil
}

func (g *Guardrail) regex() (*regexp.Regexp, error) {
	if g.compiled != nil {
		return g.compiled, nil
	}
	re, err := regexp.Compile("(?i)" + g.Pattern)
	if err != nil {
		return nil, err
	}
	g.compiled = re
	return re, nil
}
