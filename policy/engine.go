package policy

import (
	"strings"

	"github.com/hupe1980/voicemesh/internal/util"
	"github.com/hupe1980/voicemesh/logging"
)

// scriptOverlapThreshold is the minimum shared-token ratio between the
// mandated script and a response for the response to stand.
const scriptOverlapThreshold = 0.3

// BlockedResponseText is spoken in place of a response a guardrail blocked.
const BlockedResponseText = "I'm sorry, I cannot provide that information."

// InputResult is the outcome of validating user input.
type InputResult struct {
	Allowed bool
	// Reason explains a rejection or escalation; empty when allowed cleanly.
	Reason string
	// Sanitized is the input with PII masked when a mask-action guardrail
	// fired; otherwise the original input.
	Sanitized string
	// Escalate is set when an escalate-action guardrail fired.
	Escalate bool
	// Warnings lists warn-action guardrails that matched without changing
	// the outcome.
	Warnings []string
}

// OutputResult is the outcome of validating a model response.
type OutputResult struct {
	// Valid is false when the response was blocked, escalated, or is missing
	// a mandatory phrase.
	Valid bool
	// Text is what should be spoken: the original response, the mandated
	// script, a masked variant, or the fixed refusal.
	Text string
	// ScriptOverridden marks that Text is the state's enforced script.
	ScriptOverridden bool
	// Escalate is set when an escalate-action guardrail fired.
	Escalate bool
	// MissingPhrase names the first absent mandatory phrase. A correctable
	// failure: the caller may re-render or append the phrase.
	MissingPhrase string
	Warnings      []string
}

// Engine interprets one ConversationPolicy. It is stateless with respect to
// sessions; callers carry the current state name and retry count.
type Engine struct {
	policy *ConversationPolicy
	logger logging.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Logger logging.Logger
}

// NewEngine builds an Engine for the given policy. The policy should have
// been validated first; see ConversationPolicy.Validate.
func NewEngine(p *ConversationPolicy, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{policy: p, logger: opts.Logger}
}

// InitialState returns the policy's declared starting state name.
func (e *Engine) InitialState() string { return e.policy.InitialState }

// StateSensitive reports whether the named state is marked sensitive.
func (e *Engine) StateSensitive(name string) bool {
	if st, ok := e.policy.States[name]; ok {
		return st.Sensitive
	}
	return false
}

// NextState computes the transition for (state, event). Unknown states and
// events with no matching transition self-loop.
func (e *Engine) NextState(current, event string) string {
	state, ok := e.policy.States[current]
	if !ok {
		return current
	}
	for _, tr := range state.Transitions {
		if tr.Event == event {
			e.logger.Debug("policy transition", "from", current, "to", tr.TargetState, "event", event)
			return tr.TargetState
		}
	}
	return current
}

// ValidateInput checks the detected intent against the current state's
// allowed set, then evaluates global guardrails followed by the state's local
// guardrails against the raw input. The first blocking or escalating match
// wins. retries is the count of consecutive prior policy rejections in this
// session, consumed by retry_limit guardrails.
func (e *Engine) ValidateInput(currentState, input, intent string, retries int) InputResult {
	res := InputResult{Allowed: true, Sanitized: input}
	state, ok := e.policy.States[currentState]
	if !ok {
		return res
	}

	if len(state.AllowedIntents) > 0 && intent != "" && !contains(state.AllowedIntents, intent) {
		e.logger.Warn("intent not allowed in state", "intent", intent, "state", currentState)
		res.Allowed = false
		res.Reason = "intent " + intent + " is not allowed in " + currentState
		return res
	}

	for _, g := range append(append([]Guardrail{}, e.policy.GlobalGuardrails...), state.Guardrails...) {
		hit, reason := e.check(&g, res.Sanitized, retries)
		if !hit {
			continue
		}
		switch g.Action {
		case ActionMask:
			res.Sanitized = RedactPII(res.Sanitized)
		case ActionWarn:
			res.Warnings = append(res.Warnings, g.Name)
		case ActionEscalate:
			res.Allowed = false
			res.Escalate = true
			res.Reason = reason
			return res
		default: // block
			res.Allowed = false
			res.Reason = reason
			return res
		}
	}
	return res
}

// ValidateResponse enforces the state's script, evaluates guardrails against
// the response, and checks mandatory phrases.
func (e *Engine) ValidateResponse(currentState, response string) OutputResult {
	res := OutputResult{Valid: true, Text: response}
	state, ok := e.policy.States[currentState]
	if !ok {
		return res
	}

	if state.EnforceScript != "" {
		overlap := util.OverlapRatio(state.EnforceScript, response)
		if overlap < scriptOverlapThreshold {
			e.logger.Warn("script adherence failed, substituting mandated script",
				"state", currentState, "overlap", overlap)
			res.Text = state.EnforceScript
			res.ScriptOverridden = true
			return res
		}
		e.logger.Debug("script adherence passed", "state", currentState, "overlap", overlap)
	}

	for _, g := range append(append([]Guardrail{}, e.policy.GlobalGuardrails...), state.Guardrails...) {
		hit, reason := e.check(&g, res.Text, 0)
		if !hit {
			continue
		}
		e.logger.Warn("guardrail triggered on response", "guardrail", g.Name, "reason", reason)
		switch g.Action {
		case ActionMask:
			res.Text = RedactPII(res.Text)
		case ActionWarn:
			res.Warnings = append(res.Warnings, g.Name)
		case ActionEscalate:
			res.Valid = false
			res.Escalate = true
			return res
		default: // block
			res.Valid = false
			res.Text = BlockedResponseText
			return res
		}
	}

	for _, phrase := range state.MandatoryPhrases {
		if !strings.Contains(strings.ToLower(res.Text), strings.ToLower(phrase)) {
			e.logger.Warn("mandatory phrase missing", "state", currentState, "phrase", phrase)
			res.Valid = false
			res.MissingPhrase = phrase
			return res
		}
	}

	return res
}

// check evaluates a single guardrail against text. It returns whether the
// guardrail triggered and a human-readable reason.
func (e *Engine) check(g *Guardrail, text string, retries int) (bool, string) {
	switch g.Type {
	case GuardrailRegex:
		re, err := g.regex()
		if err != nil {
			e.logger.Error("invalid guardrail pattern", "guardrail", g.Name, "error", err)
			return false, ""
		}
		if re.MatchString(text) {
			return true, "matched disallowed pattern: " + g.Name
		}
	case GuardrailPII:
		if label, ok := ContainsPII(text); ok {
			return true, "PII detected (" + label + ")"
		}
	case GuardrailRetryLimit:
		if g.MaxRetries > 0 && retries >= g.MaxRetries {
			return true, "retry limit reached: " + g.Name
		}
	case GuardrailSemantic:
		lower := strings.ToLower(text)
		for _, kw := range g.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true, "matched restricted topic: " + g.Name
			}
		}
	}
	return false, ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
