// Package policy implements the conversation policy layer: a finite-state
// machine over named states plus guardrail evaluation on both user input and
// model output.
//
// A ConversationPolicy declares the states, their transitions and the
// guardrails; the Engine interprets it. The engine never mutates session
// state itself; it returns results the turn pipeline acts on, so a rejected
// input or an overridden response leaves the state machine untouched unless
// the pipeline commits a transition.
package policy
