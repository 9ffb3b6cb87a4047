// Package pipeline implements the turn orchestration engine.
//
// An Orchestrator owns the collaborators a turn needs (session store, event
// bus, agent directory, generation model, policy engine, router, tools,
// intervention broker) and drives one cooperative loop per session. The loop
// consumes inbound transport events from a queue and keeps at most one
// turn-generation task in flight; a new input arriving mid-generation cancels
// the running task before its own turn starts (barge-in), and a cancelled
// turn contributes nothing to history or policy state.
//
// Each turn passes through the same sequence: confidence gate, fast-path
// acknowledgements, human-intervention check, policy input validation,
// routing, knowledge augmentation, generation under a latency budget, policy
// output validation, escalation check, persistence, and background audit
// dispatch. Generation overruns degrade to a stalling utterance instead of
// failing the turn.
//
// Sessions are fully independent; no cross-session locking exists.
package pipeline
