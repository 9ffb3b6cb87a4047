// Package router selects the responding agent for each turn.
//
// Four strategies run in fixed precedence: supervisor escalation, specialist
// lookup by intent, LLM-mediated swarm delegation among a supervisor's worker
// pool, and autonomous discovery across the whole active catalog. Every
// fallback degrades to the current agent unchanged; routing never fails a
// turn.
package router
