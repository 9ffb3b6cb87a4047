package pipeline

import (
	"context"
	"fmt"

	"github.com/hupe1980/voicemesh/core"
)

// ChatRequest is the synchronous request/response variant's input. A missing
// SessionID starts a fresh session.
type ChatRequest struct {
	AgentID   string `json:"agent_id"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	CallerID  string `json:"caller_id,omitempty"`
}

// ChatResponse is the synchronous variant's output.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	AgentID   string `json:"agent_id"`
}

// Respond runs one turn synchronously: the same pipeline steps minus
// streaming, barge-in and the silence nudge. Sessions created here are
// plain store sessions without a live loop; callers may keep passing the
// returned SessionID to continue the conversation.
func (o *Orchestrator) Respond(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		desc, ok := o.deps.Directory.AgentByID(req.AgentID)
		if !ok {
			return ChatResponse{}, fmt.Errorf("pipeline: unknown agent %q", req.AgentID)
		}
		resolved := desc.ResolveVersion(o.opts.VersionPick())
		metadata := map[string]string{}
		if req.CallerID != "" {
			metadata["caller_id"] = req.CallerID
		}
		sess, err := o.deps.Store.Create(core.NewID(), resolved.ID, metadata)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("pipeline: create session: %w", err)
		}
		if err := o.deps.Store.SetPolicyState(sess.ID, o.deps.Policy.InitialState()); err != nil {
			return ChatResponse{}, fmt.Errorf("pipeline: set policy state: %w", err)
		}
		sessionID = sess.ID
	}

	sess, err := o.deps.Store.Get(sessionID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("pipeline: session lookup: %w", err)
	}
	agent, ok := o.deps.Directory.AgentByID(sess.AgentID)
	if !ok {
		return ChatResponse{}, fmt.Errorf("pipeline: session agent %q not in directory", sess.AgentID)
	}

	snap := turnSnapshot{
		id:          sessionID,
		agent:       agent,
		policyState: sess.GetPolicyState(),
		turnIndex:   sess.HistoryLen() / 2,
	}

	// Throwaway handle: events accumulate in the buffer and are inspected
	// after the turn instead of being streamed.
	h := &Handle{
		SessionID: sessionID,
		AgentName: agent.Name,
		events:    make(chan core.Event, 64),
		done:      make(chan struct{}),
		cancel:    func() {},
	}

	out := o.runTurn(ctx, h, snap, core.TextInput(req.Text))
	h.finish()

	if out.cancelled {
		return ChatResponse{}, fmt.Errorf("pipeline: turn did not complete")
	}

	if out.policyState != "" && out.policyState != snap.policyState {
		if err := o.deps.Store.SetPolicyState(sessionID, out.policyState); err != nil {
			o.opts.Logger.Warn("session.state.persist_failed", "session_id", sessionID, "error", err.Error())
		}
	}
	if out.escalate {
		target := ""
		if sups := o.deps.Directory.AgentsByRole(core.RoleSupervisor); len(sups) > 0 {
			target = sups[0].ID
		}
		if err := o.deps.Store.Escalate(sessionID, out.escalateReason, target); err != nil {
			o.opts.Logger.Warn("session.escalate_failed", "session_id", sessionID, "error", err.Error())
		}
	}

	text := ""
	for ev := range h.events {
		if ev.Type == core.EventTextChunk {
			text = ev.Text
		}
	}

	return ChatResponse{SessionID: sessionID, Text: text, AgentID: out.agent.ID}, nil
}
