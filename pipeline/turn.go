package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/voicemesh/audit"
	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/internal/util"
	"github.com/hupe1980/voicemesh/intervene"
	"github.com/hupe1980/voicemesh/policy"
	"github.com/hupe1980/voicemesh/router"
)

// eventUserSpoke is the policy event fired for every successfully completed
// user turn.
const eventUserSpoke = "user_spoke"

// deferredApprovalText is spoken when a tool call is parked for human
// approval instead of executed.
const deferredApprovalText = "I've sent that request for approval and will follow up with you shortly."

// turnSnapshot is the immutable view of session state a turn task works
// from. The loop goroutine owns the live state; the task only reads its copy.
type turnSnapshot struct {
	id          string
	agent       core.AgentDescriptor
	policyState string
	retries     int
	turnIndex   int
	sentiments  []float64
	history     []core.Turn
}

// turnOutcome is what a finished turn hands back to the loop. A cancelled
// outcome contributes nothing: no history writes happened and no state is
// applied.
type turnOutcome struct {
	cancelled bool

	escalate       bool
	escalateReason string

	policyState     string
	retries         int
	agent           core.AgentDescriptor
	degraded        bool
	latency         time.Duration
	sentiment       float64
	sentimentScored bool
}

// startTurn launches the turn task goroutine for one input event. The
// returned task is the loop's cancellation handle.
func (o *Orchestrator) startTurn(ctx context.Context, h *Handle, st *sessionState, ev core.InputEvent) *turnTask {
	turnCtx, cancel := context.WithCancel(ctx)

	snap := turnSnapshot{
		id:          st.id,
		agent:       st.agent,
		policyState: st.policyState,
		retries:     st.retries,
		turnIndex:   st.turnIndex,
		sentiments:  append([]float64(nil), st.sentiments...),
	}

	task := &turnTask{cancel: cancel, done: make(chan turnOutcome, 1)}
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.opts.Logger.Error("turn.panic", "session_id", snap.id, "panic", r)
				o.emit(h, core.NewErrorEvent(snap.id, "internal error"))
				task.done <- turnOutcome{cancelled: true}
			}
		}()
		task.done <- o.runTurn(turnCtx, h, snap, ev)
	}()
	return task
}

// runTurn executes the turn steps in order. Cancellation is cooperative:
// checked between steps, and nothing is persisted once the context is gone.
func (o *Orchestrator) runTurn(ctx context.Context, h *Handle, snap turnSnapshot, ev core.InputEvent) turnOutcome {
	out := turnOutcome{
		policyState: snap.policyState,
		retries:     snap.retries,
		agent:       snap.agent,
	}

	text, conf, ok := o.resolveInput(ctx, h, snap, ev)
	if !ok {
		// Nothing usable arrived; the turn contributes nothing.
		out.cancelled = true
		return out
	}
	o.emit(h, core.NewTranscriptionEvent(snap.id, core.RoleUser, text))

	if sess, err := o.deps.Store.Get(snap.id); err == nil {
		snap.history = sess.GetHistory()
	}

	// Step 1: confidence gate. Low-trust input gets a fixed clarification
	// and never reaches generation or the policy state machine.
	if conf.Overall() < o.opts.ConfidenceThreshold {
		return o.finishTurn(ctx, h, snap, out, text, lowConfidenceText, false, false)
	}

	// Step 2: fast path. Short acknowledgements skip generation and leave
	// the policy state untouched.
	if canned, hit := fastPathResponses[normalizeAck(text)]; hit {
		return o.finishTurn(ctx, h, snap, out, text, canned, false, false)
	}

	// Step 3: intervention check.
	mode := intervene.ModeAIOnly
	if o.deps.Intervene != nil {
		mode = o.deps.Intervene.Mode(snap.id)
	}
	if mode == intervene.ModeTakeover {
		human, got := o.awaitOperator(ctx, snap.id)
		if !got {
			// No operator text in time: the turn is dropped silently.
			out.cancelled = true
			return out
		}
		out.policyState = o.deps.Policy.NextState(snap.policyState, eventUserSpoke)
		return o.finishTurn(ctx, h, snap, out, text, human, false, true)
	}

	// Step 4: intent and sentiment.
	detected := ""
	if o.deps.Detector != nil {
		if intentLabel, found := o.deps.Detector.Detect(text); found {
			detected = intentLabel
			o.emit(h, core.NewIntentEvent(snap.id, intentLabel))
		}
	}
	if o.deps.Sentiment != nil {
		out.sentiment = o.deps.Sentiment.Score(text)
		out.sentimentScored = true
	}

	if ctx.Err() != nil {
		return turnOutcome{cancelled: true}
	}

	// Step 5: policy input validation. A violation aborts the turn with a
	// refusal and no state transition.
	inputRes := o.deps.Policy.ValidateInput(snap.policyState, text, detected, snap.retries)
	if inputRes.Escalate {
		out = o.finishTurn(ctx, h, snap, out, text, policy.BlockedResponseText, false, false)
		if !out.cancelled {
			out.escalate = true
			out.escalateReason = inputRes.Reason
		}
		return out
	}
	if !inputRes.Allowed {
		out.retries = snap.retries + 1
		return o.finishTurn(ctx, h, snap, out, text, policy.BlockedResponseText, false, false)
	}
	out.retries = 0
	input := inputRes.Sanitized

	// Step 6: routing. An agent change is observable but never resets
	// history.
	agent := snap.agent
	if o.deps.Router != nil {
		decision := o.deps.Router.Route(ctx, routerRequest(snap, agent, detected, input))
		if decision.Changed {
			o.emit(h, core.NewAgentSwitchEvent(snap.id, agent.Name, decision.Agent.Name, decision.Reason))
			if decision.Discovered {
				o.emit(h, core.NewAgentDiscoveryEvent(snap.id, decision.Agent.Name, decision.Agent.Specialty))
			}
			agent = decision.Agent
			out.agent = agent
		}
	}

	if ctx.Err() != nil {
		return turnOutcome{cancelled: true}
	}

	// Step 7: augmentation. Retrieval results go into the instructions,
	// never into history.
	instructions := o.augment(ctx, h, snap, agent, input)

	// Step 8: generation under the latency budget.
	gen := o.generate(ctx, h, snap, agent, instructions, input)
	if gen.cancelled {
		return turnOutcome{cancelled: true}
	}
	out.latency = gen.latency
	out.degraded = gen.degraded
	response := gen.text

	if gen.escalateReason != "" {
		out = o.finishTurn(ctx, h, snap, out, text, response, gen.degraded, false)
		if !out.cancelled {
			out.escalate = true
			out.escalateReason = gen.escalateReason
		}
		return out
	}
	if gen.transferTo != "" {
		if target, found := o.deps.Directory.AgentByID(gen.transferTo); found && target.Active {
			o.emit(h, core.NewAgentSwitchEvent(snap.id, agent.Name, target.Name, "tool_transfer"))
			out.agent = target
		}
	}

	// Step 9: policy output validation. Skipped for pipeline-authored text
	// (stall fillers, apologies), which is fixed and pre-vetted.
	if !gen.degraded && !gen.failed {
		outputRes := o.deps.Policy.ValidateResponse(snap.policyState, response)
		response = outputRes.Text
		if outputRes.MissingPhrase != "" && !outputRes.ScriptOverridden {
			response = strings.TrimRight(response, " ") + " " + outputRes.MissingPhrase
		}
		if outputRes.Escalate {
			out = o.finishTurn(ctx, h, snap, out, text, response, false, false)
			if !out.cancelled {
				out.escalate = true
				out.escalateReason = "guardrail escalation"
			}
			return out
		}
	}

	// Step 10: escalation check over user signals and agent failure
	// conditions.
	if reason, needed := o.escalationNeeded(snap, out, text, response); needed {
		out = o.finishTurn(ctx, h, snap, out, text, response, gen.degraded, true)
		if !out.cancelled {
			out.escalate = true
			out.escalateReason = reason
		}
		return out
	}

	// Whisper: the suggestion goes to the operator privately; their edit
	// (or the unedited suggestion, on timeout) is what gets spoken.
	if mode == intervene.ModeWhisper {
		if o.deps.Bus != nil {
			o.deps.Bus.Publish(snap.id, core.NewTranscriptionEvent(snap.id, core.RoleAssistant, response))
		}
		if edited, got := o.awaitOperator(ctx, snap.id); got {
			response = edited
		}
	}

	out.policyState = o.deps.Policy.NextState(snap.policyState, eventUserSpoke)
	return o.finishTurn(ctx, h, snap, out, text, response, gen.degraded, true)
}

// finishTurn delivers the response, persists both sides of the turn and
// dispatches the background auditors. It is the single point past which a
// turn has happened: a context cancelled before this point leaves no trace.
func (o *Orchestrator) finishTurn(ctx context.Context, h *Handle, snap turnSnapshot, out turnOutcome, userText, response string, degraded, audited bool) turnOutcome {
	if ctx.Err() != nil {
		return turnOutcome{cancelled: true}
	}

	o.emit(h, core.NewEvent(snap.id, core.EventStartResponse))
	o.emit(h, core.NewTextChunkEvent(snap.id, response))
	o.emit(h, core.NewEvent(snap.id, core.EventEndResponse))

	if err := o.deps.Store.AppendTurn(snap.id, core.NewTurn(core.RoleUser, userText)); err != nil {
		o.opts.Logger.Warn("turn.persist_failed", "session_id", snap.id, "error", err.Error())
	}
	assistant := core.NewTurn(core.RoleAssistant, response)
	assistant.Degraded = degraded
	if err := o.deps.Store.AppendTurn(snap.id, assistant); err != nil {
		o.opts.Logger.Warn("turn.persist_failed", "session_id", snap.id, "error", err.Error())
	}

	if audited {
		o.dispatchBackground(snap, userText, response, out.latency)
	}

	return out
}

// dispatchBackground fires the compliance auditor and the shadow comparator.
// They run after the response has shipped and must never block or fail the
// turn; panics are contained here.
func (o *Orchestrator) dispatchBackground(snap turnSnapshot, userText, response string, latency time.Duration) {
	if o.deps.Auditor == nil && o.deps.Shadow == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.opts.Logger.Error("audit.panic", "session_id", snap.id, "panic", r)
			}
		}()
		if o.deps.Auditor != nil {
			o.deps.Auditor.AuditTurn(snap.id, snap.agent.ID, snap.policyState, snap.turnIndex, userText, response)
		}
		if o.deps.Shadow != nil {
			o.deps.Shadow.CompareTurn(context.Background(), shadowRequest(snap, userText, response, latency, o.deps.Model.Info().Name))
		}
	}()
}

// resolveInput turns the transport event into text plus confidence scores.
// Typed text needs no gating; audio goes through the transcriber.
func (o *Orchestrator) resolveInput(ctx context.Context, h *Handle, snap turnSnapshot, ev core.InputEvent) (string, core.ConfidenceScores, bool) {
	switch ev.Kind {
	case core.InputText:
		return ev.Text, core.FullConfidence, true
	case core.InputAudio:
		if o.deps.Transcriber == nil {
			o.emit(h, core.NewErrorEvent(snap.id, "audio input is not supported"))
			return "", core.ConfidenceScores{}, false
		}
		text, conf, err := o.deps.Transcriber.Transcribe(ctx, ev.Audio, ev.MimeType)
		if err != nil {
			o.opts.Logger.Warn("turn.transcribe_failed", "session_id", snap.id, "error", err.Error())
			o.emit(h, core.NewErrorEvent(snap.id, "transcription failed"))
			return "", core.ConfidenceScores{}, false
		}
		return text, conf, true
	}
	return "", core.ConfidenceScores{}, false
}

// awaitOperator waits, bounded, for operator-submitted text.
func (o *Orchestrator) awaitOperator(ctx context.Context, sessionID string) (string, bool) {
	if o.deps.Intervene == nil {
		return "", false
	}
	waitCtx, cancel := context.WithTimeout(ctx, o.opts.InterventionWait)
	defer cancel()
	return o.deps.Intervene.Await(waitCtx, sessionID)
}

// augment builds the effective system instructions: persona, session memory
// facts, then retrieved knowledge.
func (o *Orchestrator) augment(ctx context.Context, h *Handle, snap turnSnapshot, agent core.AgentDescriptor, input string) string {
	var facts map[string]any
	if o.deps.Memory != nil {
		facts, _ = o.deps.Memory.Get(snap.id)
	}

	// Personas may carry template markers resolved from session facts.
	persona := agent.Persona
	if rendered, err := util.RenderTemplate(persona, facts); err == nil {
		persona = rendered
	} else {
		o.opts.Logger.Warn("turn.persona_template_failed", "session_id", snap.id, "error", err.Error())
	}

	var sb strings.Builder
	sb.WriteString(persona)

	if len(facts) > 0 {
		sb.WriteString("\n\nKnown caller facts:")
		for k, v := range facts {
			sb.WriteString("\n- " + k + ": " + toString(v))
		}
	}

	if o.deps.Knowledge != nil {
		chunks, err := o.deps.Knowledge.Search(ctx, agent.ID, input, 3)
		if err != nil {
			o.opts.Logger.Warn("turn.retrieval_failed", "session_id", snap.id, "error", err.Error())
		} else if len(chunks) > 0 {
			o.emit(h, core.NewKnowledgeHitEvent(snap.id, len(chunks)))
			sb.WriteString("\n\nRelevant knowledge:")
			for _, c := range chunks {
				sb.WriteString("\n- " + c.Content)
			}
		}
	}

	return sb.String()
}

// escalationNeeded checks explicit escalation phrases, sustained negative
// sentiment, repeated-question frustration and agent failure conditions.
func (o *Orchestrator) escalationNeeded(snap turnSnapshot, out turnOutcome, userText, response string) (string, bool) {
	lowered := strings.ToLower(userText)
	for _, kw := range escalationKeywords {
		if strings.Contains(lowered, kw) {
			return "user requested: " + kw, true
		}
	}

	scores := snap.sentiments
	if out.sentimentScored {
		scores = append(scores, out.sentiment)
	}
	if len(scores) >= 3 {
		recent := scores[len(scores)-3:]
		mean := (recent[0] + recent[1] + recent[2]) / 3
		if mean < -0.3 {
			return "sustained negative sentiment", true
		}
	}

	if len(snap.history) > 6 {
		recent := snap.history[len(snap.history)-6:]
		var userMsgs []string
		for _, t := range recent {
			if t.Role == core.RoleUser {
				userMsgs = append(userMsgs, t.Content)
			}
		}
		distinct := map[string]struct{}{}
		for _, m := range userMsgs {
			distinct[m] = struct{}{}
		}
		if len(userMsgs) > 0 && float64(len(distinct)) < float64(len(userMsgs))/2 {
			return "user repeating questions", true
		}
	}

	loweredResp := strings.ToLower(response)
	for _, cond := range snap.agent.FailureConditions {
		if cond != "" && strings.Contains(loweredResp, strings.ToLower(cond)) {
			return "agent failure condition: " + cond, true
		}
	}

	return "", false
}

func normalizeAck(text string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!?,"))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func routerRequest(snap turnSnapshot, agent core.AgentDescriptor, detected, input string) router.Request {
	return router.Request{
		SessionID: snap.id,
		Current:   agent,
		Intent:    detected,
		Input:     input,
		History:   snap.history,
	}
}

func shadowRequest(snap turnSnapshot, userText, response string, latency time.Duration, primaryModel string) audit.ShadowRequest {
	return audit.ShadowRequest{
		SessionID:       snap.id,
		TurnIndex:       snap.turnIndex,
		Instructions:    snap.agent.Persona,
		History:         snap.history,
		Input:           userText,
		PrimaryResponse: response,
		PrimaryModel:    primaryModel,
		PrimaryLatency:  latency,
	}
}
