package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/audit"
	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/intent"
	"github.com/hupe1980/voicemesh/intervene"
	"github.com/hupe1980/voicemesh/knowledge"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
	"github.com/hupe1980/voicemesh/policy"
	"github.com/hupe1980/voicemesh/router"
	"github.com/hupe1980/voicemesh/tool"
)

const (
	// DefaultLatencyBudget bounds one generation step.
	DefaultLatencyBudget = 2500 * time.Millisecond
	// DefaultSilenceTimeout is how long the loop waits for input before a
	// one-shot nudge.
	DefaultSilenceTimeout = 15 * time.Second
	// DefaultInterventionWait bounds waiting for operator text in takeover
	// and whisper modes.
	DefaultInterventionWait = 10 * time.Second
	// DefaultMaxTurns ends the session after this many completed turns.
	DefaultMaxTurns = 50
	// DefaultConfidenceThreshold gates low-trust input before generation.
	DefaultConfidenceThreshold = 0.4
)

// Fixed utterances spoken by the pipeline itself, without generation.
const (
	lowConfidenceText = "I'm sorry, I didn't quite catch that. Could you say it again, or would you like me to connect you with a person?"
	apologyText       = "I'm sorry, I'm having trouble right now. Could you repeat that in a moment?"
	nudgeText         = "Are you still there?"
)

// stallFillers buy time when the latency budget runs out. Picked
// deterministically by turn index.
var stallFillers = []string{
	"Let me check that for you...",
	"One moment while I pull that up...",
	"Let me see...",
	"Checking my records...",
}

// fastPathResponses answers short acknowledgements without touching the
// model or the policy state.
var fastPathResponses = map[string]string{
	"ok":        "Okay.",
	"okay":      "Okay.",
	"thanks":    "You're welcome!",
	"thank you": "You're welcome!",
	"bye":       "Goodbye, thanks for calling!",
	"goodbye":   "Goodbye, thanks for calling!",
}

// escalationKeywords in user input force a handoff to a human.
var escalationKeywords = []string{
	"speak to a human",
	"transfer to agent",
	"manager",
	"supervisor",
	"not satisfied",
	"complaint",
}

// Transcriber converts raw audio input to text with per-stage confidence.
// Speech recognition is an external collaborator; a nil Transcriber rejects
// audio input.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, core.ConfidenceScores, error)
}

// Deps are the collaborators an Orchestrator consumes. Store, Directory,
// Model and Policy are required; the rest degrade gracefully when nil.
type Deps struct {
	Store     core.SessionStore
	Bus       core.Bus
	Directory core.Directory
	Model     model.Model
	Policy    *policy.Engine
	Router    *router.Router
	Tools     *tool.Registry
	Intervene *intervene.Broker
	Knowledge knowledge.Retriever
	Memory    knowledge.SessionMemory
	Detector  intent.Detector
	Sentiment intent.Scorer
	Auditor   *audit.Auditor
	Shadow    *audit.ShadowComparator

	Transcriber Transcriber
}

// Options tune the orchestrator's timing and thresholds.
type Options struct {
	Logger              logging.Logger
	LatencyBudget       time.Duration
	SilenceTimeout      time.Duration
	InterventionWait    time.Duration
	MaxTurns            int
	ConfidenceThreshold float64
	// VersionPick supplies the random draw for weighted agent-version
	// selection. Tests inject a fixed value.
	VersionPick func() int
}

// Orchestrator drives the turn pipeline for all sessions of one deployment.
type Orchestrator struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	handles map[string]*Handle
}

// New constructs an Orchestrator. Provider selection, policy interpretation
// and routing behavior all come from deps; Options only tune timing.
func New(deps Deps, optFns ...func(o *Options)) (*Orchestrator, error) {
	if deps.Store == nil || deps.Directory == nil || deps.Model == nil || deps.Policy == nil {
		return nil, fmt.Errorf("pipeline: store, directory, model and policy are required")
	}
	opts := Options{
		Logger:              logging.NoOpLogger{},
		LatencyBudget:       DefaultLatencyBudget,
		SilenceTimeout:      DefaultSilenceTimeout,
		InterventionWait:    DefaultInterventionWait,
		MaxTurns:            DefaultMaxTurns,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		VersionPick:         func() int { return rand.Int() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{deps: deps, opts: opts, handles: map[string]*Handle{}}, nil
}

// Handle is the transport-facing side of one live session: a queue for
// inbound events and a stream of outbound events. Submit never blocks the
// caller for long; the loop drains the queue even while a turn is in flight.
type Handle struct {
	SessionID string
	AgentName string

	inputCh chan core.InputEvent
	events  chan core.Event
	done    chan struct{}
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// Submit hands an inbound transport event to the session loop. Events
// submitted after the session ended are dropped.
func (h *Handle) Submit(ev core.InputEvent) {
	select {
	case <-h.done:
	case h.inputCh <- ev:
	}
}

// Events returns the outbound event stream. The channel closes when the
// session ends.
func (h *Handle) Events() <-chan core.Event { return h.events }

// Done closes when the session loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close force-ends the session, cancelling any in-flight turn.
func (h *Handle) Close() { h.cancel() }

func (h *Handle) finish() {
	h.closeOnce.Do(func() {
		close(h.done)
		close(h.events)
	})
}

// sessionState is the loop-local view of one session. Only the loop
// goroutine touches it.
type sessionState struct {
	id    string
	owner core.AgentDescriptor // resolved at session start, immutable
	agent core.AgentDescriptor // current responding agent
	// policyState mirrors the store; the loop is the only writer.
	policyState string
	retries     int
	turnIndex   int
	nudged      bool
	// sentiments holds recent user sentiment scores for trend detection.
	sentiments []float64
	// latencies accumulates generation latencies for the end-of-session
	// analytics summary.
	latencies []time.Duration
	degraded  int
}

// StartSession resolves the agent (including canary/pinned version
// selection, which happens exactly once), creates the session and starts its
// loop goroutine. The returned Handle is the only way to feed the session.
func (o *Orchestrator) StartSession(ctx context.Context, agentID string, metadata map[string]string) (*Handle, error) {
	desc, ok := o.deps.Directory.AgentByID(agentID)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown agent %q", agentID)
	}
	resolved := desc.ResolveVersion(o.opts.VersionPick())

	sess, err := o.deps.Store.Create(core.NewID(), resolved.ID, metadata)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create session: %w", err)
	}
	initial := o.deps.Policy.InitialState()
	if err := o.deps.Store.SetPolicyState(sess.ID, initial); err != nil {
		return nil, fmt.Errorf("pipeline: set policy state: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		SessionID: sess.ID,
		AgentName: resolved.Name,
		inputCh:   make(chan core.InputEvent, 16),
		events:    make(chan core.Event, 64),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	o.mu.Lock()
	o.handles[sess.ID] = h
	o.mu.Unlock()

	st := &sessionState{
		id:          sess.ID,
		owner:       resolved,
		agent:       resolved,
		policyState: initial,
	}

	o.emit(h, core.NewSessionStartEvent(sess.ID, resolved.Name))
	o.opts.Logger.Info("session.start", "session_id", sess.ID, "agent", resolved.Name)

	go o.loop(loopCtx, h, st)

	return h, nil
}

// Session returns the live handle for a session, if any.
func (o *Orchestrator) Session(sessionID string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[sessionID]
	return h, ok
}

// emit delivers an event to the session's transport stream and the
// monitoring bus. Slow transport consumers lose events rather than stalling
// the turn.
func (o *Orchestrator) emit(h *Handle, ev core.Event) {
	select {
	case h.events <- ev:
	default:
	}
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(ev.SessionID, ev)
	}
}

// turnTask references the at-most-one in-flight turn so the loop can cancel
// it cooperatively.
type turnTask struct {
	cancel context.CancelFunc
	done   chan turnOutcome
}

// loop is the per-session consumer: it drains the input queue, arbitrates
// barge-in, fires the silence nudge and applies turn outcomes. It is the
// single writer of the session's core fields.
func (o *Orchestrator) loop(ctx context.Context, h *Handle, st *sessionState) {
	defer o.cleanup(h)

	var inflight *turnTask

	silence := time.NewTimer(o.opts.SilenceTimeout)
	defer silence.Stop()

	for {
		var doneCh chan turnOutcome
		if inflight != nil {
			doneCh = inflight.done
		}

		select {
		case <-ctx.Done():
			if !o.abort(h, st, inflight) {
				o.endSession(h, st, "cancelled")
			}
			return

		case ev := <-h.inputCh:
			st.nudged = false
			resetTimer(silence, o.opts.SilenceTimeout)

			switch ev.Kind {
			case core.InputDisconnect:
				if !o.abort(h, st, inflight) {
					o.endSession(h, st, "disconnect")
				}
				return
			case core.InputInterrupt:
				if o.abort(h, st, inflight) {
					return
				}
				inflight = nil
			case core.InputText, core.InputAudio:
				// Barge-in: a new utterance cancels the running turn
				// before its own turn starts. The loop waits for it to
				// unwind; a turn that slipped past cancellation has its
				// outcome applied so the next snapshot sees it.
				if o.abort(h, st, inflight) {
					return
				}
				inflight = o.startTurn(ctx, h, st, ev)
			}

		case out := <-doneCh:
			inflight = nil
			resetTimer(silence, o.opts.SilenceTimeout)
			if out.cancelled {
				continue
			}
			o.applyOutcome(h, st, out)
			if out.escalate {
				o.escalateSession(h, st, out.escalateReason)
				return
			}
			if st.turnIndex >= o.opts.MaxTurns {
				o.endSession(h, st, "max_turns")
				return
			}

		case <-silence.C:
			resetTimer(silence, o.opts.SilenceTimeout)
			if inflight == nil && !st.nudged {
				st.nudged = true
				o.speak(h, st.id, nudgeText)
			}
		}
	}
}

// abort cancels an in-flight turn and waits for it to unwind so that the
// single-writer invariant holds before the next turn starts. A turn that
// already passed its cancellation check has persisted both history entries,
// so its outcome must still be applied or the policy state falls out of
// sync with history. Returns true when applying the outcome terminated the
// session.
func (o *Orchestrator) abort(h *Handle, st *sessionState, t *turnTask) bool {
	if t == nil {
		return false
	}
	t.cancel()
	out := <-t.done
	if out.cancelled {
		return false
	}
	o.applyOutcome(h, st, out)
	if out.escalate {
		o.escalateSession(h, st, out.escalateReason)
		return true
	}
	if st.turnIndex >= o.opts.MaxTurns {
		o.endSession(h, st, "max_turns")
		return true
	}
	return false
}

// applyOutcome folds a completed turn back into the loop state.
func (o *Orchestrator) applyOutcome(h *Handle, st *sessionState, out turnOutcome) {
	st.turnIndex++
	st.retries = out.retries
	if out.policyState != "" && out.policyState != st.policyState {
		st.policyState = out.policyState
		if err := o.deps.Store.SetPolicyState(st.id, out.policyState); err != nil {
			o.opts.Logger.Warn("session.state.persist_failed", "session_id", st.id, "error", err.Error())
		}
	}
	st.agent = out.agent
	if out.sentimentScored {
		st.sentiments = append(st.sentiments, out.sentiment)
	}
	if out.latency > 0 {
		st.latencies = append(st.latencies, out.latency)
	}
	if out.degraded {
		st.degraded++
	}
}

// speak emits a pipeline-authored utterance as a full response cycle and
// appends it to history.
func (o *Orchestrator) speak(h *Handle, sessionID, text string) {
	o.emit(h, core.NewEvent(sessionID, core.EventStartResponse))
	o.emit(h, core.NewTextChunkEvent(sessionID, text))
	o.emit(h, core.NewEvent(sessionID, core.EventEndResponse))
	if err := o.deps.Store.AppendTurn(sessionID, core.NewTurn(core.RoleAssistant, text)); err != nil {
		o.opts.Logger.Warn("session.append_failed", "session_id", sessionID, "error", err.Error())
	}
}

// escalateSession hands the session to a human: the store records the
// escalation and the loop exits.
func (o *Orchestrator) escalateSession(h *Handle, st *sessionState, reason string) {
	target := ""
	if sups := o.deps.Directory.AgentsByRole(core.RoleSupervisor); len(sups) > 0 {
		target = sups[0].ID
	}
	if err := o.deps.Store.Escalate(st.id, reason, target); err != nil {
		o.opts.Logger.Warn("session.escalate_failed", "session_id", st.id, "error", err.Error())
	}
	o.emit(h, core.NewEscalationEvent(st.id, reason))
	o.opts.Logger.Info("session.escalated", "session_id", st.id, "reason", reason)
	o.writeSummary(st)
}

// endSession closes the session cleanly and persists the analytics summary.
// Summary failures are logged, never surfaced.
func (o *Orchestrator) endSession(h *Handle, st *sessionState, reason string) {
	if err := o.deps.Store.End(st.id, reason); err != nil {
		o.opts.Logger.Warn("session.end_failed", "session_id", st.id, "error", err.Error())
	}
	o.opts.Logger.Info("session.end", "session_id", st.id, "reason", reason, "turns", st.turnIndex)
	o.writeSummary(st)
	o.extractMemory(st)
}

// writeSummary records turn count, mean generation latency and degraded
// count in session metadata.
func (o *Orchestrator) writeSummary(st *sessionState) {
	var mean time.Duration
	if len(st.latencies) > 0 {
		var total time.Duration
		for _, l := range st.latencies {
			total += l
		}
		mean = total / time.Duration(len(st.latencies))
	}
	for key, value := range map[string]string{
		"summary_turns":           strconv.Itoa(st.turnIndex),
		"summary_mean_latency_ms": strconv.FormatInt(mean.Milliseconds(), 10),
		"summary_degraded":        strconv.Itoa(st.degraded),
	} {
		if err := o.deps.Store.SetMetadata(st.id, key, value); err != nil {
			o.opts.Logger.Warn("session.summary_failed", "session_id", st.id, "error", err.Error())
			return
		}
	}
}

// memoryExtractionPrompt requests a strict JSON object so the output can be
// validated instead of parsed from free text.
const memoryExtractionPrompt = "Extract durable facts about the caller from the conversation " +
	"(name, preferences, account details). Respond with a single JSON object mapping " +
	"snake_case keys to string values. Respond with {} when nothing is worth keeping."

// extractMemory distills caller facts from the finished conversation into
// session memory. Best-effort background work: malformed model output or a
// provider failure skips extraction, never retries.
func (o *Orchestrator) extractMemory(st *sessionState) {
	if o.deps.Memory == nil || st.turnIndex == 0 {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.opts.Logger.Error("session.memory_extract_panic", "session_id", st.id)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sess, err := o.deps.Store.Get(st.id)
		if err != nil {
			return
		}
		respCh, errCh := o.deps.Model.Generate(ctx, model.Request{
			Instructions: memoryExtractionPrompt,
			History:      sess.GetHistory(),
			Input:        "Extract the facts now.",
		})
		resp, err := model.Collect(ctx, respCh, errCh)
		if err != nil {
			o.opts.Logger.Debug("session.memory_extract_failed", "session_id", st.id, "error", err.Error())
			return
		}

		var facts map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &facts); err != nil {
			o.opts.Logger.Debug("session.memory_extract_malformed", "session_id", st.id)
			return
		}
		if len(facts) == 0 {
			return
		}
		if err := o.deps.Memory.Put(st.id, facts); err != nil {
			o.opts.Logger.Warn("session.memory_extract_store_failed", "session_id", st.id, "error", err.Error())
		}
	}()
}

func (o *Orchestrator) cleanup(h *Handle) {
	o.mu.Lock()
	delete(o.handles, h.SessionID)
	o.mu.Unlock()
	h.finish()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
