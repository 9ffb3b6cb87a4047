package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/intent"
	"github.com/hupe1980/voicemesh/intervene"
	"github.com/hupe1980/voicemesh/model"
	"github.com/hupe1980/voicemesh/policy"
	"github.com/hupe1980/voicemesh/router"
	"github.com/hupe1980/voicemesh/session"
)

func testPolicy() *policy.ConversationPolicy {
	return &policy.ConversationPolicy{
		Version:      "test",
		InitialState: "GREETING",
		States: map[string]*policy.State{
			"GREETING": {
				Name: "GREETING",
				Transitions: []policy.Transition{
					{Event: "user_spoke", TargetState: "PROCESSING"},
				},
			},
			"PROCESSING": {
				Name: "PROCESSING",
				Guardrails: []policy.Guardrail{
					{Name: "no_refund_talk", Type: policy.GuardrailRegex, Pattern: "refund", Action: policy.ActionBlock},
				},
			},
		},
	}
}

func testAgents() []core.AgentDescriptor {
	return []core.AgentDescriptor{
		{ID: "agent-1", Name: "Concierge", Role: core.RolePrimary, Persona: "You are a helpful concierge.", Active: true},
		{ID: "sup-1", Name: "Floor Manager", Role: core.RoleSupervisor, Persona: "You supervise.", Active: true},
	}
}

type fixture struct {
	store  *session.InMemoryStore
	bus    *session.InMemoryBus
	mock   *model.MockModel
	broker *intervene.Broker
	orch   *Orchestrator
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()

	dir, err := router.NewInMemoryDirectory(testAgents()...)
	require.NoError(t, err)

	f := &fixture{
		store:  session.NewInMemoryStore(),
		bus:    session.NewInMemoryBus(),
		mock:   model.NewMockModel("test-model", "mock"),
		broker: intervene.NewBroker(),
	}
	f.mock.SetDefault("Happy to help with that.")

	f.orch, err = New(Deps{
		Store:     f.store,
		Bus:       f.bus,
		Directory: dir,
		Model:     f.mock,
		Policy:    policy.NewEngine(testPolicy()),
		Router:    router.New(dir),
		Intervene: f.broker,
		Detector:  intent.NewKeywordDetector(),
		Sentiment: intent.NewKeywordScorer(),
	}, optFns...)
	require.NoError(t, err)
	return f
}

// waitFor drains the handle's event stream until an event of the given type
// arrives.
func waitFor(t *testing.T, h *Handle, typ core.EventType) core.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session loop did not exit")
	}
}

func TestStartSession(t *testing.T) {
	t.Run("emits session_start and sets initial policy state", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		ev := waitFor(t, h, core.EventSessionStart)
		assert.Equal(t, "Concierge", ev.AgentName)

		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "GREETING", sess.GetPolicyState())
	})

	t.Run("unknown agent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.StartSession(context.Background(), "nope", nil)
		assert.Error(t, err)
	})
}

func TestTurn(t *testing.T) {
	t.Run("greeting transitions into processing", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		h.Submit(core.TextInput("hello"))
		waitFor(t, h, core.EventEndResponse)

		require.Eventually(t, func() bool {
			sess, err := f.store.Get(h.SessionID)
			return err == nil && sess.GetPolicyState() == "PROCESSING"
		}, 2*time.Second, 10*time.Millisecond)

		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		history := sess.GetHistory()
		require.Len(t, history, 2)
		assert.Equal(t, core.RoleUser, history[0].Role)
		assert.Equal(t, "hello", history[0].Content)
		assert.Equal(t, core.RoleAssistant, history[1].Role)
	})

	t.Run("guardrail blocks before generation", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		// Move into PROCESSING where the refund guardrail lives.
		h.Submit(core.TextInput("hello"))
		waitFor(t, h, core.EventEndResponse)
		calls := f.mock.Calls()

		h.Submit(core.TextInput("give me a refund now"))
		ev := waitFor(t, h, core.EventTextChunk)
		assert.Equal(t, policy.BlockedResponseText, ev.Text)
		waitFor(t, h, core.EventEndResponse)

		assert.Equal(t, calls, f.mock.Calls(), "blocked input must not reach the model")
	})

	t.Run("fast path skips generation and policy state", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		h.Submit(core.TextInput("Thanks!"))
		ev := waitFor(t, h, core.EventTextChunk)
		assert.Equal(t, "You're welcome!", ev.Text)
		waitFor(t, h, core.EventEndResponse)

		assert.Zero(t, f.mock.Calls())
		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "GREETING", sess.GetPolicyState())
	})

	t.Run("escalation keyword ends the session loop", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)

		h.Submit(core.TextInput("let me speak to a human"))
		ev := waitFor(t, h, core.EventEscalation)
		assert.Contains(t, ev.Reason, "speak to a human")
		waitDone(t, h)

		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionEscalated, sess.GetStatus())
		assert.Equal(t, "sup-1", sess.TransferredTo)
	})

	t.Run("disconnect ends cleanly with summary", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)

		h.Submit(core.TextInput("hello"))
		waitFor(t, h, core.EventEndResponse)
		h.Submit(core.Disconnect())
		waitDone(t, h)

		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionEnded, sess.GetStatus())
		turns, _ := sess.GetMetadata("summary_turns")
		assert.Equal(t, "1", turns)
	})

	t.Run("max turns ends the session", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.MaxTurns = 1 })
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)

		h.Submit(core.TextInput("hello"))
		waitFor(t, h, core.EventEndResponse)
		waitDone(t, h)

		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		assert.Equal(t, core.SessionEnded, sess.GetStatus())
		reason, _ := sess.GetMetadata("end_reason")
		assert.Equal(t, "max_turns", reason)
	})
}

func TestSilenceNudge(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.SilenceTimeout = 50 * time.Millisecond })
	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	ev := waitFor(t, h, core.EventTextChunk)
	assert.Equal(t, nudgeText, ev.Text)

	// The nudge is one-shot: no second nudge without new input.
	time.Sleep(150 * time.Millisecond)
	sess, err := f.store.Get(h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.HistoryLen())
}

func TestConfidenceGate(t *testing.T) {
	f := newFixture(t)
	f.orch.deps.Transcriber = stubTranscriber{
		text: "mumble mumble",
		conf: core.ConfidenceScores{SpeechRecognition: 0.3, IntentDetection: 0.9},
	}

	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	h.Submit(core.AudioInput([]byte{0x01}, "audio/wav"))
	ev := waitFor(t, h, core.EventTextChunk)
	assert.Equal(t, lowConfidenceText, ev.Text)
	waitFor(t, h, core.EventEndResponse)

	assert.Zero(t, f.mock.Calls(), "low confidence input must not reach the model")
}

type stubTranscriber struct {
	text string
	conf core.ConfidenceScores
	err  error
}

func (s stubTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, core.ConfidenceScores, error) {
	return s.text, s.conf, s.err
}

// slowModel delays its answer, used for latency-budget and barge-in tests.
type slowModel struct {
	delay time.Duration
	text  string
}

func (m *slowModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case <-time.After(m.delay):
			respCh <- model.Response{Text: m.text, FinishReason: "stop"}
		}
	}()
	return respCh, errCh
}

func (m *slowModel) Info() model.Info {
	return model.Info{Name: "slow-model", Provider: "mock"}
}

func TestLatencyBudget(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.LatencyBudget = 50 * time.Millisecond })
	f.orch.deps.Model = &slowModel{delay: 400 * time.Millisecond, text: "too late"}

	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	h.Submit(core.TextInput("what is the weather like"))
	ev := waitFor(t, h, core.EventTextChunk)
	assert.Contains(t, stallFillers, ev.Text)
	waitFor(t, h, core.EventEndResponse)

	require.Eventually(t, func() bool {
		sess, err := f.store.Get(h.SessionID)
		return err == nil && sess.HistoryLen() == 2
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.store.Get(h.SessionID)
	require.NoError(t, err)
	history := sess.GetHistory()
	assert.True(t, history[1].Degraded, "budget exhaustion persists as degraded, not as an error")
	assert.NotEqual(t, "too late", history[1].Content)
}

func TestBargeIn(t *testing.T) {
	f := newFixture(t)
	f.orch.deps.Model = &slowModel{delay: 300 * time.Millisecond, text: "answer"}

	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	h.Submit(core.TextInput("first question"))
	time.Sleep(50 * time.Millisecond)
	h.Submit(core.TextInput("actually, second question"))

	waitFor(t, h, core.EventEndResponse)

	require.Eventually(t, func() bool {
		sess, err := f.store.Get(h.SessionID)
		return err == nil && sess.HistoryLen() == 2
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.store.Get(h.SessionID)
	require.NoError(t, err)
	history := sess.GetHistory()
	require.Len(t, history, 2, "the cancelled turn must contribute nothing")
	assert.Equal(t, "actually, second question", history[0].Content)
}

// stallingStore delays assistant-side persistence, widening the window in
// which new input can arrive while a turn is completing.
type stallingStore struct {
	*session.InMemoryStore
	delay time.Duration
}

func (s *stallingStore) AppendTurn(sessionID string, turn core.Turn) error {
	if turn.Role == core.RoleAssistant {
		time.Sleep(s.delay)
	}
	return s.InMemoryStore.AppendTurn(sessionID, turn)
}

func TestBargeInDuringPersist(t *testing.T) {
	f := newFixture(t)

	p := testPolicy()
	p.States["PROCESSING"].Transitions = []policy.Transition{
		{Event: "user_spoke", TargetState: "DONE"},
	}
	p.States["DONE"] = &policy.State{Name: "DONE"}
	f.orch.deps.Policy = policy.NewEngine(p)
	f.orch.deps.Store = &stallingStore{InMemoryStore: f.store, delay: 30 * time.Millisecond}

	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	h.Submit(core.TextInput("first question"))

	// Once the user turn lands in history the first turn is committed: it
	// will persist its assistant turn even if cancelled now. Barge in while
	// that write is stalled.
	require.Eventually(t, func() bool {
		sess, err := f.store.Get(h.SessionID)
		return err == nil && sess.HistoryLen() == 1
	}, 2*time.Second, time.Millisecond)
	h.Submit(core.TextInput("second question"))

	require.Eventually(t, func() bool {
		sess, err := f.store.Get(h.SessionID)
		return err == nil && sess.HistoryLen() == 4
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.store.Get(h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "DONE", sess.GetPolicyState(),
		"a turn whose history persisted must also advance the policy state")
}

func TestInterrupt(t *testing.T) {
	f := newFixture(t)
	f.orch.deps.Model = &slowModel{delay: 300 * time.Millisecond, text: "answer"}

	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	h.Submit(core.TextInput("first question"))
	time.Sleep(50 * time.Millisecond)
	h.Submit(core.Interrupt())

	time.Sleep(400 * time.Millisecond)
	sess, err := f.store.Get(h.SessionID)
	require.NoError(t, err)
	assert.Zero(t, sess.HistoryLen(), "interrupt cancels without injecting input")
}

func TestIntervention(t *testing.T) {
	t.Run("takeover speaks the operator's text", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		f.broker.Start(h.SessionID, "op-7", intervene.ModeTakeover)
		h.Submit(core.TextInput("I need help with my bill"))
		time.Sleep(50 * time.Millisecond)
		f.broker.Respond(h.SessionID, "Hi, this is Sam taking over.")

		ev := waitFor(t, h, core.EventTextChunk)
		assert.Equal(t, "Hi, this is Sam taking over.", ev.Text)
		assert.Zero(t, f.mock.Calls())
	})

	t.Run("takeover timeout drops the turn silently", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.InterventionWait = 30 * time.Millisecond })
		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		f.broker.Start(h.SessionID, "op-7", intervene.ModeTakeover)
		h.Submit(core.TextInput("hello"))

		time.Sleep(150 * time.Millisecond)
		sess, err := f.store.Get(h.SessionID)
		require.NoError(t, err)
		assert.Zero(t, sess.HistoryLen())
	})

	t.Run("whisper speaks the suggestion on timeout", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.InterventionWait = 30 * time.Millisecond })
		f.mock.SetDefault("suggested draft")

		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		f.broker.Start(h.SessionID, "op-7", intervene.ModeWhisper)
		h.Submit(core.TextInput("hello"))

		ev := waitFor(t, h, core.EventTextChunk)
		assert.Equal(t, "suggested draft", ev.Text)
	})

	t.Run("whisper prefers the operator's edit", func(t *testing.T) {
		f := newFixture(t)
		f.mock.SetDefault("suggested draft")

		h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
		require.NoError(t, err)
		defer h.Close()

		// The suggestion reaches the operator over the bus.
		opCh, cancel := f.bus.Subscribe(h.SessionID)
		defer cancel()

		f.broker.Start(h.SessionID, "op-7", intervene.ModeWhisper)
		h.Submit(core.TextInput("hello"))

		deadline := time.After(3 * time.Second)
		for edited := false; !edited; {
			select {
			case ev := <-opCh:
				if ev.Type == core.EventTranscription && ev.Role == core.RoleAssistant && ev.Text == "suggested draft" {
					f.broker.Respond(h.SessionID, "edited draft")
					edited = true
				}
			case <-deadline:
				t.Fatal("suggestion never reached the operator")
			}
		}

		ev := waitFor(t, h, core.EventTextChunk)
		assert.Equal(t, "edited draft", ev.Text)
	})
}

func TestProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.FailWith(errors.New("provider exploded"))

	h, err := f.orch.StartSession(context.Background(), "agent-1", nil)
	require.NoError(t, err)
	defer h.Close()

	h.Submit(core.TextInput("hello"))
	waitFor(t, h, core.EventError)
	ev := waitFor(t, h, core.EventTextChunk)
	assert.Equal(t, apologyText, ev.Text)
	waitFor(t, h, core.EventEndResponse)
}

func TestRespond(t *testing.T) {
	t.Run("creates a session and answers", func(t *testing.T) {
		f := newFixture(t)

		resp, err := f.orch.Respond(context.Background(), ChatRequest{AgentID: "agent-1", Text: "hello"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.SessionID)
		assert.Equal(t, "Happy to help with that.", resp.Text)
		assert.Equal(t, "agent-1", resp.AgentID)

		sess, err := f.store.Get(resp.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "PROCESSING", sess.GetPolicyState())
		assert.Equal(t, 2, sess.HistoryLen())
	})

	t.Run("continues an existing session", func(t *testing.T) {
		f := newFixture(t)

		first, err := f.orch.Respond(context.Background(), ChatRequest{AgentID: "agent-1", Text: "hello"})
		require.NoError(t, err)

		second, err := f.orch.Respond(context.Background(), ChatRequest{
			AgentID:   "agent-1",
			SessionID: first.SessionID,
			Text:      "tell me more",
		})
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)

		sess, err := f.store.Get(first.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 4, sess.HistoryLen())
	})

	t.Run("unknown agent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Respond(context.Background(), ChatRequest{AgentID: "nope", Text: "hi"})
		assert.Error(t, err)
	})
}
