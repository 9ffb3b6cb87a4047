// Package voicemesh provides a high-level façade over the turn pipeline and
// its collaborators (sessions, policy, routing, knowledge & logging) enabling
// rapid construction of live conversational agent backends. Most applications
// interact with this package by:
//  1. Creating a VoiceMesh via New() with an agent catalog (optionally
//     overriding the default in-memory services)
//  2. Starting live sessions (StartSession) fed by a transport, or using the
//     synchronous Chat helper for request/response callers
//  3. Observing the monitoring bus and intervening via the broker
//
// The façade delegates turn orchestration to pipeline.Orchestrator while
// keeping setup ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply real model
// providers, a durable session store and a structured logger.
package voicemesh

import (
	"context"
	"fmt"

	"github.com/hupe1980/voicemesh/audit"
	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/intent"
	"github.com/hupe1980/voicemesh/intervene"
	"github.com/hupe1980/voicemesh/knowledge"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
	"github.com/hupe1980/voicemesh/pipeline"
	"github.com/hupe1980/voicemesh/policy"
	"github.com/hupe1980/voicemesh/router"
	"github.com/hupe1980/voicemesh/session"
	"github.com/hupe1980/voicemesh/tool"
)

// Options configures the VoiceMesh instance.
type Options struct {
	// Model generates agent responses. Required for any real deployment;
	// defaults to a mock model suitable only for tests and demos.
	Model model.Model

	// Policy is the conversation state machine. Defaults to the permissive
	// single-state policy.
	Policy *policy.ConversationPolicy

	// Stores and collaborators (default to in-memory implementations)
	SessionStore core.SessionStore
	Bus          core.Bus
	Knowledge    *knowledge.InMemoryKnowledge
	Tools        []tool.Tool

	// Pipeline tuning forwarded to pipeline.Options.
	Pipeline []func(o *pipeline.Options)

	// Auditor runs post-delivery compliance checks. Nil disables auditing.
	Auditor *audit.Auditor

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// VoiceMesh is the high-level façade aggregating the pipeline and services.
type VoiceMesh struct {
	opts   Options
	orch   *pipeline.Orchestrator
	broker *intervene.Broker
	store  core.SessionStore
	bus    core.Bus
}

// New creates a VoiceMesh serving the given agent catalog. Any unset service
// is initialized with an in-memory implementation.
func New(agents []core.AgentDescriptor, optFns ...func(o *Options)) (*VoiceMesh, error) {
	opts := Options{
		SessionStore: session.NewInMemoryStore(),
		Bus:          session.NewInMemoryBus(),
		Knowledge:    knowledge.NewInMemoryKnowledge(),
		Policy:       policy.Default(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Model == nil {
		mock := model.NewMockModel("mock-default", "mock")
		mock.SetDefault("This deployment has no model provider configured.")
		opts.Model = mock
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("voicemesh: agent catalog is empty")
	}
	dir, err := router.NewInMemoryDirectory(agents...)
	if err != nil {
		return nil, fmt.Errorf("voicemesh: agent catalog: %w", err)
	}

	tools, err := tool.NewRegistry(opts.Tools...)
	if err != nil {
		return nil, fmt.Errorf("voicemesh: tools: %w", err)
	}

	broker := intervene.NewBroker(func(o *intervene.Options) { o.Logger = opts.Logger })

	pipeOpts := append([]func(o *pipeline.Options){func(o *pipeline.Options) {
		o.Logger = opts.Logger
	}}, opts.Pipeline...)

	orch, err := pipeline.New(pipeline.Deps{
		Store:     opts.SessionStore,
		Bus:       opts.Bus,
		Directory: dir,
		Model:     opts.Model,
		Policy:    policy.NewEngine(opts.Policy),
		Router:    router.New(dir),
		Tools:     tools,
		Intervene: broker,
		Knowledge: opts.Knowledge,
		Memory:    opts.Knowledge,
		Detector:  intent.NewKeywordDetector(),
		Sentiment: intent.NewKeywordScorer(),
		Auditor:   opts.Auditor,
	}, pipeOpts...)
	if err != nil {
		return nil, err
	}

	return &VoiceMesh{opts: opts, orch: orch, broker: broker, store: opts.SessionStore, bus: opts.Bus}, nil
}

// Orchestrator exposes the underlying pipeline for transport layers.
func (m *VoiceMesh) Orchestrator() *pipeline.Orchestrator { return m.orch }

// Broker exposes the intervention broker for operator tooling.
func (m *VoiceMesh) Broker() *intervene.Broker { return m.broker }

// Store exposes the session store.
func (m *VoiceMesh) Store() core.SessionStore { return m.store }

// Bus exposes the monitoring event bus.
func (m *VoiceMesh) Bus() core.Bus { return m.bus }

// StartSession opens a live session with the named agent and returns its
// transport handle.
func (m *VoiceMesh) StartSession(ctx context.Context, agentID string, metadata map[string]string) (*pipeline.Handle, error) {
	return m.orch.StartSession(ctx, agentID, metadata)
}

// Chat is the synchronous helper: one user utterance in, one agent response
// out. An empty SessionID creates a new session.
func (m *VoiceMesh) Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.ChatResponse, error) {
	return m.orch.Respond(ctx, req)
}
