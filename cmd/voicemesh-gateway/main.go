// Command voicemesh-gateway runs the VoiceMesh HTTP/websocket gateway: live
// caller sessions, the synchronous chat endpoint, operator intervention and
// the monitoring stream, all backed by the in-memory session store.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/hupe1980/voicemesh/audit"
	"github.com/hupe1980/voicemesh/config"
	"github.com/hupe1980/voicemesh/gateway"
	"github.com/hupe1980/voicemesh/health"
	"github.com/hupe1980/voicemesh/intent"
	"github.com/hupe1980/voicemesh/intervene"
	"github.com/hupe1980/voicemesh/knowledge"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
	"github.com/hupe1980/voicemesh/model/anthropic"
	"github.com/hupe1980/voicemesh/model/openai"
	"github.com/hupe1980/voicemesh/pipeline"
	"github.com/hupe1980/voicemesh/policy"
	"github.com/hupe1980/voicemesh/router"
	"github.com/hupe1980/voicemesh/session"
	"github.com/hupe1980/voicemesh/tool"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.NewSlogLogger(parseLevel(cfg.LogLevel), cfg.LogFormat, false)

	dir, err := router.LoadDirectoryFile(cfg.AgentCatalogPath)
	if err != nil {
		log.Fatalf("load agent catalog: %v", err)
	}

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		pol, err = policy.LoadFile(cfg.PolicyPath)
		if err != nil {
			log.Fatalf("load policy: %v", err)
		}
	}

	registry := health.NewRegistry()
	mdl, shadow, err := buildModels(cfg, registry)
	if err != nil {
		log.Fatalf("configure models: %v", err)
	}

	store := session.NewInMemoryStore(func(o *session.InMemoryStoreOptions) {
		o.TTL = cfg.SessionTTL
	})
	bus := session.NewInMemoryBus()
	broker := intervene.NewBroker(func(o *intervene.Options) { o.Logger = logger })
	kb := knowledge.NewInMemoryKnowledge()

	tools, err := tool.NewRegistry(
		tool.NewTransferToAgentTool(),
		tool.NewEscalateToHumanTool(),
		tool.NewRememberFactTool(),
	)
	if err != nil {
		log.Fatalf("register tools: %v", err)
	}

	auditor := audit.NewAuditor(audit.DefaultRules(), bus, func(o *audit.AuditorOptions) {
		o.Logger = logger
	})

	var comparator *audit.ShadowComparator
	if shadow != nil {
		comparator = audit.NewShadowComparator(shadow, func(o *audit.ShadowComparatorOptions) {
			o.Logger = logger
		})
	}

	orch, err := pipeline.New(pipeline.Deps{
		Store:     store,
		Bus:       bus,
		Directory: dir,
		Model:     mdl,
		Policy:    policy.NewEngine(pol),
		Router:    router.New(dir),
		Tools:     tools,
		Intervene: broker,
		Knowledge: kb,
		Memory:    kb,
		Detector:  intent.NewKeywordDetector(),
		Sentiment: intent.NewKeywordScorer(),
		Auditor:   auditor,
		Shadow:    comparator,
	}, func(o *pipeline.Options) {
		o.Logger = logger
		o.LatencyBudget = cfg.LatencyBudget
		o.SilenceTimeout = cfg.SilenceTimeout
		o.InterventionWait = cfg.InterventionWait
		o.MaxTurns = cfg.MaxTurns
	})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	h := gateway.NewHandler(orch, store, bus, broker, registry, func(o *gateway.Options) {
		o.Logger = logger
	})
	e := gateway.NewServer(h)

	logger.Info("gateway.listening", "addr", cfg.Addr)
	if err := e.Start(cfg.Addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// buildModels picks the provider chain from the configured credentials. With
// both keys present, Anthropic is primary with OpenAI failover, and OpenAI
// doubles as the shadow comparator model.
func buildModels(cfg *config.Config, registry *health.Registry) (model.Model, model.Model, error) {
	var primary, secondary model.Model

	if cfg.AnthropicAPIKey != "" {
		primary = anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.AnthropicAPIKey
		})
	}
	if cfg.OpenAIAPIKey != "" {
		if err := os.Setenv("OPENAI_API_KEY", cfg.OpenAIAPIKey); err != nil {
			return nil, nil, err
		}
		secondary = openai.NewModel()
	}

	switch {
	case primary != nil && secondary != nil:
		return model.NewFailoverModel(primary, secondary, registry), secondary, nil
	case primary != nil:
		return primary, nil, nil
	case secondary != nil:
		return secondary, nil, nil
	default:
		return nil, nil, fmt.Errorf("no provider API key configured")
	}
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
