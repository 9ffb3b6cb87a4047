// Package gateway is the transport layer: an HTTP server exposing the live
// websocket endpoint, the synchronous chat endpoint, intervention controls
// and the monitoring stream. It translates wire JSON to pipeline input
// events and pipeline events back to wire JSON; all orchestration lives in
// the pipeline package.
package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/health"
	"github.com/hupe1980/voicemesh/intervene"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/pipeline"
)

// Handler wires the pipeline and its collaborators into HTTP routes.
type Handler struct {
	orch   *pipeline.Orchestrator
	store  core.SessionStore
	bus    core.Bus
	broker *intervene.Broker
	health *health.Registry
	logger logging.Logger
}

// Options configures a Handler.
type Options struct {
	Logger logging.Logger
}

// NewHandler creates the transport handler. Broker, bus and health are
// optional; their routes answer 404 or empty when absent.
func NewHandler(orch *pipeline.Orchestrator, store core.SessionStore, bus core.Bus, broker *intervene.Broker, registry *health.Registry, optFns ...func(o *Options)) *Handler {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handler{
		orch:   orch,
		store:  store,
		bus:    bus,
		broker: broker,
		health: registry,
		logger: opts.Logger,
	}
}

// NewServer builds the echo server with standard middleware and all routes
// registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers all transport routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/:agent_id", h.Live)
	e.GET("/ws/monitor", h.Monitor)
	e.GET("/ws/monitor/:session_id", h.MonitorSession)

	e.POST("/chat", h.Chat)

	e.GET("/sessions", h.ListSessions)
	e.GET("/sessions/:session_id", h.GetSession)
	e.POST("/sessions/:session_id/intervene", h.StartIntervention)
	e.DELETE("/sessions/:session_id/intervene", h.StopIntervention)
	e.POST("/sessions/:session_id/respond", h.OperatorRespond)
	e.GET("/sessions/:session_id/pending", h.PendingActions)

	e.GET("/health", h.Health)
	e.GET("/health/providers", h.ProviderHealth)
}

// Health reports process liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// ProviderHealth exposes the provider health registry snapshot.
// GET /health/providers
func (h *Handler) ProviderHealth(c echo.Context) error {
	if h.health == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"providers": []interface{}{}})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"providers": h.health.Snapshot()})
}

// Chat is the synchronous request/response variant.
// POST /chat
func (h *Handler) Chat(c echo.Context) error {
	var req pipeline.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}

	resp, err := h.orch.Respond(c.Request().Context(), req)
	if err != nil {
		h.logger.Warn("gateway.chat_failed", "error", err.Error())
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// ListSessions returns all active sessions.
// GET /sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.store.ActiveSessions()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetSession returns one session's full state.
// GET /sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.store.Get(c.Param("session_id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sess)
}

type interventionRequest struct {
	Operator string `json:"operator"`
	Mode     string `json:"mode"`
}

// StartIntervention starts or retargets a human intervention on a session.
// POST /sessions/:session_id/intervene
func (h *Handler) StartIntervention(c echo.Context) error {
	if h.broker == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "intervention is not enabled"})
	}
	var req interventionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}
	mode := intervene.Mode(req.Mode)
	switch mode {
	case intervene.ModeAIOnly, intervene.ModeWhisper, intervene.ModeTakeover, intervene.ModeMonitoring:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown mode"})
	}
	rec := h.broker.Start(c.Param("session_id"), req.Operator, mode)
	return c.JSON(http.StatusOK, rec)
}

// StopIntervention releases a session back to AI-only operation.
// DELETE /sessions/:session_id/intervene
func (h *Handler) StopIntervention(c echo.Context) error {
	if h.broker == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "intervention is not enabled"})
	}
	h.broker.Stop(c.Param("session_id"))
	return c.NoContent(http.StatusNoContent)
}

type respondRequest struct {
	Text string `json:"text"`
}

// OperatorRespond submits operator text for the waiting turn step.
// POST /sessions/:session_id/respond
func (h *Handler) OperatorRespond(c echo.Context) error {
	if h.broker == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "intervention is not enabled"})
	}
	var req respondRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}
	h.broker.Respond(c.Param("session_id"), req.Text)
	return c.NoContent(http.StatusAccepted)
}

// PendingActions lists tool calls waiting for operator approval.
// GET /sessions/:session_id/pending
func (h *Handler) PendingActions(c echo.Context) error {
	if h.broker == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "intervention is not enabled"})
	}
	actions := h.broker.PendingActions(c.Param("session_id"))
	return c.JSON(http.StatusOK, map[string]interface{}{"pending": actions})
}
