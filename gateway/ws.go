package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/hupe1980/voicemesh/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Live is the bidirectional caller websocket. Inbound frames are JSON
// input events, outbound frames are pipeline events.
// GET /ws/:agent_id
func (h *Handler) Live(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	metadata := map[string]string{}
	if caller := c.QueryParam("caller_id"); caller != "" {
		metadata["caller_id"] = caller
	}

	handle, err := h.orch.StartSession(c.Request().Context(), c.Param("agent_id"), metadata)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
		return nil
	}
	defer handle.Close()

	// Reader goroutine feeds input events into the session loop. A read
	// failure means the peer is gone, so it ends the session.
	go func() {
		for {
			var in core.InputEvent
			if err := conn.ReadJSON(&in); err != nil {
				handle.Submit(core.Disconnect())
				return
			}
			handle.Submit(in)
		}
	}()

	for {
		select {
		case ev, ok := <-handle.Events():
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("gateway.ws_write_failed", "session_id", handle.SessionID, "error", err.Error())
				return nil
			}
		case <-handle.Done():
			for ev := range handle.Events() {
				_ = conn.WriteJSON(ev)
			}
			return nil
		}
	}
}

// Monitor streams every session's events to an observer.
// GET /ws/monitor
func (h *Handler) Monitor(c echo.Context) error {
	return h.streamBus(c, "")
}

// MonitorSession streams one session's events to an observer.
// GET /ws/monitor/:session_id
func (h *Handler) MonitorSession(c echo.Context) error {
	return h.streamBus(c, c.Param("session_id"))
}

func (h *Handler) streamBus(c echo.Context, sessionID string) error {
	if h.bus == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "monitoring is not enabled"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var (
		events <-chan core.Event
		cancel func()
	)
	if sessionID == "" {
		events, cancel = h.bus.SubscribeAll()
	} else {
		events, cancel = h.bus.Subscribe(sessionID)
	}
	defer cancel()

	// Drain reads so close frames are processed; observers never send data.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
