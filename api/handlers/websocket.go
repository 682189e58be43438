package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/console-host-control/engine/internal/session"
	"github.com/console-host-control/engine/internal/ws"
)

// WebSocketHandler attaches websocket clients to live sessions.
type WebSocketHandler struct {
	registry *session.Registry
	wsh      *ws.Handler
	log      zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(registry *session.Registry, wsh *ws.Handler, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{registry: registry, wsh: wsh, log: log}
}

// Attach handles GET /api/sessions/:id/attach. Exited sessions are still
// attachable: the client receives the retained history and exit frames.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.registry.Get(sessionID); err != nil {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	if err := h.wsh.HandleConnection(c.Writer, c.Request, sessionID); err != nil {
		h.log.Debug().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
	}
}

// RegisterRoutes registers the websocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/sessions/:id/attach", h.Attach)
}
