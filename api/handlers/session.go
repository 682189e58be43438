// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/model"
	"github.com/console-host-control/engine/internal/session"
	"github.com/console-host-control/engine/internal/ws"
)

// SessionHandler handles HTTP requests for session supervision.
type SessionHandler struct {
	registry *session.Registry
	wsh      *ws.Handler
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry, wsh *ws.Handler, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{registry: registry, wsh: wsh, log: log}
}

// CreateSessionRequest is the request body for creating a session.
// Either a pre-built command line or individual argv tokens (which the
// server quotes) must be given.
type CreateSessionRequest struct {
	Command      string            `json:"command"`
	Args         []string          `json:"args"`
	Workdir      string            `json:"workdir"`
	Env          map[string]string `json:"env"`
	Elevated     bool              `json:"elevated"`
	ExitBehavior string            `json:"exitBehavior"`
	Greeting     string            `json:"greeting"`
	CaptureAnsi  bool              `json:"captureAnsi"`
}

// MacroRequest is the request body for executing a raw macro.
type MacroRequest struct {
	Macro string `json:"macro" binding:"required"`
}

// SignalRequest is the request body for delivering a soft signal.
type SignalRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// TextRequest is the request body for input/output text writes.
type TextRequest struct {
	Text string `json:"text"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func (h *SessionHandler) lookup(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	sess, err := h.registry.Get(id)
	if err != nil {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+id+" not found")
		return nil, false
	}
	return sess, true
}

// Create handles POST /api/sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	info := &model.StartInfo{
		CommandLine:  req.Command,
		StartupDir:   req.Workdir,
		Elevated:     req.Elevated,
		GreetingText: req.Greeting,
		CaptureAnsi:  req.CaptureAnsi,
	}
	if req.Command == "" && len(req.Args) > 0 {
		if err := info.SetCommandArgs(req.Args...); err != nil {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
	}
	switch req.ExitBehavior {
	case "", "close":
		info.ExitBehavior = model.ExitBehaviorClose
	case "keep":
		info.ExitBehavior = model.ExitBehaviorKeep
	case "keep-message":
		info.ExitBehavior = model.ExitBehaviorKeepMessage
	default:
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown exit behavior "+req.ExitBehavior)
		return
	}
	for name, value := range req.Env {
		info.SetEnv(name, value)
	}

	sess, err := h.registry.Create(info, nil)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrConfiguration):
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrSessionLimit):
			sendError(c, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error())
		case errors.Is(err, model.ErrLaunch):
			sendError(c, http.StatusBadGateway, "LAUNCH_FAILED", err.Error())
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session: "+err.Error())
		}
		return
	}

	h.wsh.Attach(sess)
	h.log.Info().Str("session", sess.ID()).Str("command", req.Command).Msg("session created")

	c.JSON(http.StatusCreated, sess.Snapshot())
}

// List handles GET /api/sessions.
func (h *SessionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// Get handles GET /api/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Delete handles DELETE /api/sessions/:id. The host is closed and the
// session dropped from the registry.
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete session: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// ExecuteMacro handles POST /api/sessions/:id/macro. Host and transport
// failures come back as a result value, not an HTTP error.
func (h *SessionHandler) ExecuteMacro(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req MacroRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	res := sess.ExecuteMacroSync(req.Macro)
	c.JSON(http.StatusOK, res)
}

// Signal handles POST /api/sessions/:id/signal.
func (h *SessionHandler) Signal(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	switch macro.SignalKind(req.Kind) {
	case macro.SignalCtrlC:
		sess.SendControlC()
	case macro.SignalCtrlBreak:
		sess.SendControlBreak()
	default:
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown signal kind "+req.Kind)
		return
	}
	c.Status(http.StatusAccepted)
}

// WriteInput handles POST /api/sessions/:id/input.
func (h *SessionHandler) WriteInput(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	sess.WriteInputText(req.Text)
	c.Status(http.StatusAccepted)
}

// WriteOutput handles POST /api/sessions/:id/output.
func (h *SessionHandler) WriteOutput(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	sess.WriteOutputText(req.Text)
	c.Status(http.StatusAccepted)
}

// KillPayload handles POST /api/sessions/:id/kill-payload. Success when
// the payload is already gone.
func (h *SessionHandler) KillPayload(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := sess.KillPayload(c.Request.Context()); err != nil {
		sendError(c, http.StatusBadGateway, "KILL_FAILED", err.Error())
		return
	}
	c.Status(http.StatusAccepted)
}

// CloseHost handles POST /api/sessions/:id/close. Asks the host to shut
// down without waiting for it.
func (h *SessionHandler) CloseHost(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	sess.CloseHost()
	c.Status(http.StatusAccepted)
}

// GetJournal handles GET /api/sessions/:id/journal. The journal only
// exists while the session is alive.
func (h *SessionHandler) GetJournal(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	events, err := sess.Journal().Events()
	if err != nil {
		sendError(c, http.StatusGone, "JOURNAL_GONE", "Journal no longer available: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// RegisterRoutes registers the session routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.POST("/:id/macro", h.ExecuteMacro)
		sessions.POST("/:id/signal", h.Signal)
		sessions.POST("/:id/input", h.WriteInput)
		sessions.POST("/:id/output", h.WriteOutput)
		sessions.POST("/:id/kill-payload", h.KillPayload)
		sessions.POST("/:id/close", h.CloseHost)
		sessions.GET("/:id/journal", h.GetJournal)
	}
}
