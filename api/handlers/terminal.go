package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/termstack/broker/internal/metrics"
	"github.com/termstack/broker/internal/model"
	"github.com/termstack/broker/internal/pty"
)

// TerminalHandler handles HTTP requests for terminal lifecycle.
type TerminalHandler struct {
	terminals *pty.Manager
}

// NewTerminalHandler creates a new TerminalHandler.
func NewTerminalHandler(terminals *pty.Manager) *TerminalHandler {
	return &TerminalHandler{terminals: terminals}
}

// ResizeRequest represents the request body for resizing a terminal.
type ResizeRequest struct {
	Cols uint16 `json:"cols" binding:"required"`
	Rows uint16 `json:"rows" binding:"required"`
}

// ExecuteRequest represents the request body for a one-shot command.
type ExecuteRequest struct {
	Command   string `json:"command" binding:"required"`
	TimeoutMs int    `json:"timeoutMs"`
}

// ExecuteResponse represents the outcome of a one-shot command.
type ExecuteResponse struct {
	Output   string `json:"output"`
	TimedOut bool   `json:"timedOut"`
}

// Create handles POST /api/terminals - spawns a new terminal.
func (h *TerminalHandler) Create(c *gin.Context) {
	var req model.CreateTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	req.UserID = getUserID(c)

	inst, err := h.terminals.Create(req.TerminalID, req.UserID, pty.CreateOptions{
		Cols:    req.Cols,
		Rows:    req.Rows,
		Workdir: req.Workdir,
		Shell:   req.Shell,
		Record:  req.Record,
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrTerminalIDRequired):
			metrics.TerminalCreatesTotal.WithLabelValues("invalid").Inc()
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrTerminalExists):
			metrics.TerminalCreatesTotal.WithLabelValues("duplicate").Inc()
			sendError(c, http.StatusConflict, "TERMINAL_EXISTS", err.Error())
		case errors.Is(err, model.ErrTerminalLimit):
			metrics.TerminalCreatesTotal.WithLabelValues("limit").Inc()
			sendError(c, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error())
		default:
			metrics.TerminalCreatesTotal.WithLabelValues("error").Inc()
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create terminal: "+err.Error())
		}
		return
	}

	metrics.TerminalCreatesTotal.WithLabelValues("created").Inc()
	c.JSON(http.StatusCreated, inst.Snapshot())
}

// List handles GET /api/terminals - lists the user's live terminals.
func (h *TerminalHandler) List(c *gin.Context) {
	userID := getUserID(c)

	instances := h.terminals.GetByUser(userID)
	response := make([]*model.Terminal, len(instances))
	for i, inst := range instances {
		response[i] = inst.Snapshot()
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/terminals/:id.
func (h *TerminalHandler) Get(c *gin.Context) {
	inst, ok := h.findOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, inst.Snapshot())
}

// Resize handles POST /api/terminals/:id/resize.
func (h *TerminalHandler) Resize(c *gin.Context) {
	inst, ok := h.findOwned(c)
	if !ok {
		return
	}

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.terminals.Resize(inst.ID, req.Cols, req.Rows); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resize terminal: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, inst.Snapshot())
}

// Kill handles DELETE /api/terminals/:id - terminates the terminal process.
func (h *TerminalHandler) Kill(c *gin.Context) {
	inst, ok := h.findOwned(c)
	if !ok {
		return
	}

	if err := h.terminals.Kill(inst.ID); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to kill terminal: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// GetBuffer handles GET /api/terminals/:id/buffer - returns the replay buffer.
func (h *TerminalHandler) GetBuffer(c *gin.Context) {
	inst, ok := h.findOwned(c)
	if !ok {
		return
	}

	data, err := h.terminals.BufferedOutput(inst.ID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read buffer: "+err.Error())
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Execute handles POST /api/terminals/:id/execute - runs a one-shot command
// and returns the captured output.
func (h *TerminalHandler) Execute(c *gin.Context) {
	inst, ok := h.findOwned(c)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	opts := pty.ExecuteOptions{}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	result, err := h.terminals.Execute(inst.ID, req.Command, opts)
	if err != nil {
		if errors.Is(err, model.ErrTerminalNotFound) {
			sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to execute command: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, ExecuteResponse{Output: result.Output, TimedOut: result.TimedOut})
}

// findOwned resolves the :id param to a live instance owned by the caller,
// writing the error response itself when that fails.
func (h *TerminalHandler) findOwned(c *gin.Context) (*pty.Instance, bool) {
	terminalID := c.Param("id")
	if terminalID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Terminal ID is required")
		return nil, false
	}

	inst, ok := h.terminals.Get(terminalID)
	if !ok {
		sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", "Terminal "+terminalID+" not found")
		return nil, false
	}

	if inst.UserID != getUserID(c) {
		sendError(c, http.StatusForbidden, "FORBIDDEN", "Access to terminal denied")
		return nil, false
	}
	return inst, true
}

// RegisterRoutes registers the terminal handler routes on a Gin router group.
func (h *TerminalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	terminals := rg.Group("/terminals")
	{
		terminals.POST("", h.Create)
		terminals.GET("", h.List)
		terminals.GET("/:id", h.Get)
		terminals.DELETE("/:id", h.Kill)
		terminals.POST("/:id/resize", h.Resize)
		terminals.GET("/:id/buffer", h.GetBuffer)
		terminals.POST("/:id/execute", h.Execute)
	}
}
