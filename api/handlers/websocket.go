package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termstack/broker/internal/pty"
	"github.com/termstack/broker/internal/ws"
)

// WebSocketHandler handles WebSocket attach requests for terminals.
type WebSocketHandler struct {
	terminals *pty.Manager
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(terminals *pty.Manager, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		terminals: terminals,
		wsHandler: wsHandler,
	}
}

// Attach handles WS /api/terminals/:id/attach - attaches a viewer to a
// terminal's output stream.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	terminalID := c.Param("id")
	if terminalID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Terminal ID is required")
		return
	}

	if !h.terminals.Has(terminalID) {
		sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", "Terminal "+terminalID+" not found")
		return
	}

	// Errors past this point are handled inside the upgrade.
	_ = h.wsHandler.HandleAttach(c.Writer, c.Request, terminalID, getUserID(c))
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/terminals/:id/attach", h.Attach)
}
