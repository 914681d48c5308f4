package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termstack/broker/internal/pty"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Maximum frame size allowed from the peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO(origin): restrict once the UI's deploy origin is fixed
		return true
	},
}

// Handler accepts viewer connections, replays buffered history and routes
// client frames to the PTY layer.
type Handler struct {
	conns     *Manager
	terminals *pty.Manager
}

// NewHandler creates a WebSocket handler.
func NewHandler(conns *Manager, terminals *pty.Manager) *Handler {
	return &Handler{conns: conns, terminals: terminals}
}

// Upgrader exposes the upgrader for custom origin checks.
func Upgrader() *websocket.Upgrader {
	return &upgrader
}

// HandleAttach upgrades the request and attaches the viewer to a terminal.
// The viewer immediately receives a history frame with the replay buffer,
// and every current viewer gets a refreshed presence frame.
func (h *Handler) HandleAttach(w http.ResponseWriter, r *http.Request, terminalID, userID string) error {
	inst, ok := h.terminals.Get(terminalID)
	if !ok {
		http.Error(w, "terminal not found", http.StatusNotFound)
		return nil
	}

	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := NewConn(socket, userID)
	h.conns.Add(conn)

	permission := "read"
	owner := inst.UserID == userID
	if owner {
		permission = "write"
	}
	h.conns.AssociateTerminal(conn, terminalID, permission, owner)

	h.sendHistory(conn, terminalID)
	h.broadcastViewers(terminalID)

	go h.writePump(conn)
	go h.readPump(conn)

	return nil
}

// sendHistory replays the terminal's buffered output so a reconnecting
// viewer restores its screen before live frames arrive.
func (h *Handler) sendHistory(conn *Conn, terminalID string) {
	history, err := h.terminals.BufferedOutput(terminalID)
	if err != nil || len(history) == 0 {
		return
	}

	data, err := (&Message{
		Type:       MessageTypeHistory,
		TerminalID: terminalID,
		Data:       string(history),
	}).Encode()
	if err != nil {
		log.Printf("ws: encode history frame: %v", err)
		return
	}
	conn.Send(data)
}

func (h *Handler) broadcastViewers(terminalID string) {
	h.conns.BroadcastMessageToTerminal(terminalID, &Message{
		Type:       MessageTypeViewers,
		TerminalID: terminalID,
		Viewers:    h.conns.GetTerminalViewers(terminalID),
	})
}

// readPump pumps frames from the socket into the broker until the peer
// goes away, then purges the connection everywhere.
func (h *Handler) readPump(conn *Conn) {
	defer func() {
		terminalID := conn.TerminalID()
		h.conns.Remove(conn)
		conn.Socket().Close()
		if terminalID != "" {
			h.broadcastViewers(terminalID)
		}
	}()

	conn.Socket().SetReadLimit(maxMessageSize)

	for {
		_, raw, err := conn.Socket().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("ws: bad frame from %s: %v", conn.VisitorID(), err)
			continue
		}

		if !h.conns.CheckRateLimit(conn) {
			log.Printf("ws: rate limit exceeded by %s (user %s), closing", conn.VisitorID(), conn.UserID())
			return
		}

		h.handleFrame(conn, &msg)
	}
}

func (h *Handler) handleFrame(conn *Conn, msg *Message) {
	switch msg.Type {
	case MessageTypeInput:
		terminalID := conn.TerminalID()
		if terminalID == "" || msg.Data == "" {
			return
		}
		if err := h.terminals.Write(terminalID, []byte(msg.Data)); err != nil {
			h.sendError(conn, err.Error())
		}
	case MessageTypeResize:
		terminalID := conn.TerminalID()
		if terminalID == "" || msg.Cols == 0 || msg.Rows == 0 {
			return
		}
		if err := h.terminals.Resize(terminalID, msg.Cols, msg.Rows); err != nil {
			h.sendError(conn, err.Error())
		}
	case MessageTypeSubscribe:
		if msg.TopicID != "" {
			h.conns.Subscribe(conn, msg.Topic, msg.TopicID)
		}
	case MessageTypeUnsubscribe:
		if msg.TopicID != "" {
			h.conns.Unsubscribe(conn, msg.Topic, msg.TopicID)
		}
	case MessageTypePong:
		conn.MarkAlive()
	case MessageTypePing:
		// Client-initiated ping, answer in kind.
		if data, err := (&Message{Type: MessageTypePong}).Encode(); err == nil {
			conn.Send(data)
		}
	}
}

func (h *Handler) sendError(conn *Conn, errMsg string) {
	data, err := (&Message{Type: MessageTypeError, Error: errMsg}).Encode()
	if err != nil {
		return
	}
	conn.Send(data)
}

// writePump drains the connection's outbound queue onto the socket. One
// frame per websocket message so clients can JSON-parse frame by frame.
func (h *Handler) writePump(conn *Conn) {
	defer conn.Socket().Close()

	for message := range conn.SendChan() {
		conn.Socket().SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.Socket().WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// Queue closed by the manager.
	conn.Socket().SetWriteDeadline(time.Now().Add(writeWait))
	conn.Socket().WriteMessage(websocket.CloseMessage, []byte{})
}
