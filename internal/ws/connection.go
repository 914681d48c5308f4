package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendBuffer is the per-connection outbound queue depth. A viewer that
// cannot drain it is closed rather than allowed to stall broadcasts.
const sendBuffer = 256

// Conn is one live viewer connection and its subscription state. All index
// membership (user, terminal, topics) is owned by the Manager; the fields
// here are the connection's own view of it.
type Conn struct {
	socket    *websocket.Conn
	visitorID string
	userID    string

	send chan []byte

	mu     sync.Mutex
	closed bool
	alive  bool

	// Exclusive terminal attachment.
	terminalID string
	permission string
	owner      bool

	// Topic subscriptions, many-to-many.
	teams      map[string]struct{}
	servers    map[string]struct{}
	workspaces map[string]struct{}

	// Fixed-window rate limit state.
	windowStart time.Time
	windowCount int
}

// NewConn wraps an accepted websocket for the given user. The visitor id is
// ephemeral and unique per connection.
func NewConn(socket *websocket.Conn, userID string) *Conn {
	return &Conn{
		socket:     socket,
		visitorID:  uuid.New().String(),
		userID:     userID,
		send:       make(chan []byte, sendBuffer),
		alive:      true,
		teams:      make(map[string]struct{}),
		servers:    make(map[string]struct{}),
		workspaces: make(map[string]struct{}),
	}
}

// VisitorID returns the connection's ephemeral id.
func (c *Conn) VisitorID() string { return c.visitorID }

// UserID returns the authenticated user the connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// TerminalID returns the currently attached terminal, or "".
func (c *Conn) TerminalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalID
}

// Socket returns the underlying websocket connection.
func (c *Conn) Socket() *websocket.Conn { return c.socket }

// Send queues a frame for delivery. A full queue closes the connection.
func (c *Conn) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// MarkAlive records that the peer answered the liveness ping.
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// Close closes the outbound queue. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendChan exposes the outbound queue for the write pump.
func (c *Conn) SendChan() <-chan []byte { return c.send }
