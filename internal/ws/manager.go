package ws

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/termstack/broker/internal/metrics"
)

const (
	// DefaultRateLimitWindow is the fixed rate-limit window.
	DefaultRateLimitWindow = 60 * time.Second

	// DefaultRateLimitPerWindow is the per-connection message ceiling.
	DefaultRateLimitPerWindow = 300

	// DefaultPingInterval is the liveness sweep period.
	DefaultPingInterval = 30 * time.Second
)

// Config holds configuration for the connection manager.
type Config struct {
	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	PingInterval       time.Duration
}

// Manager tracks every live connection and the reverse indexes used for
// fan-out: by user, by attached terminal, and by team/server/workspace
// topic. Delivery is fire-and-forget, at most once.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	conns       map[*Conn]struct{}
	byUser      map[string]map[*Conn]struct{}
	byTerminal  map[string]map[*Conn]struct{}
	byTeam      map[string]map[*Conn]struct{}
	byServer    map[string]map[*Conn]struct{}
	byWorkspace map[string]map[*Conn]struct{}
}

// NewManager creates a connection manager.
func NewManager(cfg Config) *Manager {
	if cfg.RateLimitPerWindow <= 0 {
		cfg.RateLimitPerWindow = DefaultRateLimitPerWindow
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	return &Manager{
		cfg:         cfg,
		conns:       make(map[*Conn]struct{}),
		byUser:      make(map[string]map[*Conn]struct{}),
		byTerminal:  make(map[string]map[*Conn]struct{}),
		byTeam:      make(map[string]map[*Conn]struct{}),
		byServer:    make(map[string]map[*Conn]struct{}),
		byWorkspace: make(map[string]map[*Conn]struct{}),
	}
}

// Add registers a connection.
func (m *Manager) Add(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[c] = struct{}{}
	addIndex(m.byUser, c.userID, c)
	metrics.ConnectionsActive.Set(float64(len(m.conns)))
}

// Remove unregisters a connection from every index it participates in.
// Idempotent and safe on a partially-initialized connection.
func (m *Manager) Remove(c *Conn) {
	if c == nil {
		return
	}

	m.mu.Lock()
	delete(m.conns, c)
	dropIndex(m.byUser, c.userID, c)
	metrics.ConnectionsActive.Set(float64(len(m.conns)))

	c.mu.Lock()
	if c.terminalID != "" {
		dropIndex(m.byTerminal, c.terminalID, c)
		c.terminalID = ""
		c.permission = ""
		c.owner = false
	}
	for id := range c.teams {
		dropIndex(m.byTeam, id, c)
	}
	for id := range c.servers {
		dropIndex(m.byServer, id, c)
	}
	for id := range c.workspaces {
		dropIndex(m.byWorkspace, id, c)
	}
	c.teams = make(map[string]struct{})
	c.servers = make(map[string]struct{})
	c.workspaces = make(map[string]struct{})
	c.mu.Unlock()
	m.mu.Unlock()

	c.Close()
}

// AssociateTerminal attaches the connection to a terminal, detaching it
// from any previous one first. Attachment is exclusive.
func (m *Manager) AssociateTerminal(c *Conn, terminalID, permission string, owner bool) {
	m.mu.Lock()
	c.mu.Lock()
	if c.terminalID != "" {
		dropIndex(m.byTerminal, c.terminalID, c)
	}
	c.terminalID = terminalID
	c.permission = permission
	c.owner = owner
	c.mu.Unlock()
	addIndex(m.byTerminal, terminalID, c)
	m.mu.Unlock()
}

// DetachTerminal removes the connection's terminal attachment, if any.
func (m *Manager) DetachTerminal(c *Conn) {
	m.mu.Lock()
	c.mu.Lock()
	if c.terminalID != "" {
		dropIndex(m.byTerminal, c.terminalID, c)
		c.terminalID = ""
		c.permission = ""
		c.owner = false
	}
	c.mu.Unlock()
	m.mu.Unlock()
}

// Subscribe adds the connection to a topic's reverse index.
func (m *Manager) Subscribe(c *Conn, kind TopicKind, id string) {
	m.mu.Lock()
	c.mu.Lock()
	switch kind {
	case TopicTeam:
		c.teams[id] = struct{}{}
		c.mu.Unlock()
		addIndex(m.byTeam, id, c)
	case TopicServer:
		c.servers[id] = struct{}{}
		c.mu.Unlock()
		addIndex(m.byServer, id, c)
	case TopicWorkspace:
		c.workspaces[id] = struct{}{}
		c.mu.Unlock()
		addIndex(m.byWorkspace, id, c)
	default:
		c.mu.Unlock()
	}
	m.mu.Unlock()
}

// Unsubscribe removes the connection from a topic's reverse index.
func (m *Manager) Unsubscribe(c *Conn, kind TopicKind, id string) {
	m.mu.Lock()
	c.mu.Lock()
	switch kind {
	case TopicTeam:
		delete(c.teams, id)
		c.mu.Unlock()
		dropIndex(m.byTeam, id, c)
	case TopicServer:
		delete(c.servers, id)
		c.mu.Unlock()
		dropIndex(m.byServer, id, c)
	case TopicWorkspace:
		delete(c.workspaces, id)
		c.mu.Unlock()
		dropIndex(m.byWorkspace, id, c)
	default:
		c.mu.Unlock()
	}
	m.mu.Unlock()
}

// BroadcastToTerminal sends a pre-serialized payload to every open
// connection attached to the terminal.
func (m *Manager) BroadcastToTerminal(terminalID string, payload []byte) {
	m.broadcast(m.byTerminal, terminalID, payload)
}

// BroadcastToTeam sends a pre-serialized payload to a team topic.
func (m *Manager) BroadcastToTeam(teamID string, payload []byte) {
	m.broadcast(m.byTeam, teamID, payload)
}

// BroadcastToWorkspace sends a pre-serialized payload to a workspace topic.
func (m *Manager) BroadcastToWorkspace(workspaceID string, payload []byte) {
	m.broadcast(m.byWorkspace, workspaceID, payload)
}

// BroadcastMessageToTerminal marshals the frame once and fans it out.
func (m *Manager) BroadcastMessageToTerminal(terminalID string, msg *Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("ws: encode %s frame: %v", msg.Type, err)
		return
	}
	m.BroadcastToTerminal(terminalID, data)
}

func (m *Manager) broadcast(index map[string]map[*Conn]struct{}, id string, payload []byte) {
	m.mu.RLock()
	set := index[id]
	targets := make([]*Conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		c.Send(payload)
	}
}

// CheckRateLimit counts one message against the connection's fixed window
// and reports whether it is still under the ceiling. The window resets
// lazily on the first message after it elapses. The caller decides how to
// react to a false return.
func (m *Manager) CheckRateLimit(c *Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= m.cfg.RateLimitWindow {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount <= m.cfg.RateLimitPerWindow
}

// Run drives the liveness sweep until the context is cancelled. Each tick,
// a connection that never answered the previous tick's ping is terminated
// and purged; everyone else gets a fresh ping frame.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := (&Message{Type: MessageTypePing}).Encode()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ping)
		}
	}
}

func (m *Manager) sweep(ping []byte) {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.mu.Lock()
		alive := c.alive
		c.alive = false
		c.mu.Unlock()

		if !alive {
			log.Printf("ws: terminating unresponsive connection %s (user %s)", c.visitorID, c.userID)
			m.Remove(c)
			if c.socket != nil {
				c.socket.Close()
			}
			continue
		}
		c.Send(ping)
	}
}

// ConnCount returns the number of registered connections.
func (m *Manager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// GetTerminalViewers returns the terminal's viewers de-duplicated by user.
func (m *Manager) GetTerminalViewers(terminalID string) []Viewer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var viewers []Viewer
	for c := range m.byTerminal[terminalID] {
		if _, dup := seen[c.userID]; dup {
			continue
		}
		seen[c.userID] = struct{}{}
		c.mu.Lock()
		viewers = append(viewers, Viewer{
			UserID:     c.userID,
			Permission: c.permission,
			Owner:      c.owner,
		})
		c.mu.Unlock()
	}
	sort.Slice(viewers, func(i, j int) bool { return viewers[i].UserID < viewers[j].UserID })
	return viewers
}

// GetTeamOnlineMembers returns the distinct user ids subscribed to a team.
func (m *Manager) GetTeamOnlineMembers(teamID string) []string {
	return m.onlineUsers(m.byTeam, teamID)
}

// GetWorkspaceOnlineUsers returns the distinct user ids subscribed to a workspace.
func (m *Manager) GetWorkspaceOnlineUsers(workspaceID string) []string {
	return m.onlineUsers(m.byWorkspace, workspaceID)
}

func (m *Manager) onlineUsers(index map[string]map[*Conn]struct{}, id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for c := range index[id] {
		if _, dup := seen[c.userID]; dup {
			continue
		}
		seen[c.userID] = struct{}{}
		users = append(users, c.userID)
	}
	sort.Strings(users)
	return users
}

// Close terminates every connection.
func (m *Manager) Close() {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.Remove(c)
		if c.socket != nil {
			c.socket.Close()
		}
	}
}

// terminalConnCount reports the index size; used by tests.
func (m *Manager) terminalConnCount(terminalID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTerminal[terminalID])
}

func addIndex(index map[string]map[*Conn]struct{}, id string, c *Conn) {
	set, ok := index[id]
	if !ok {
		set = make(map[*Conn]struct{})
		index[id] = set
	}
	set[c] = struct{}{}
}

func dropIndex(index map[string]map[*Conn]struct{}, id string, c *Conn) {
	set, ok := index[id]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, id)
	}
}
