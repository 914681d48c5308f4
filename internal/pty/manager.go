// Package pty owns terminal PTY process lifecycle: spawning shells, reading
// output into replay buffers, inferring working/idle state from that output
// and publishing a typed event stream per terminal.
package pty

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	ptylib "github.com/creack/pty"

	"github.com/termstack/broker/internal/buffer"
	"github.com/termstack/broker/internal/metrics"
	"github.com/termstack/broker/internal/model"
	"github.com/termstack/broker/internal/recorder"
)

const (
	// DefaultBufferMax is the default replay buffer size per terminal (256KB).
	DefaultBufferMax = 256 * 1024

	// DefaultReadBufferSize is the chunk size for reading PTY output.
	DefaultReadBufferSize = 4096

	// DefaultMaxInstances caps concurrently live terminals.
	DefaultMaxInstances = 50

	// promptDebounce is the minimum time after the last input before a
	// prompt match may flip a working terminal back to idle. Prompts
	// echoed immediately after a keystroke are not completion signals.
	promptDebounce = 100 * time.Millisecond
)

// Instance is one live terminal: a PTY process plus its replay buffer and
// inferred state. At most one instance exists per terminal id.
type Instance struct {
	ID     string
	UserID string
	Buffer *buffer.OutputBuffer

	cmd  *exec.Cmd
	ptmx *os.File
	rec  *recorder.CastRecorder

	mu        sync.RWMutex
	status    model.TerminalStatus
	cols      uint16
	rows      uint16
	cwd       string
	working   bool
	lastInput time.Time
	closed    bool
	createdAt time.Time
}

// Snapshot returns the serializable view of the instance.
func (i *Instance) Snapshot() *model.Terminal {
	i.mu.RLock()
	defer i.mu.RUnlock()

	t := &model.Terminal{
		ID:        i.ID,
		UserID:    i.UserID,
		Status:    i.status,
		Cols:      i.cols,
		Rows:      i.rows,
		Cwd:       i.cwd,
		IsWorking: i.working,
		CreatedAt: i.createdAt,
	}
	if i.cmd != nil && i.cmd.Process != nil {
		pid := i.cmd.Process.Pid
		t.PID = &pid
	}
	return t
}

// Status returns the instance's current lifecycle status.
func (i *Instance) Status() model.TerminalStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// IsWorking reports whether the terminal is believed to be running a command.
func (i *Instance) IsWorking() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.working
}

// Cwd returns the last OSC7-reported working directory.
func (i *Instance) Cwd() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cwd
}

// Config holds configuration for the PTY manager.
type Config struct {
	// MaxInstances caps concurrently live terminals. Zero means the default.
	MaxInstances int

	// BufferMax is the per-terminal replay buffer size. Zero means the default.
	BufferMax int

	// CastDir, when set, is where per-terminal cast recordings are written.
	CastDir string

	// Shell overrides the spawned shell; empty falls back to $SHELL then /bin/bash.
	Shell string
}

// Manager owns all live terminal instances.
type Manager struct {
	cfg    Config
	broker *eventBroker

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewManager creates a PTY manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = DefaultMaxInstances
	}
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = DefaultBufferMax
	}
	return &Manager{
		cfg:       cfg,
		broker:    newEventBroker(),
		instances: make(map[string]*Instance),
	}
}

// Subscribe registers a listener for terminal events. An empty terminalID
// subscribes to every terminal. The caller must Close the subscription.
func (m *Manager) Subscribe(terminalID string) *Subscription {
	return m.broker.subscribe(terminalID)
}

// CreateOptions contains options for creating a terminal.
type CreateOptions struct {
	Cols    uint16
	Rows    uint16
	Workdir string
	Shell   string
	Record  bool
}

// Create spawns a shell on a new PTY for the given terminal id. It fails if
// an instance with that id is already live or the instance ceiling is hit.
func (m *Manager) Create(terminalID, userID string, opts CreateOptions) (*Instance, error) {
	if terminalID == "" {
		return nil, model.ErrTerminalIDRequired
	}

	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	shell := opts.Shell
	if shell == "" {
		shell = m.cfg.Shell
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	workdir := opts.Workdir
	if workdir == "" {
		workdir = home
	}

	m.mu.Lock()
	if _, exists := m.instances[terminalID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", model.ErrTerminalExists, terminalID)
	}
	if len(m.instances) >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", model.ErrTerminalLimit, m.cfg.MaxInstances)
	}
	// Reserve the id before the spawn so a concurrent Create with the
	// same id fails instead of racing the process start.
	inst := &Instance{
		ID:        terminalID,
		UserID:    userID,
		Buffer:    buffer.NewOutputBuffer(m.cfg.BufferMax),
		status:    model.TerminalStatusStarting,
		cols:      opts.Cols,
		rows:      opts.Rows,
		cwd:       workdir,
		createdAt: time.Now(),
	}
	m.instances[terminalID] = inst
	metrics.TerminalsActive.Set(float64(len(m.instances)))
	m.mu.Unlock()

	cmd := exec.Command(shell)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"HOME="+home,
		"SHELL="+shell,
	)

	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{
		Cols: opts.Cols,
		Rows: opts.Rows,
	})
	if err != nil {
		m.remove(terminalID)
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	var rec *recorder.CastRecorder
	if opts.Record && m.cfg.CastDir != "" {
		castPath := filepath.Join(m.cfg.CastDir, terminalID+".cast")
		rec, err = recorder.New(castPath)
		if err != nil {
			log.Printf("pty: cast recording disabled for %s: %v", terminalID, err)
		} else if err := rec.WriteHeader(int(opts.Cols), int(opts.Rows)); err != nil {
			rec.Close()
			rec = nil
		}
	}

	inst.mu.Lock()
	inst.cmd = cmd
	inst.ptmx = ptmx
	inst.rec = rec
	inst.status = model.TerminalStatusRunning
	inst.mu.Unlock()

	go m.readLoop(inst)
	go m.waitLoop(inst)

	m.broker.publish(Event{Type: EventCreated, TerminalID: terminalID})

	return inst, nil
}

// Get returns the live instance for the terminal id.
func (m *Manager) Get(terminalID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[terminalID]
	return inst, ok
}

// Has reports whether a live instance exists for the terminal id.
func (m *Manager) Has(terminalID string) bool {
	_, ok := m.Get(terminalID)
	return ok
}

// GetByUser returns every live instance owned by the user.
func (m *Manager) GetByUser(userID string) []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Instance
	for _, inst := range m.instances {
		if inst.UserID == userID {
			out = append(out, inst)
		}
	}
	return out
}

// List returns all live instances.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// BufferedOutput returns the replay buffer contents for the terminal.
func (m *Manager) BufferedOutput(terminalID string) ([]byte, error) {
	inst, ok := m.Get(terminalID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrTerminalNotFound, terminalID)
	}
	return inst.Buffer.Bytes(), nil
}

// Write forwards raw bytes to the terminal's PTY. A line terminator in the
// data marks the start of a command: lastInputTime is updated and the
// working flag flips on. Note the PTY is a single byte stream with no
// arbitration between a human typing and the queue service writing.
func (m *Manager) Write(terminalID string, data []byte) error {
	inst, ok := m.Get(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTerminalNotFound, terminalID)
	}

	inst.mu.Lock()
	if inst.closed {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrTerminalNotFound, terminalID)
	}
	ptmx := inst.ptmx
	rec := inst.rec
	var flippedWorking bool
	if containsLineEnd(data) {
		inst.lastInput = time.Now()
		if !inst.working {
			inst.working = true
			flippedWorking = true
		}
	}
	inst.mu.Unlock()

	if _, err := ptmx.Write(data); err != nil {
		return fmt.Errorf("failed to write to pty: %w", err)
	}
	if rec != nil {
		rec.WriteInput(data)
	}
	if flippedWorking {
		m.broker.publish(Event{Type: EventWorking, TerminalID: terminalID, Working: true})
	}
	return nil
}

// Resize changes the PTY window size.
func (m *Manager) Resize(terminalID string, cols, rows uint16) error {
	inst, ok := m.Get(terminalID)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrTerminalNotFound, terminalID)
	}

	inst.mu.Lock()
	if inst.closed {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrTerminalNotFound, terminalID)
	}
	inst.cols = cols
	inst.rows = rows
	ptmx := inst.ptmx
	inst.mu.Unlock()

	if err := ptylib.Setsize(ptmx, &ptylib.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	return nil
}

// Kill terminates the terminal's process. It is idempotent: killing an
// already-dead terminal is not an error.
func (m *Manager) Kill(terminalID string) error {
	inst, ok := m.Get(terminalID)
	if !ok {
		return nil
	}

	inst.mu.Lock()
	if inst.closed {
		inst.mu.Unlock()
		return nil
	}
	inst.closed = true
	cmd := inst.cmd
	ptmx := inst.ptmx
	rec := inst.rec
	inst.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		// "process already finished" and friends are expected here.
		if err := cmd.Process.Kill(); err != nil {
			log.Printf("pty: kill %s: %v", terminalID, err)
		}
	}
	if rec != nil {
		rec.Close()
	}

	m.broker.publish(Event{Type: EventKilled, TerminalID: terminalID})
	return nil
}

// KillByUser terminates every terminal owned by the user and returns how
// many were killed.
func (m *Manager) KillByUser(userID string) int {
	instances := m.GetByUser(userID)
	for _, inst := range instances {
		m.Kill(inst.ID)
	}
	return len(instances)
}

// Close kills every live terminal.
func (m *Manager) Close() {
	for _, inst := range m.List() {
		m.Kill(inst.ID)
	}
}

func (m *Manager) remove(terminalID string) {
	m.mu.Lock()
	delete(m.instances, terminalID)
	metrics.TerminalsActive.Set(float64(len(m.instances)))
	m.mu.Unlock()
}

// readLoop reads PTY output and distributes it: replay buffer, cast
// recorder, event stream, and the cwd/prompt scanners.
func (m *Manager) readLoop(inst *Instance) {
	buf := make([]byte, DefaultReadBufferSize)

	for {
		n, err := inst.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			inst.Buffer.Append(chunk)

			inst.mu.RLock()
			rec := inst.rec
			inst.mu.RUnlock()
			if rec != nil {
				rec.WriteOutput(chunk)
			}

			m.broker.publish(Event{Type: EventData, TerminalID: inst.ID, Data: chunk})
			m.scanChunk(inst, chunk)
		}
		if err != nil {
			return
		}
	}
}

// scanChunk applies the cwd and prompt heuristics to one output chunk.
func (m *Manager) scanChunk(inst *Instance, chunk []byte) {
	if cwd := ParseCwd(chunk); cwd != "" {
		inst.mu.Lock()
		changed := cwd != inst.cwd
		if changed {
			inst.cwd = cwd
		}
		inst.mu.Unlock()
		if changed {
			m.broker.publish(Event{Type: EventCwd, TerminalID: inst.ID, Cwd: cwd})
		}
	}

	if !MatchesPrompt(chunk) {
		return
	}

	inst.mu.Lock()
	flip := inst.working && time.Since(inst.lastInput) >= promptDebounce
	if flip {
		inst.working = false
	}
	inst.mu.Unlock()

	if flip {
		m.broker.publish(Event{Type: EventWorking, TerminalID: inst.ID, Working: false})
	}
}

// waitLoop waits for the shell to exit, settles the final status and
// removes the instance.
func (m *Manager) waitLoop(inst *Instance) {
	err := inst.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	status := model.TerminalStatusStopped
	if exitCode != 0 {
		status = model.TerminalStatusCrashed
	}

	inst.mu.Lock()
	inst.status = status
	inst.working = false
	alreadyClosed := inst.closed
	inst.closed = true
	ptmx := inst.ptmx
	rec := inst.rec
	inst.mu.Unlock()

	if !alreadyClosed {
		if ptmx != nil {
			ptmx.Close()
		}
		if rec != nil {
			rec.Close()
		}
	}

	m.remove(inst.ID)
	m.broker.publish(Event{Type: EventExit, TerminalID: inst.ID, ExitCode: exitCode})
}

func containsLineEnd(data []byte) bool {
	for _, b := range data {
		if b == '\r' || b == '\n' {
			return true
		}
	}
	return false
}
