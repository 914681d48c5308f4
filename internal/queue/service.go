// Package queue runs ordered command lists against live terminals,
// inferring command completion from PTY output.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/termstack/broker/internal/metrics"
	"github.com/termstack/broker/internal/model"
	"github.com/termstack/broker/internal/notify"
	"github.com/termstack/broker/internal/pty"
	"github.com/termstack/broker/internal/ws"
)

const (
	// DefaultSettleDelay is how long trailing output is awaited after a
	// prompt match before the command is considered complete.
	DefaultSettleDelay = 300 * time.Millisecond

	// DefaultIdleTimeout completes the running command after this much
	// output silence, regardless of prompt detection.
	DefaultIdleTimeout = 2 * time.Second
)

// Subscription is the terminal event stream handle the service consumes.
type Subscription interface {
	Events() <-chan pty.Event
	Close()
}

// Terminals is the PTY surface the service needs.
type Terminals interface {
	Has(terminalID string) bool
	Write(terminalID string, data []byte) error
	Subscribe(terminalID string) Subscription
}

// PTYTerminals adapts *pty.Manager to the Terminals interface.
type PTYTerminals struct {
	*pty.Manager
}

func (p PTYTerminals) Subscribe(terminalID string) Subscription {
	return p.Manager.Subscribe(terminalID)
}

// Repository is the persistence surface the service needs.
type Repository interface {
	GetQueue(ctx context.Context, id string) (*model.Queue, error)
	UpdateQueueStatus(ctx context.Context, id string, status model.QueueStatus, failReason string) error
	NextPendingCommand(ctx context.Context, queueID string) (*model.Command, error)
	MarkCommandRunning(ctx context.Context, id string) error
	FinishCommand(ctx context.Context, id string, status model.CommandStatus, output string, exitCode int) error
	SkipPendingCommands(ctx context.Context, queueID string) (int, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
}

// Broadcaster fans queue progress frames out to a terminal's viewers.
type Broadcaster interface {
	BroadcastMessageToTerminal(terminalID string, msg *ws.Message)
}

// Service executes queues sequentially, one active queue per terminal.
type Service struct {
	repo        Repository
	terminals   Terminals
	broadcaster Broadcaster
	notifier    notify.Notifier

	settleDelay time.Duration
	idleTimeout time.Duration

	mu     sync.Mutex
	active map[string]*execution // keyed by terminal id
}

// execution is the in-memory state of one running queue. Everything
// durable lives in the repository; this only carries what the event loop
// needs between chunks.
type execution struct {
	queue      *model.Queue
	terminalID string

	sub    Subscription
	cancel chan string // carries the cancellation annotation
	done   chan struct{}

	// Per-command capture state, owned by the run loop.
	commandID string
	output    strings.Builder
}

// Config carries the service's tunable knobs.
type Config struct {
	SettleDelay time.Duration
	IdleTimeout time.Duration
}

// NewService creates a queue service.
func NewService(repo Repository, terminals Terminals, broadcaster Broadcaster, notifier notify.Notifier, cfg Config) *Service {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Service{
		repo:        repo,
		terminals:   terminals,
		broadcaster: broadcaster,
		notifier:    notifier,
		settleDelay: cfg.SettleDelay,
		idleTimeout: cfg.IdleTimeout,
		active:      make(map[string]*execution),
	}
}

// StartQueue begins executing a PENDING queue against its terminal. It
// rejects terminals with no live PTY and terminals that already have an
// active queue.
func (s *Service) StartQueue(ctx context.Context, queueID string) error {
	q, err := s.repo.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	if q.Status != model.QueueStatusPending {
		return fmt.Errorf("queue %s is %s: %w", queueID, q.Status, model.ErrQueueActive)
	}
	if !s.terminals.Has(q.TerminalID) {
		return fmt.Errorf("queue %s: %w", queueID, model.ErrTerminalNotFound)
	}

	s.mu.Lock()
	if _, exists := s.active[q.TerminalID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("terminal %s: %w", q.TerminalID, model.ErrQueueActive)
	}
	exec := &execution{
		queue:      q,
		terminalID: q.TerminalID,
		sub:        s.terminals.Subscribe(q.TerminalID),
		cancel:     make(chan string, 1),
		done:       make(chan struct{}),
	}
	s.active[q.TerminalID] = exec
	s.mu.Unlock()

	if err := s.repo.UpdateQueueStatus(ctx, queueID, model.QueueStatusRunning, ""); err != nil {
		// run never starts, so its deferred Close would never fire.
		exec.sub.Close()
		s.clearActive(exec)
		return err
	}

	s.broadcaster.BroadcastMessageToTerminal(q.TerminalID, &ws.Message{
		Type:       ws.MessageTypeQueueStarted,
		TerminalID: q.TerminalID,
		QueueID:    q.ID,
		Name:       q.Name,
		TaskID:     q.TaskID,
	})

	go s.run(exec)
	return nil
}

// CancelQueue stops a running queue: the in-flight command is failed with
// a cancellation annotation, the rest are skipped, the queue is marked
// CANCELLED.
func (s *Service) CancelQueue(ctx context.Context, queueID string) error {
	q, err := s.repo.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	exec, ok := s.active[q.TerminalID]
	if ok && exec.queue.ID != queueID {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		// Never started, or already finished. A PENDING queue can still
		// be cancelled directly.
		if q.Status != model.QueueStatusPending {
			return fmt.Errorf("queue %s is %s: %w", queueID, q.Status, model.ErrQueueNotFound)
		}
		if _, err := s.repo.SkipPendingCommands(ctx, queueID); err != nil {
			return err
		}
		if err := s.repo.UpdateQueueStatus(ctx, queueID, model.QueueStatusCancelled, ""); err != nil {
			return err
		}
		s.finishTask(ctx, q, model.TaskStatusCancelled)
		metrics.QueueOutcomesTotal.WithLabelValues("cancelled").Inc()
		s.broadcaster.BroadcastMessageToTerminal(q.TerminalID, &ws.Message{
			Type:       ws.MessageTypeQueueCancelled,
			TerminalID: q.TerminalID,
			QueueID:    q.ID,
			TaskID:     q.TaskID,
		})
		return nil
	}

	select {
	case exec.cancel <- "cancelled by user":
	default:
	}
	return nil
}

// ActiveQueueID returns the id of the terminal's running queue, if any.
func (s *Service) ActiveQueueID(terminalID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.active[terminalID]
	if !ok {
		return "", false
	}
	return exec.queue.ID, true
}

// run is the per-queue event loop. It owns exec's capture state and is the
// only goroutine that touches it after StartQueue returns.
func (s *Service) run(exec *execution) {
	defer close(exec.done)
	defer exec.sub.Close()
	defer s.clearActive(exec)

	ctx := context.Background()

	settle := time.NewTimer(s.settleDelay)
	stopTimer(settle)
	idle := time.NewTimer(s.idleTimeout)
	stopTimer(idle)
	defer stopTimer(settle)
	defer stopTimer(idle)

	if !s.startNextCommand(ctx, exec, settle, idle) {
		return
	}

	for {
		select {
		case ev, ok := <-exec.sub.Events():
			if !ok {
				s.failQueue(ctx, exec, "terminal closed unexpectedly")
				return
			}
			switch ev.Type {
			case pty.EventData:
				s.onChunk(exec, ev.Data, settle, idle)
			case pty.EventExit, pty.EventKilled:
				s.failQueue(ctx, exec, "terminal closed unexpectedly")
				return
			}

		case <-settle.C:
			if !s.finishCommand(ctx, exec, 0, settle, idle) {
				return
			}

		case <-idle.C:
			if !s.finishCommand(ctx, exec, 0, settle, idle) {
				return
			}

		case note := <-exec.cancel:
			s.cancelActive(ctx, exec, note)
			return
		}
	}
}

// onChunk folds one output chunk into the capture state and re-arms the
// completion timers.
func (s *Service) onChunk(exec *execution, chunk []byte, settle, idle *time.Timer) {
	exec.output.Write(chunk)

	if pty.MatchesPrompt(chunk) && !pty.MatchesBusy(chunk) {
		resetTimer(settle, s.settleDelay)
	} else {
		// New non-prompt output invalidates a pending settle.
		stopTimer(settle)
	}
	resetTimer(idle, s.idleTimeout)
}

// startNextCommand advances to the next PENDING command, or finishes the
// queue when none remain. Returns false when the run loop should stop.
func (s *Service) startNextCommand(ctx context.Context, exec *execution, settle, idle *time.Timer) bool {
	cmd, err := s.repo.NextPendingCommand(ctx, exec.queue.ID)
	if errors.Is(err, model.ErrCommandNotFound) {
		s.completeQueue(ctx, exec)
		return false
	}
	if err != nil {
		log.Printf("queue %s: failed to fetch next command: %v", exec.queue.ID, err)
		s.failQueue(ctx, exec, "internal error fetching next command")
		return false
	}

	if err := s.repo.MarkCommandRunning(ctx, cmd.ID); err != nil {
		log.Printf("queue %s: failed to mark command running: %v", exec.queue.ID, err)
		s.failQueue(ctx, exec, "internal error starting command")
		return false
	}

	exec.commandID = cmd.ID
	exec.output.Reset()
	stopTimer(settle)
	resetTimer(idle, s.idleTimeout)

	if err := s.terminals.Write(exec.terminalID, []byte(cmd.Text+"\n")); err != nil {
		s.failQueue(ctx, exec, fmt.Sprintf("failed to write command: %v", err))
		return false
	}

	s.broadcaster.BroadcastMessageToTerminal(exec.terminalID, &ws.Message{
		Type:       ws.MessageTypeCommandStarted,
		TerminalID: exec.terminalID,
		QueueID:    exec.queue.ID,
		CommandID:  cmd.ID,
	})
	return true
}

// finishCommand persists the running command's outcome and advances (or
// fails the queue on a non-zero code). Returns false when the run loop
// should stop.
func (s *Service) finishCommand(ctx context.Context, exec *execution, exitCode int, settle, idle *time.Timer) bool {
	status := model.CommandStatusCompleted
	if exitCode != 0 {
		status = model.CommandStatusFailed
	}
	if err := s.repo.FinishCommand(ctx, exec.commandID, status, exec.output.String(), exitCode); err != nil {
		log.Printf("queue %s: failed to persist command result: %v", exec.queue.ID, err)
	}

	code := exitCode
	s.broadcaster.BroadcastMessageToTerminal(exec.terminalID, &ws.Message{
		Type:       ws.MessageTypeCommandCompleted,
		TerminalID: exec.terminalID,
		QueueID:    exec.queue.ID,
		CommandID:  exec.commandID,
		ExitCode:   &code,
	})

	if exitCode != 0 {
		s.failQueue(ctx, exec, fmt.Sprintf("command exited with code %d", exitCode))
		return false
	}
	return s.startNextCommand(ctx, exec, settle, idle)
}

// completeQueue marks the queue COMPLETED and notifies.
func (s *Service) completeQueue(ctx context.Context, exec *execution) {
	q := exec.queue
	if err := s.repo.UpdateQueueStatus(ctx, q.ID, model.QueueStatusCompleted, ""); err != nil {
		log.Printf("queue %s: failed to mark completed: %v", q.ID, err)
	}
	s.finishTask(ctx, q, model.TaskStatusDone)
	metrics.QueueOutcomesTotal.WithLabelValues("completed").Inc()

	s.broadcaster.BroadcastMessageToTerminal(exec.terminalID, &ws.Message{
		Type:       ws.MessageTypeQueueCompleted,
		TerminalID: exec.terminalID,
		QueueID:    q.ID,
		Name:       q.Name,
		TaskID:     q.TaskID,
	})
	s.notifier.Notify(q.UserID, "Queue completed", fmt.Sprintf("%s finished successfully", q.Name))
}

// failQueue fails the in-flight command (if any), skips the rest, and
// marks the queue FAILED with the given reason.
func (s *Service) failQueue(ctx context.Context, exec *execution, reason string) {
	q := exec.queue
	if exec.commandID != "" {
		err := s.repo.FinishCommand(ctx, exec.commandID, model.CommandStatusFailed, exec.output.String(), 1)
		if err != nil && !errors.Is(err, model.ErrCommandNotFound) {
			log.Printf("queue %s: failed to persist failed command: %v", q.ID, err)
		}
	}
	if _, err := s.repo.SkipPendingCommands(ctx, q.ID); err != nil {
		log.Printf("queue %s: failed to skip pending commands: %v", q.ID, err)
	}
	if err := s.repo.UpdateQueueStatus(ctx, q.ID, model.QueueStatusFailed, reason); err != nil {
		log.Printf("queue %s: failed to mark failed: %v", q.ID, err)
	}
	s.finishTask(ctx, q, model.TaskStatusFailed)
	metrics.QueueOutcomesTotal.WithLabelValues("failed").Inc()

	s.broadcaster.BroadcastMessageToTerminal(exec.terminalID, &ws.Message{
		Type:       ws.MessageTypeQueueFailed,
		TerminalID: exec.terminalID,
		QueueID:    q.ID,
		Reason:     reason,
		TaskID:     q.TaskID,
	})
	s.notifier.Notify(q.UserID, "Queue failed", fmt.Sprintf("%s failed: %s", q.Name, reason))
}

// cancelActive handles a cancellation request from inside the run loop.
func (s *Service) cancelActive(ctx context.Context, exec *execution, note string) {
	q := exec.queue
	if exec.commandID != "" {
		output := exec.output.String()
		if output != "" {
			output += "\n"
		}
		output += "[" + note + "]"
		err := s.repo.FinishCommand(ctx, exec.commandID, model.CommandStatusFailed, output, 1)
		if err != nil && !errors.Is(err, model.ErrCommandNotFound) {
			log.Printf("queue %s: failed to persist cancelled command: %v", q.ID, err)
		}
	}
	if _, err := s.repo.SkipPendingCommands(ctx, q.ID); err != nil {
		log.Printf("queue %s: failed to skip pending commands: %v", q.ID, err)
	}
	if err := s.repo.UpdateQueueStatus(ctx, q.ID, model.QueueStatusCancelled, note); err != nil {
		log.Printf("queue %s: failed to mark cancelled: %v", q.ID, err)
	}
	s.finishTask(ctx, q, model.TaskStatusCancelled)
	metrics.QueueOutcomesTotal.WithLabelValues("cancelled").Inc()

	s.broadcaster.BroadcastMessageToTerminal(exec.terminalID, &ws.Message{
		Type:       ws.MessageTypeQueueCancelled,
		TerminalID: exec.terminalID,
		QueueID:    q.ID,
		TaskID:     q.TaskID,
	})
	s.notifier.Notify(q.UserID, "Queue cancelled", fmt.Sprintf("%s was cancelled", q.Name))
}

// finishTask derives a linked task's final status from the queue outcome.
func (s *Service) finishTask(ctx context.Context, q *model.Queue, status model.TaskStatus) {
	if q.TaskID == nil {
		return
	}
	if err := s.repo.UpdateTaskStatus(ctx, *q.TaskID, status); err != nil {
		log.Printf("queue %s: failed to update task %s: %v", q.ID, *q.TaskID, err)
	}
}

func (s *Service) clearActive(exec *execution) {
	s.mu.Lock()
	if cur, ok := s.active[exec.terminalID]; ok && cur == exec {
		delete(s.active, exec.terminalID)
	}
	s.mu.Unlock()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
