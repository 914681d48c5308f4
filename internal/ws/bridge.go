package ws

import (
	"context"

	"github.com/termstack/broker/internal/metrics"
	"github.com/termstack/broker/internal/pty"
)

// Bridge forwards the PTY manager's event stream to subscribed viewers as
// JSON frames. One bridge serves every terminal; it runs for the life of
// the process.
type Bridge struct {
	terminals *pty.Manager
	conns     *Manager
}

// NewBridge creates a bridge between the PTY event stream and viewers.
func NewBridge(terminals *pty.Manager, conns *Manager) *Bridge {
	return &Bridge{terminals: terminals, conns: conns}
}

// Run consumes terminal events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.terminals.Subscribe("")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.forward(ev)
		}
	}
}

func (b *Bridge) forward(ev pty.Event) {
	switch ev.Type {
	case pty.EventData:
		metrics.BroadcastBytesTotal.Add(float64(len(ev.Data)))
		b.conns.BroadcastMessageToTerminal(ev.TerminalID, &Message{
			Type:       MessageTypeOutput,
			TerminalID: ev.TerminalID,
			Data:       string(ev.Data),
		})
	case pty.EventCwd:
		b.conns.BroadcastMessageToTerminal(ev.TerminalID, &Message{
			Type:       MessageTypeCwd,
			TerminalID: ev.TerminalID,
			Cwd:        ev.Cwd,
		})
	case pty.EventWorking:
		working := ev.Working
		b.conns.BroadcastMessageToTerminal(ev.TerminalID, &Message{
			Type:       MessageTypeWorking,
			TerminalID: ev.TerminalID,
			Working:    &working,
		})
	case pty.EventExit:
		code := ev.ExitCode
		b.conns.BroadcastMessageToTerminal(ev.TerminalID, &Message{
			Type:       MessageTypeExit,
			TerminalID: ev.TerminalID,
			ExitCode:   &code,
		})
	}
}
