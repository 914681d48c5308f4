package pty

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/termstack/broker/internal/model"
)

const (
	// DefaultExecuteTimeout bounds how long Execute waits for a prompt.
	DefaultExecuteTimeout = 10 * time.Second

	// DefaultSettleDelay is the pause after a prompt match before Execute
	// resolves, so trailing output still lands in the result.
	DefaultSettleDelay = 300 * time.Millisecond
)

// ExecuteOptions configures a one-shot Execute call.
type ExecuteOptions struct {
	Timeout     time.Duration
	SettleDelay time.Duration
}

// ExecuteResult is the outcome of an Execute call. TimedOut is true when
// the overall timeout elapsed before a prompt was detected; Output holds
// whatever was captured either way.
type ExecuteResult struct {
	Output   string
	TimedOut bool
}

// Execute writes a command to the terminal and captures output until a
// prompt pattern matches (after the settle delay, with no still-running
// pattern in the same chunk) or the timeout elapses. It is a request/
// response convenience over the event stream; the subscription it takes is
// always released on return.
func (m *Manager) Execute(terminalID, command string, opts ExecuteOptions) (*ExecuteResult, error) {
	if !m.Has(terminalID) {
		return nil, fmt.Errorf("%w: %s", model.ErrTerminalNotFound, terminalID)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultExecuteTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}

	// Subscribe before writing so the first output chunk cannot be missed.
	sub := m.Subscribe(terminalID)
	defer sub.Close()

	if !strings.HasSuffix(command, "\n") && !strings.HasSuffix(command, "\r") {
		command += "\n"
	}
	if err := m.Write(terminalID, []byte(command)); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	timeout := time.NewTimer(opts.Timeout)
	defer timeout.Stop()

	settle := time.NewTimer(opts.SettleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()
	settleArmed := false

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return &ExecuteResult{Output: out.String()}, nil
			}
			switch ev.Type {
			case EventData:
				out.Write(ev.Data)
				if MatchesPrompt(ev.Data) && !MatchesBusy(ev.Data) {
					// Prompt seen: (re)arm the settle delay.
					if settleArmed && !settle.Stop() {
						<-settle.C
					}
					settle.Reset(opts.SettleDelay)
					settleArmed = true
				} else if settleArmed {
					// More output arrived, the prompt was not final.
					if !settle.Stop() {
						<-settle.C
					}
					settleArmed = false
				}
			case EventExit, EventKilled:
				return &ExecuteResult{Output: out.String()}, nil
			}
		case <-settle.C:
			return &ExecuteResult{Output: out.String()}, nil
		case <-timeout.C:
			return &ExecuteResult{Output: out.String(), TimedOut: true}, nil
		}
	}
}
