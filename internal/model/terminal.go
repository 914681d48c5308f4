package model

import "time"

// TerminalStatus represents the lifecycle state of a terminal's PTY process.
type TerminalStatus string

const (
	TerminalStatusStopped  TerminalStatus = "stopped"
	TerminalStatusStarting TerminalStatus = "starting"
	TerminalStatusRunning  TerminalStatus = "running"
	TerminalStatusCrashed  TerminalStatus = "crashed"
)

// Terminal describes a live terminal as seen by API consumers. The process
// handle and output buffer live in the pty package; this is the serializable
// view.
type Terminal struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Status    TerminalStatus `json:"status"`
	Cols      uint16         `json:"cols"`
	Rows      uint16         `json:"rows"`
	Cwd       string         `json:"cwd,omitempty"`
	IsWorking bool           `json:"isWorking"`
	PID       *int           `json:"pid,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CreateTerminalRequest represents a request to create a new terminal.
type CreateTerminalRequest struct {
	TerminalID string `json:"terminalId" binding:"required"`
	Cols       uint16 `json:"cols"`
	Rows       uint16 `json:"rows"`
	Workdir    string `json:"workdir"`
	Shell      string `json:"shell"`
	Record     bool   `json:"record"`
	UserID     string `json:"-"`
}

// Validate validates the create terminal request.
func (r *CreateTerminalRequest) Validate() error {
	if r.TerminalID == "" {
		return ErrTerminalIDRequired
	}
	return nil
}
