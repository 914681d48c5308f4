package model

import "time"

// QueueStatus represents the status of a command queue.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusRunning   QueueStatus = "running"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

// CommandStatus represents the status of a single queued command.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusRunning   CommandStatus = "running"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
	CommandStatusSkipped   CommandStatus = "skipped"
)

// TaskStatus represents the status of an external task record linked to a
// queue. The queue service derives it from the queue outcome.
type TaskStatus string

const (
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Queue is an ordered command list to be executed against one terminal.
type Queue struct {
	ID         string      `json:"id"`
	TerminalID string      `json:"terminalId"`
	UserID     string      `json:"userId"`
	Name       string      `json:"name"`
	Status     QueueStatus `json:"status"`
	TaskID     *string     `json:"taskId,omitempty"`
	FailReason string      `json:"failReason,omitempty"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Command is one entry in a queue, ordered by Position.
type Command struct {
	ID        string        `json:"id"`
	QueueID   string        `json:"queueId"`
	Position  int           `json:"position"`
	Text      string        `json:"text"`
	Status    CommandStatus `json:"status"`
	Output    string        `json:"output,omitempty"`
	ExitCode  *int          `json:"exitCode,omitempty"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Task is the minimal view of an external task record a queue may be linked
// to. The authoritative store owns the rest of its fields.
type Task struct {
	ID     string     `json:"id"`
	UserID string     `json:"userId"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// CreateQueueRequest represents a request to create a queue with its
// commands in execution order.
type CreateQueueRequest struct {
	TerminalID string   `json:"terminalId" binding:"required"`
	Name       string   `json:"name"`
	Commands   []string `json:"commands" binding:"required"`
	TaskID     *string  `json:"taskId"`
	UserID     string   `json:"-"`
}

// Validate validates the create queue request.
func (r *CreateQueueRequest) Validate() error {
	if r.TerminalID == "" {
		return ErrTerminalIDRequired
	}
	if len(r.Commands) == 0 {
		return ErrCommandsRequired
	}
	return nil
}
