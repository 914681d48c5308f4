// Package repository provides data access for queue, command and task records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/termstack/broker/internal/model"
)

// QueueRepository is the persistence collaborator for the queue service:
// the authoritative store for everything outside the in-memory active
// execution map.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a QueueRepository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// CreateQueue inserts a queue and its commands in execution order.
func (r *QueueRepository) CreateQueue(ctx context.Context, req *model.CreateQueueRequest) (*model.Queue, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	q := &model.Queue{
		ID:         uuid.New().String(),
		TerminalID: req.TerminalID,
		UserID:     req.UserID,
		Name:       req.Name,
		Status:     model.QueueStatusPending,
		TaskID:     req.TaskID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if q.Name == "" {
		q.Name = fmt.Sprintf("Queue %s", q.ID[:8])
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queues (id, terminal_id, user_id, name, status, task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, q.ID, q.TerminalID, q.UserID, q.Name, q.Status, q.TaskID, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}

	for i, text := range req.Commands {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO commands (id, queue_id, position, text, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), q.ID, i, text, model.CommandStatusPending, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create command: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return q, nil
}

// GetQueue retrieves a queue by id.
func (r *QueueRepository) GetQueue(ctx context.Context, id string) (*model.Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, terminal_id, user_id, name, status, task_id, fail_reason, started_at, finished_at, created_at, updated_at
		FROM queues
		WHERE id = ?
	`, id)
	return scanQueue(row)
}

// ListQueuesByUser returns a user's queues, newest first.
func (r *QueueRepository) ListQueuesByUser(ctx context.Context, userID string) ([]*model.Queue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, terminal_id, user_id, name, status, task_id, fail_reason, started_at, finished_at, created_at, updated_at
		FROM queues
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	var queues []*model.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queues: %w", err)
	}
	return queues, nil
}

// UpdateQueueStatus updates a queue's status and, depending on the
// transition, its start/finish timestamps and failure reason.
func (r *QueueRepository) UpdateQueueStatus(ctx context.Context, id string, status model.QueueStatus, failReason string) error {
	now := time.Now()

	var started, finished interface{}
	switch status {
	case model.QueueStatusRunning:
		started = now
	case model.QueueStatusCompleted, model.QueueStatusFailed, model.QueueStatusCancelled:
		finished = now
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE queues
		SET status = ?,
		    fail_reason = CASE WHEN ? != '' THEN ? ELSE fail_reason END,
		    started_at = COALESCE(?, started_at),
		    finished_at = COALESCE(?, finished_at),
		    updated_at = ?
		WHERE id = ?
	`, status, failReason, failReason, started, finished, now, id)
	if err != nil {
		return fmt.Errorf("failed to update queue status: %w", err)
	}
	return requireRow(result, model.ErrQueueNotFound)
}

// NextPendingCommand returns the lowest-position PENDING command of the
// queue, or ErrCommandNotFound when none remain.
func (r *QueueRepository) NextPendingCommand(ctx context.Context, queueID string) (*model.Command, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, queue_id, position, text, status, output, exit_code, started_at, ended_at, created_at
		FROM commands
		WHERE queue_id = ? AND status = ?
		ORDER BY position ASC
		LIMIT 1
	`, queueID, model.CommandStatusPending)
	return scanCommand(row)
}

// ListCommands returns a queue's commands ordered by position.
func (r *QueueRepository) ListCommands(ctx context.Context, queueID string) ([]*model.Command, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, queue_id, position, text, status, output, exit_code, started_at, ended_at, created_at
		FROM commands
		WHERE queue_id = ?
		ORDER BY position ASC
	`, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	var commands []*model.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}
	return commands, nil
}

// MarkCommandRunning transitions a command to RUNNING with a start time.
func (r *QueueRepository) MarkCommandRunning(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, started_at = ? WHERE id = ?
	`, model.CommandStatusRunning, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark command running: %w", err)
	}
	return requireRow(result, model.ErrCommandNotFound)
}

// FinishCommand records a command's terminal status, captured output and
// exit code.
func (r *QueueRepository) FinishCommand(ctx context.Context, id string, status model.CommandStatus, output string, exitCode int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, output = ?, exit_code = ?, ended_at = ? WHERE id = ?
	`, status, output, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish command: %w", err)
	}
	return requireRow(result, model.ErrCommandNotFound)
}

// SkipPendingCommands marks every remaining PENDING command of the queue
// SKIPPED and returns how many were skipped.
func (r *QueueRepository) SkipPendingCommands(ctx context.Context, queueID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, ended_at = ? WHERE queue_id = ? AND status = ?
	`, model.CommandStatusSkipped, time.Now(), queueID, model.CommandStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to skip commands: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// CreateTask inserts a task record.
func (r *QueueRepository) CreateTask(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusInProgress
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, status) VALUES (?, ?, ?, ?)
	`, task.ID, task.UserID, task.Title, task.Status)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (r *QueueRepository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	task := &model.Task{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, status FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.UserID, &task.Title, &task.Status)
	if err == sql.ErrNoRows {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// UpdateTaskStatus updates a task's status.
func (r *QueueRepository) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return requireRow(result, model.ErrTaskNotFound)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueue(row rowScanner) (*model.Queue, error) {
	q := &model.Queue{}
	var taskID, failReason sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&q.ID,
		&q.TerminalID,
		&q.UserID,
		&q.Name,
		&q.Status,
		&taskID,
		&failReason,
		&startedAt,
		&finishedAt,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrQueueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	if taskID.Valid {
		q.TaskID = &taskID.String
	}
	if failReason.Valid {
		q.FailReason = failReason.String
	}
	if startedAt.Valid {
		q.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		q.FinishedAt = &finishedAt.Time
	}
	return q, nil
}

func scanCommand(row rowScanner) (*model.Command, error) {
	c := &model.Command{}
	var output sql.NullString
	var exitCode sql.NullInt64
	var startedAt, endedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.QueueID,
		&c.Position,
		&c.Text,
		&c.Status,
		&output,
		&exitCode,
		&startedAt,
		&endedAt,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan command: %w", err)
	}

	if output.Valid {
		c.Output = output.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		c.ExitCode = &code
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	return c, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
