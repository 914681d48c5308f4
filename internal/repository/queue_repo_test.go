package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/termstack/broker/internal/db"
	"github.com/termstack/broker/internal/model"
)

func newTestRepo(t *testing.T) *QueueRepository {
	t.Helper()
	testDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewQueueRepository(testDB)
}

func TestCreateQueuePersistsCommandsInOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	q, err := repo.CreateQueue(ctx, &model.CreateQueueRequest{
		TerminalID: "term-1",
		UserID:     "user-1",
		Name:       "deploy",
		Commands:   []string{"make build", "make test", "make deploy"},
	})
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	if q.Status != model.QueueStatusPending {
		t.Errorf("expected status %s, got %s", model.QueueStatusPending, q.Status)
	}

	commands, err := repo.ListCommands(ctx, q.ID)
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if len(commands) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(commands))
	}
	want := []string{"make build", "make test", "make deploy"}
	for i, c := range commands {
		if c.Position != i {
			t.Errorf("command %d: expected position %d, got %d", i, i, c.Position)
		}
		if c.Text != want[i] {
			t.Errorf("command %d: expected text %q, got %q", i, want[i], c.Text)
		}
		if c.Status != model.CommandStatusPending {
			t.Errorf("command %d: expected status %s, got %s", i, model.CommandStatusPending, c.Status)
		}
	}
}

func TestCreateQueueValidation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateQueue(ctx, &model.CreateQueueRequest{UserID: "u", Commands: []string{"ls"}})
	if !errors.Is(err, model.ErrTerminalIDRequired) {
		t.Errorf("expected ErrTerminalIDRequired, got %v", err)
	}

	_, err = repo.CreateQueue(ctx, &model.CreateQueueRequest{TerminalID: "t", UserID: "u"})
	if !errors.Is(err, model.ErrCommandsRequired) {
		t.Errorf("expected ErrCommandsRequired, got %v", err)
	}
}

func TestGetQueueNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetQueue(context.Background(), "nonexistent")
	if !errors.Is(err, model.ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestNextPendingCommandAdvances(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	q, err := repo.CreateQueue(ctx, &model.CreateQueueRequest{
		TerminalID: "term-1",
		UserID:     "user-1",
		Commands:   []string{"echo a", "echo b"},
	})
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}

	first, err := repo.NextPendingCommand(ctx, q.ID)
	if err != nil {
		t.Fatalf("NextPendingCommand failed: %v", err)
	}
	if first.Text != "echo a" {
		t.Errorf("expected first command %q, got %q", "echo a", first.Text)
	}

	if err := repo.MarkCommandRunning(ctx, first.ID); err != nil {
		t.Fatalf("MarkCommandRunning failed: %v", err)
	}
	if err := repo.FinishCommand(ctx, first.ID, model.CommandStatusCompleted, "a\n", 0); err != nil {
		t.Fatalf("FinishCommand failed: %v", err)
	}

	second, err := repo.NextPendingCommand(ctx, q.ID)
	if err != nil {
		t.Fatalf("NextPendingCommand failed: %v", err)
	}
	if second.Text != "echo b" {
		t.Errorf("expected second command %q, got %q", "echo b", second.Text)
	}

	if err := repo.FinishCommand(ctx, second.ID, model.CommandStatusCompleted, "b\n", 0); err != nil {
		t.Fatalf("FinishCommand failed: %v", err)
	}

	_, err = repo.NextPendingCommand(ctx, q.ID)
	if !errors.Is(err, model.ErrCommandNotFound) {
		t.Errorf("expected ErrCommandNotFound after all commands finished, got %v", err)
	}
}

func TestSkipPendingCommands(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	q, err := repo.CreateQueue(ctx, &model.CreateQueueRequest{
		TerminalID: "term-1",
		UserID:     "user-1",
		Commands:   []string{"one", "two", "three"},
	})
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}

	first, err := repo.NextPendingCommand(ctx, q.ID)
	if err != nil {
		t.Fatalf("NextPendingCommand failed: %v", err)
	}
	if err := repo.FinishCommand(ctx, first.ID, model.CommandStatusFailed, "boom", 1); err != nil {
		t.Fatalf("FinishCommand failed: %v", err)
	}

	n, err := repo.SkipPendingCommands(ctx, q.ID)
	if err != nil {
		t.Fatalf("SkipPendingCommands failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 skipped commands, got %d", n)
	}

	commands, err := repo.ListCommands(ctx, q.ID)
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if commands[0].Status != model.CommandStatusFailed {
		t.Errorf("expected first command FAILED, got %s", commands[0].Status)
	}
	for _, c := range commands[1:] {
		if c.Status != model.CommandStatusSkipped {
			t.Errorf("command %d: expected SKIPPED, got %s", c.Position, c.Status)
		}
	}
}

func TestUpdateQueueStatusSetsTimestamps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	q, err := repo.CreateQueue(ctx, &model.CreateQueueRequest{
		TerminalID: "term-1",
		UserID:     "user-1",
		Commands:   []string{"ls"},
	})
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}

	if err := repo.UpdateQueueStatus(ctx, q.ID, model.QueueStatusRunning, ""); err != nil {
		t.Fatalf("UpdateQueueStatus failed: %v", err)
	}
	got, err := repo.GetQueue(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if got.StartedAt == nil {
		t.Error("expected started_at to be set after RUNNING transition")
	}
	if got.FinishedAt != nil {
		t.Error("expected finished_at to be unset while running")
	}

	if err := repo.UpdateQueueStatus(ctx, q.ID, model.QueueStatusFailed, "command exited with code 1"); err != nil {
		t.Fatalf("UpdateQueueStatus failed: %v", err)
	}
	got, err = repo.GetQueue(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if got.Status != model.QueueStatusFailed {
		t.Errorf("expected status FAILED, got %s", got.Status)
	}
	if got.FailReason != "command exited with code 1" {
		t.Errorf("unexpected fail reason %q", got.FailReason)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set after FAILED transition")
	}
}

func TestTaskLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := &model.Task{UserID: "user-1", Title: "deploy service"}
	if err := repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Status != model.TaskStatusInProgress {
		t.Errorf("expected default status %s, got %s", model.TaskStatusInProgress, task.Status)
	}

	if err := repo.UpdateTaskStatus(ctx, task.ID, model.TaskStatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	got, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != model.TaskStatusDone {
		t.Errorf("expected status %s, got %s", model.TaskStatusDone, got.Status)
	}

	if err := repo.UpdateTaskStatus(ctx, "missing", model.TaskStatusDone); !errors.Is(err, model.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}
