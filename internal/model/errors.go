package model

import "errors"

var (
	// ErrTerminalIDRequired is returned when a request is missing the terminal id.
	ErrTerminalIDRequired = errors.New("terminal id is required")

	// ErrCommandsRequired is returned when a queue creation request carries no commands.
	ErrCommandsRequired = errors.New("at least one command is required")

	// ErrTerminalExists is returned when a terminal with the same id is already live.
	ErrTerminalExists = errors.New("terminal already exists")

	// ErrTerminalNotFound is returned when no live terminal matches the id.
	ErrTerminalNotFound = errors.New("terminal not found")

	// ErrTerminalLimit is returned when the live instance ceiling is reached.
	ErrTerminalLimit = errors.New("terminal limit reached")

	// ErrQueueNotFound is returned when a queue is not found.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrQueueActive is returned when the terminal already has a running queue.
	ErrQueueActive = errors.New("queue already running for terminal")

	// ErrCommandNotFound is returned when a command is not found.
	ErrCommandNotFound = errors.New("command not found")

	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")
)
