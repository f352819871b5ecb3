package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusDeferred  TaskStatus = "deferred"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Limits enforced on task fields at creation time.
const (
	MaxTaskNameLength  = 200
	MaxAttemptsCeiling = 20
	DefaultMaxAttempts = 3
)

// Common validation errors for Task. All wrap ErrValidation so callers can
// classify them with a single errors.Is check.
var (
	ErrEmptyTaskID        = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	ErrEmptyTaskName      = fmt.Errorf("%w: task name cannot be empty", ErrValidation)
	ErrTaskNameTooLong    = fmt.Errorf("%w: task name exceeds %d characters", ErrValidation, MaxTaskNameLength)
	ErrEmptyTaskPrompt    = fmt.Errorf("%w: task prompt cannot be empty", ErrValidation)
	ErrInvalidTaskStatus  = fmt.Errorf("%w: invalid task status", ErrValidation)
	ErrInvalidMaxAttempts = fmt.Errorf(
		"%w: max attempts must be between 1 and %d", ErrValidation, MaxAttemptsCeiling)
	ErrEmptyChainInstruction = fmt.Errorf("%w: chain instruction cannot be empty", ErrValidation)
)

// Task represents a single long-running unit of work that invokes the
// generative model once per execution attempt. It carries both the request
// (name, prompt, schedule) and the full execution record (attempts, output,
// error, timing, model metadata).
type Task struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Prompt          string     `json:"prompt"`
	Status          TaskStatus `json:"status"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Output          *string    `json:"output,omitempty"`
	Error           *string    `json:"error,omitempty"`
	ParentTaskID    *uuid.UUID `json:"parent_task_id,omitempty"`
	ModelProvider   *string    `json:"model_provider,omitempty"`
	ModelName       *string    `json:"model_name,omitempty"`
	LatencyMs       *int       `json:"latency_ms,omitempty"`
}

// ExecutionMetadata records which model served a completed attempt and how
// long the call took. Persisted alongside the output on completion.
type ExecutionMetadata struct {
	Provider  string
	Model     string
	LatencyMs int
}

// NewTask creates a new Task from the given request fields. The initial
// status is deferred when scheduledFor is strictly in the future, ready
// otherwise. scheduledFor is normalized to UTC before the comparison.
// Returns a validation error if any field is out of bounds.
func NewTask(name, prompt string, scheduledFor *time.Time, maxAttempts int) (*Task, error) {
	now := time.Now().UTC()

	status := TaskStatusReady
	if scheduledFor != nil {
		utc := scheduledFor.UTC()
		scheduledFor = &utc
		if utc.After(now) {
			status = TaskStatusDeferred
		}
	}

	task := &Task{
		ID:           uuid.New(),
		Name:         name,
		Prompt:       prompt,
		Status:       status,
		ScheduledFor: scheduledFor,
		Attempts:     0,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// ErrParentNotChainable is returned when a chained task is requested for a
// parent that has not completed or completed without an output.
var ErrParentNotChainable = fmt.Errorf("parent task is not chainable")

// NewChainedTask creates a child task whose prompt is derived from the
// parent's output plus the given instruction. The parent must be completed
// with a non-nil output; otherwise ErrParentNotChainable is returned.
// The parent snapshot is not re-verified here - callers that need a
// race-free check must hold the parent row when calling.
func NewChainedTask(
	parent *Task,
	name, instruction string,
	scheduledFor *time.Time,
	maxAttempts int,
) (*Task, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: parent task is nil", ErrParentNotChainable)
	}
	if parent.Status != TaskStatusCompleted {
		return nil, fmt.Errorf("%w: parent status is %q", ErrParentNotChainable, parent.Status)
	}
	if parent.Output == nil {
		return nil, fmt.Errorf("%w: parent has no output", ErrParentNotChainable)
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrEmptyChainInstruction
	}

	task, err := NewTask(name, chainPrompt(*parent.Output, instruction), scheduledFor, maxAttempts)
	if err != nil {
		return nil, err
	}

	parentID := parent.ID
	task.ParentTaskID = &parentID
	return task, nil
}

// chainPrompt derives the child prompt. The parent output is delimited so the
// model can distinguish prior output from the new instruction.
func chainPrompt(parentOutput, instruction string) string {
	return "Parent output:\n<<<\n" + parentOutput + "\n>>>\n\nInstruction:\n" + instruction + "\n"
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Name == "" {
		return ErrEmptyTaskName
	}

	if len(t.Name) > MaxTaskNameLength {
		return ErrTaskNameTooLong
	}

	if t.Prompt == "" {
		return ErrEmptyTaskPrompt
	}

	if !t.Status.Valid() {
		return ErrInvalidTaskStatus
	}

	if t.MaxAttempts < 1 || t.MaxAttempts > MaxAttemptsCeiling {
		return ErrInvalidMaxAttempts
	}

	return nil
}

// IsTerminal reports whether the task has reached a state that can never
// change again.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Valid reports whether s is one of the six known status values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusDeferred, TaskStatusReady, TaskStatusExecuting,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving a task from one status to another is
// a legal lifecycle edge. Terminal states have no outgoing edges.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusDeferred:
		return to == TaskStatusReady || to == TaskStatusCancelled
	case TaskStatusReady:
		return to == TaskStatusExecuting || to == TaskStatusCancelled
	case TaskStatusExecuting:
		return to == TaskStatusCompleted ||
			to == TaskStatusFailed ||
			to == TaskStatusReady ||
			to == TaskStatusCancelled
	default:
		return false
	}
}
