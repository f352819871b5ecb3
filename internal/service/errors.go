package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/conjure-api/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent expected conditions that callers check with errors.Is().
//
// Error handling principles:
//  1. Service methods return sentinel errors for expected error conditions
//  2. Validation and precondition errors from the domain and store layers pass
//     through unchanged so callers can still classify them
//  3. Unexpected errors are wrapped in service-specific error types
//  4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrTaskNotFound indicates that the requested task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskServiceError wraps unexpected errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_task", "chain_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
// It maps store-level not-found errors onto the service sentinel and returns
// known sentinels directly without wrapping.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
