package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrPreconditionFailed is returned when an operation is requested on a
	// task whose current state does not allow it, for example retrying a
	// task that has not failed or chaining from an incomplete parent.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotClaimable is returned when a claim races with another worker or
	// with a cancellation: the task exists but is no longer in the ready
	// state. Callers are expected to absorb this error and move on, it is
	// the normal outcome of a lost claim race.
	ErrNotClaimable = errors.New("task not claimable")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreconditionFailed checks if the error reports a state-machine
// precondition violation.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsNotClaimable checks if the error reports a lost claim race.
func IsNotClaimable(err error) bool {
	return errors.Is(err, ErrNotClaimable)
}
