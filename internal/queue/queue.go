// Package queue defines the dispatch queue interface and its error
// vocabulary. The queue carries opaque task IDs that tell workers a task is
// worth claiming; it is never authoritative. Task rows remain the source of
// truth, lost signals are recovered by the scheduler's reconciliation sweep,
// and duplicate signals are absorbed by the claim step.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Common errors returned by queue implementations.
var (
	// ErrEmpty is returned by Dequeue when no signal arrived within the
	// implementation's poll window. It is a routine condition, not a failure.
	ErrEmpty = errors.New("queue is empty")

	// ErrMalformedSignal is returned by Dequeue when a payload cannot be
	// parsed as a task ID. Consumers should drop the signal and keep going.
	ErrMalformedSignal = errors.New("malformed dispatch signal")
)

// Queue is the dispatch signal transport between the API/scheduler side and
// the workers.
type Queue interface {
	// Enqueue pushes a dispatch signal carrying the task ID.
	Enqueue(ctx context.Context, id uuid.UUID) error

	// Dequeue pops the oldest signal, blocking up to the implementation's
	// poll window. Returns ErrEmpty when the window elapses with nothing and
	// ErrMalformedSignal when the payload is not a task ID.
	Dequeue(ctx context.Context) (uuid.UUID, error)

	// Len reports the number of pending signals.
	Len(ctx context.Context) (int64, error)

	// Ping verifies the queue backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
