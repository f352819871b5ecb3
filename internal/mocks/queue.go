package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/conjure-api/internal/queue"
)

// MockDispatchQueue implements queue.Queue over a buffered channel, so
// consumer tests block on Dequeue the same way they would against Redis.
// Unlike the Redis implementation it never times out on its own; tests end
// the blocking through the context.
type MockDispatchQueue struct {
	mu       sync.Mutex
	signals  chan uuid.UUID
	enqueued []uuid.UUID

	// EnqueueFn and DequeueFn override the default channel behavior.
	EnqueueFn func(ctx context.Context, id uuid.UUID) error
	DequeueFn func(ctx context.Context) (uuid.UUID, error)
}

var _ queue.Queue = (*MockDispatchQueue)(nil)

// NewMockDispatchQueue creates a queue with room for size pending signals.
func NewMockDispatchQueue(size int) *MockDispatchQueue {
	return &MockDispatchQueue{
		signals: make(chan uuid.UUID, size),
	}
}

// Enqueue pushes a signal and records it for later assertions.
func (m *MockDispatchQueue) Enqueue(ctx context.Context, id uuid.UUID) error {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, id)
	}

	select {
	case m.signals <- id:
	default:
		return errors.New("mock queue is full")
	}

	m.mu.Lock()
	m.enqueued = append(m.enqueued, id)
	m.mu.Unlock()
	return nil
}

// Dequeue blocks until a signal arrives or the context ends.
func (m *MockDispatchQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	if m.DequeueFn != nil {
		return m.DequeueFn(ctx)
	}

	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case id := <-m.signals:
		return id, nil
	}
}

// Len reports the number of pending signals.
func (m *MockDispatchQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(m.signals)), nil
}

// Ping always succeeds.
func (m *MockDispatchQueue) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockDispatchQueue) Close() error {
	return nil
}

// Enqueued returns all IDs pushed through the default Enqueue, in order.
func (m *MockDispatchQueue) Enqueued() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, len(m.enqueued))
	copy(out, m.enqueued)
	return out
}
