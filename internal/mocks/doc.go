// Package mocks provides centralized mock implementations for testing.
//
// This package contains mock implementations of interfaces used throughout the application,
// facilitating consistent and DRY testing across the codebase. Instead of defining
// inline mocks in individual test files, these standardized mock implementations
// can be reused.
//
// The task store mock carries real in-memory lifecycle semantics (claims,
// completion, cancellation flags) so scheduler and worker tests exercise the
// same state machine the SQL store implements; individual methods can still
// be overridden to inject failures.
//
// Usage:
//
// Import the mocks package in your test file and create the required mock:
//
//	import "github.com/phrazzld/conjure-api/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    taskStore := mocks.NewMockTaskStore()
//	    taskStore.ClaimForExecutionFn = func(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
//	        return nil, store.ErrNotClaimable
//	    }
//
//	    // Use the mock in your test...
//	}
//
// When adding a new mock to this package:
//  1. Create a new file named after the interface being mocked
//  2. Implement the mock struct with function fields for each interface method
//  3. Document any helper methods or special functionality
package mocks
