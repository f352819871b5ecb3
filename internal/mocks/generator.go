package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/conjure-api/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, prompt string) (*generation.Result, error)

	// Default response values
	Result *generation.Result
	Err    error

	// Call tracking for verification
	GenerateCalls struct {
		// mu protects the call tracking state for concurrent test cases
		mu sync.Mutex

		// Count tracks how many times Generate was called
		Count int

		// Prompts contains all prompts passed to Generate calls
		Prompts []string
	}
}

var _ generation.Generator = (*MockGenerator)(nil)

// Generate implements the generation.Generator interface
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (*generation.Result, error) {
	m.GenerateCalls.mu.Lock()
	m.GenerateCalls.Count++
	m.GenerateCalls.Prompts = append(m.GenerateCalls.Prompts, prompt)
	m.GenerateCalls.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt)
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if m.Result != nil {
		r := *m.Result
		return &r, nil
	}

	return &generation.Result{
		Output:    "output for: " + prompt,
		Provider:  "mock",
		ModelName: "mock-llm",
	}, nil
}

// CallCount returns how many times Generate was called.
func (m *MockGenerator) CallCount() int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	return m.GenerateCalls.Count
}

// NewMockGeneratorWithOutput creates a MockGenerator that returns the
// specified output for every prompt.
func NewMockGeneratorWithOutput(output string) *MockGenerator {
	return &MockGenerator{
		Result: &generation.Result{
			Output:    output,
			Provider:  "mock",
			ModelName: "mock-llm",
		},
	}
}

// MockGeneratorThatFails creates a MockGenerator that simulates a generation failure
func MockGeneratorThatFails() *MockGenerator {
	return &MockGenerator{
		Err: generation.ErrGenerationFailed,
	}
}

// MockGeneratorWithContentBlocked creates a MockGenerator that simulates content being blocked
func MockGeneratorWithContentBlocked() *MockGenerator {
	return &MockGenerator{
		Err: generation.ErrContentBlocked,
	}
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()

	m.GenerateCalls.Count = 0
	m.GenerateCalls.Prompts = nil
}
