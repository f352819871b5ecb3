package generation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/phrazzld/conjure-api/internal/config"
)

// mockProvider and mockModelName are the fixed attribution values the mock
// reports in results, regardless of the configured model name.
const (
	mockProvider  = "mock"
	mockModelName = "mock-llm"
)

// MockGenerator is a Generator for local development and tests. It emits a
// canned response that embeds the prompt, sleeps a configurable latency, and
// fails a configurable fraction of calls so the retry machinery can be
// exercised without a real model behind it.
type MockGenerator struct {
	logger      *slog.Logger
	latency     time.Duration
	failureRate float64
}

var _ Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a MockGenerator from the LLM configuration.
// If logger is nil, slog.Default() is used.
func NewMockGenerator(cfg config.LLMConfig, logger *slog.Logger) *MockGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockGenerator{
		logger:      logger.With(slog.String("component", "mock_generator")),
		latency:     cfg.MockLatency,
		failureRate: cfg.MockFailureRate,
	}
}

// Generate returns a deterministic response embedding the prompt, after the
// configured artificial latency. A configured failure rate makes the
// corresponding fraction of calls fail with ErrGenerationFailed.
func (g *MockGenerator) Generate(ctx context.Context, prompt string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
		case <-time.After(g.latency):
		}
	}

	if g.failureRate > 0 && rand.Float64() < g.failureRate {
		g.logger.DebugContext(ctx, "injecting mock generation failure",
			slog.Float64("failure_rate", g.failureRate))
		return nil, fmt.Errorf("%w: injected mock failure", ErrGenerationFailed)
	}

	output := fmt.Sprintf("[MOCK OUTPUT]\n\nPrompt:\n%s\n\nResponse:\nThis is a mocked response.", prompt)

	return &Result{
		Output:    output,
		Provider:  mockProvider,
		ModelName: mockModelName,
	}, nil
}
