package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/conjure-api/internal/config"
	"github.com/phrazzld/conjure-api/internal/generation"
)

// providerName is the attribution value recorded on tasks executed through
// this adapter.
const providerName = "gemini"

// GeminiGenerator implements the generation.Generator interface using
// Google's Gemini API to produce output for task prompts.
type GeminiGenerator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// config contains LLM-specific configuration
	config config.LLMConfig

	// client is the Gemini API client for making requests
	client *genai.Client

	// model is the name of the Gemini model to use
	model string
}

var _ generation.Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a new instance of GeminiGenerator with the provided dependencies.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - logger: A structured logger for operation logging
//   - config: LLM configuration containing API key, model name, and request timeout
//
// Returns:
//   - A properly initialized GeminiGenerator or an error if initialization fails
func NewGeminiGenerator(
	ctx context.Context,
	logger *slog.Logger,
	config config.LLMConfig,
) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if config.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &GeminiGenerator{
		logger: logger,
		config: config,
		client: client,
		model:  config.ModelName,
	}, nil
}

// Generate sends the prompt to the Gemini API and returns the model output.
//
// It makes exactly one API attempt per call; retrying failed generations is
// the task lifecycle's responsibility. The configured request timeout bounds
// the call.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - prompt: The prompt string to send to the Gemini API
//
// Returns:
//   - A generation.Result carrying the output text and model attribution
//   - An error mapped to the generation package's error types
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*generation.Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, generation.ErrEmptyPrompt
	}

	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}

	g.logger.DebugContext(ctx, "Making Gemini API call",
		"model", g.model,
		"prompt_length", len(prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		g.logger.ErrorContext(ctx, "Gemini API call error",
			"model", g.model,
			"error", err)
		return nil, fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}

	output, err := extractText(resp)
	if err != nil {
		g.logger.WarnContext(ctx, "Gemini response rejected",
			"model", g.model,
			"error", err)
		return nil, err
	}

	g.logger.DebugContext(ctx, "Gemini API call successful",
		"model", g.model,
		"output_length", len(output))

	return &generation.Result{
		Output:    output,
		Provider:  providerName,
		ModelName: g.model,
	}, nil
}

// extractText pulls the generated text out of an API response, mapping safety
// blocks and empty candidates onto the generation package's error types.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)",
			generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}

	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: response contained no text", generation.ErrInvalidResponse)
	}

	return text, nil
}
