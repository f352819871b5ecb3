package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when a generation call fails for any general reason
	ErrGenerationFailed = errors.New("failed to generate output from prompt")

	// ErrEmptyPrompt is returned when the prompt is empty or contains only whitespace
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidResponse is returned when the model response is empty or malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")
)
