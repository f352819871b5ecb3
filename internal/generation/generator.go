package generation

import "context"

// Result carries the outcome of a single generation call. Provider and
// ModelName identify the backend that produced Output so the task's
// execution metadata can be attributed; call latency is measured by the
// caller, not the generator.
type Result struct {
	Output    string
	Provider  string
	ModelName string
}

// Generator defines the interface for producing model output from a task
// prompt. This interface serves as a boundary between the lifecycle engine
// and external generative model services, following the hexagonal
// architecture pattern.
type Generator interface {
	// Generate produces output for the provided prompt. It makes exactly one
	// attempt; retry policy belongs to the task lifecycle, not the generator.
	//
	// Parameters:
	//   - ctx: Context for the operation, used for cancellation and per-call deadlines
	//   - prompt: The prompt to send to the model
	//
	// Returns:
	//   - A Result carrying the generated output and backend attribution
	//   - An error if generation fails (see errors.go for specific types)
	Generate(ctx context.Context, prompt string) (*Result, error)
}
