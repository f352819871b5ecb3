// Package generation provides interfaces and implementations for invoking
// external generative model services. It abstracts the details of model API
// integration (Gemini), allowing the task lifecycle engine to execute prompts
// without coupling to a specific backend, and ships a mock implementation for
// local development and testing.
package generation
