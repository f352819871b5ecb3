// Package gemini provides an implementation of the generation.Generator
// interface that uses Google's Gemini API to produce output for task prompts.
//
// This package is an infrastructure adapter in the hexagonal architecture,
// connecting the task lifecycle engine to Google's external Gemini service.
// It handles authentication, request formatting, per-call timeouts, and the
// translation of API failure modes into the generation package's error types
// (safety blocks, empty candidates, transport errors) without exposing the
// external service to the core application.
//
// Each Generate call makes exactly one API attempt. Retrying failed
// generations is the task lifecycle's responsibility, driven by the task's
// attempt budget, so the adapter never retries internally.
//
// The package depends on Google's google.golang.org/genai client library for
// communicating with the Gemini API.
package gemini
