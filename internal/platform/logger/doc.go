// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON
// logging with configurable log levels, and carries request-scoped loggers through
// context.Context so trace IDs attached by the HTTP layer follow a task operation
// all the way down to the store.
package logger
