// Package middleware provides HTTP middleware shared across the API routes.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/conjure-api/internal/api/shared"
	"github.com/phrazzld/conjure-api/internal/platform/logger"
)

// NewTraceMiddleware returns middleware that adds a trace ID to the request
// context and installs a trace-scoped logger derived from base, so every
// handler and store call downstream logs with the same trace_id. Apply it
// early in the middleware chain. If base is nil, slog.Default() is used.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
