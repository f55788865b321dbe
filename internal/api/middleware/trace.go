// Package middleware holds the HTTP middleware for the admin API.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/contractwatch/contract-indexer/internal/api/shared"
)

// Trace attaches a trace ID to each request so logs and error responses
// can be correlated. Apply it before anything that logs.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())

		slog.Debug("request started",
			slog.String("trace_id", shared.GetTraceID(ctx)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
