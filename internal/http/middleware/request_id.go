package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vlogmedia/vlog/internal/observability"
)

// RequestIDHeader carries the request ID on both requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID stamps every request with an ID, honoring one supplied by the
// caller, and threads a request-scoped logger through the context so every
// downstream log line carries the same ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := observability.ContextWithRequestID(r.Context(), id)
		ctx = observability.ContextWithLogger(ctx, observability.WithRequestID(observability.LoggerFromContext(ctx), id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID threaded through ctx, or "".
func GetRequestID(ctx context.Context) string {
	return observability.RequestIDFromContext(ctx)
}
