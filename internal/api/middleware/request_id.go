// Package middleware provides the HTTP middleware chain of the FloatChat API.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/floatchat/floatchat/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// RequestID runs first in the chain: every request gets an X-Request-ID in its context and response header.
// A client-supplied id is propagated; otherwise a UUIDv7 is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.Must(uuid.NewV7()).String()
		}

		ctx := context.WithValue(r.Context(), observability.RequestIDKey, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
