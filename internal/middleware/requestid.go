// Package middleware provides HTTP middleware for WebScout.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/WebScout/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. Generated IDs are UUIDs, the same shape as
// task IDs, so a request and the task it created correlate cleanly in logs.
// The ID is stored in the context and set on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
