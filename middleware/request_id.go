package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is honored when the caller supplies its own correlation ID
const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation ID, reusing the caller's
// X-Request-ID header when present. The ID is stored in the request context
// and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := WithRequestID(r.Context(), requestID)
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
