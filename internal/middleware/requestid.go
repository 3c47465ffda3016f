package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/formgate/internal/observability"
)

// maxRequestIDLength bounds inbound request ids.
const maxRequestIDLength = 128

// RequestID returns a middleware that propagates the inbound X-Request-ID
// or generates one, stores it in the request context and echoes it in the
// response.
func RequestID() Middleware {
	return RequestIDWithGenerator(uuid.NewString)
}

// RequestIDWithGenerator is RequestID with a custom id generator.
func RequestIDWithGenerator(generator func() string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(HeaderXRequestID))
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = generator()
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			w.Header().Set(HeaderXRequestID, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
