package middleware

import "net/http"

// SecureHeaders returns a middleware that marks every response as
// uncacheable and sets conservative browser hardening headers.
func SecureHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set(HeaderCacheControl, "no-store")
			h.Set(HeaderXContentType, "nosniff")
			h.Set(HeaderReferrerPolicy, "no-referrer")
			h.Set(HeaderXFrameOptions, "DENY")
			next.ServeHTTP(w, r)
		})
	}
}
