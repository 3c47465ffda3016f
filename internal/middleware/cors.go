package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	// Allowed reports whether an Origin header value may access the API.
	Allowed func(origin string) bool

	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// DefaultCORSConfig returns the CORS settings of the submission API.
func DefaultCORSConfig(allowed func(origin string) bool) CORSConfig {
	return CORSConfig{
		Allowed:       allowed,
		AllowMethods:  []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "X-Idempotent-Replay", "Retry-After"},
		MaxAge:        600,
	}
}

// CORS returns a middleware that answers preflight requests and sets
// Access-Control-* headers for allowed origins. Requests from other origins
// pass through untouched so the origin policy downstream can reject them.
func CORS(cfg CORSConfig) Middleware {
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get(HeaderOrigin)
			preflight := r.Method == http.MethodOptions && r.Header.Get(HeaderAccessControlReqM) != ""

			if origin == "" || cfg.Allowed == nil || !cfg.Allowed(origin) {
				if preflight {
					corsPreflightTotal.WithLabelValues("rejected").Inc()
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add(HeaderVary, HeaderOrigin)
			h.Set("Access-Control-Allow-Origin", origin)

			if preflight {
				corsPreflightTotal.WithLabelValues("allowed").Inc()
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}
			next.ServeHTTP(w, r)
		})
	}
}
