package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/formgate/internal/observability"
)

func observedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return observability.NewLoggerFromZap(zap.New(core)), logs
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestIDWithGenerator(func() string { return "generated" })(
		http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			seen = observability.RequestIDFromContext(r.Context())
		}))

	tests := []struct {
		name    string
		inbound string
		want    string
	}{
		{name: "generated", want: "generated"},
		{name: "propagated", inbound: "abc-123", want: "abc-123"},
		{name: "too long", inbound: strings.Repeat("x", maxRequestIDLength+1), want: "generated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.inbound != "" {
				r.Header.Set(HeaderXRequestID, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			assert.Equal(t, tt.want, seen)
			assert.Equal(t, tt.want, rec.Header().Get(HeaderXRequestID))
		})
	}
}

func TestRequestID_DefaultGenerator(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RequestID()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Len(t, rec.Header().Get(HeaderXRequestID), 36)
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contact", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))
	assert.JSONEq(t, errInternalServerError, rec.Body.String())
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRecovery_ErrAbortHandler(t *testing.T) {
	t.Parallel()

	h := Recovery(observability.NopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestAccessLog(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}), RequestIDWithGenerator(func() string { return "req-1" }), AccessLog(logger, nil))

	r := httptest.NewRequest(http.MethodPost, "/api/newsletter", nil)
	r.RemoteAddr = "203.0.113.9:1234"
	h.ServeHTTP(httptest.NewRecorder(), r)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/newsletter", fields["path"])
	assert.EqualValues(t, http.StatusCreated, fields["status"])
	assert.EqualValues(t, 5, fields["size"])
	assert.Equal(t, "203.0.113.9", fields["client_ip"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rw.Write([]byte("x"))
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.status)
	assert.NotNil(t, rw.Unwrap())
}

func TestCORS(t *testing.T) {
	t.Parallel()

	allowed := func(origin string) bool { return origin == "https://example.com" }
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := CORS(DefaultCORSConfig(allowed))(next)

	t.Run("preflight allowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/contact", nil)
		r.Header.Set(HeaderOrigin, "https://example.com")
		r.Header.Set(HeaderAccessControlReqM, http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
		assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("preflight rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/contact", nil)
		r.Header.Set(HeaderOrigin, "https://evil.example")
		r.Header.Set(HeaderAccessControlReqM, http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request allowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
		r.Header.Set(HeaderOrigin, "https://example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Idempotent-Replay")
		assert.Equal(t, HeaderOrigin, rec.Header().Get(HeaderVary))
	})

	t.Run("other origin passes through", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
		r.Header.Set(HeaderOrigin, "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestSecureHeaders(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SecureHeaders()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, "no-store", rec.Header().Get(HeaderCacheControl))
	assert.Equal(t, "nosniff", rec.Header().Get(HeaderXContentType))
	assert.Equal(t, "DENY", rec.Header().Get(HeaderXFrameOptions))
}
