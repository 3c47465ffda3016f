package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/formgate/internal/kv"
)

type fakeStore struct {
	backend string
	durable bool
	err     error
}

func (f fakeStore) Ping(context.Context) error { return f.err }
func (f fakeStore) Backend() string            { return f.backend }
func (f fakeStore) Durable() bool              { return f.durable }

type sink bool

func (s sink) Configured() bool { return bool(s) }

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	c := NewChecker("1.2.3")
	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		store      fakeStore
		sink       sink
		wantStatus Status
		wantCode   int
	}{
		{
			name:       "durable and configured",
			store:      fakeStore{backend: kv.BackendRedis, durable: true},
			sink:       true,
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "in-memory fallback",
			store:      fakeStore{backend: kv.BackendMemory},
			sink:       true,
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name:       "sink not configured",
			store:      fakeStore{backend: kv.BackendRedis, durable: true},
			sink:       false,
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name:       "store failing",
			store:      fakeStore{backend: kv.BackendRedis, durable: true, err: errors.New("connection refused")},
			sink:       true,
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "required store missing",
			store:      fakeStore{backend: "none", err: kv.ErrStoreUnavailable},
			sink:       true,
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewChecker("test")
			c.RegisterCheck("store", StoreCheck(tt.store))
			c.RegisterCheck("formspree", SinkCheck(tt.sink))

			rec := httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.store.backend, body.Checks["store"].Details["backend"])
		})
	}
}

func TestChecker_Draining(t *testing.T) {
	t.Parallel()

	c := NewChecker("test")
	c.RegisterCheck("store", StoreCheck(fakeStore{backend: kv.BackendRedis, durable: true}))
	c.SetDraining(true)

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.True(t, resp.Draining)

	c.SetDraining(false)
	assert.Equal(t, StatusHealthy, c.Readiness(context.Background()).Status)
}

func TestStoreCheck_Resolver(t *testing.T) {
	t.Parallel()

	resolver := kv.NewResolver(nil, kv.NewMemoryStore(), false)
	check := StoreCheck(resolver)(context.Background())

	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, kv.BackendMemory, check.Details["backend"])
	assert.Equal(t, "false", check.Details["durable"])
}

type breakerSink string

func (breakerSink) Configured() bool       { return true }
func (b breakerSink) BreakerState() string { return string(b) }

type breakerStore struct {
	fakeStore
	state string
}

func (b breakerStore) BreakerState() string { return b.state }

func TestSinkCheck_BreakerState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state      string
		wantStatus Status
	}{
		{state: "closed", wantStatus: StatusHealthy},
		{state: "half-open", wantStatus: StatusHealthy},
		{state: "open", wantStatus: StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			check := SinkCheck(breakerSink(tt.state))(context.Background())
			assert.Equal(t, tt.wantStatus, check.Status)
			assert.Equal(t, tt.state, check.Details["breaker"])
		})
	}

	check := SinkCheck(sink(true))(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Empty(t, check.Details)
}

func TestStoreCheck_BreakerState(t *testing.T) {
	t.Parallel()

	store := breakerStore{fakeStore: fakeStore{backend: kv.BackendRedis, durable: true}, state: "closed"}
	check := StoreCheck(store)(context.Background())

	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "closed", check.Details["breaker"])
}
