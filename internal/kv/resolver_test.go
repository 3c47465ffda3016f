package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/formgate/internal/alert"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

type recordingAlerter struct {
	mu     sync.Mutex
	events []alert.Event
}

func (a *recordingAlerter) Alert(_ context.Context, ev alert.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func TestResolver_Durable(t *testing.T) {
	durable := NewMemoryStore()
	fallback := NewMemoryStore()
	r := NewResolver(durable, fallback, true)

	s, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, durable, s)
	assert.True(t, r.Durable())
	assert.NoError(t, r.Ping(context.Background()))
}

func TestResolver_BreakerState(t *testing.T) {
	assert.Empty(t, NewResolver(nil, NewMemoryStore(), false).BreakerState())
	assert.Empty(t, NewResolver(NewMemoryStore(), NewMemoryStore(), false).BreakerState())

	store, _ := newTestRedisStore(t)
	assert.Equal(t, "closed", NewResolver(store, NewMemoryStore(), false).BreakerState())
}

func TestResolver_RequiredWithoutDurable(t *testing.T) {
	r := NewResolver(nil, nil, true)

	s, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, s)
	assert.False(t, r.Durable())
	assert.Equal(t, "none", r.Backend())
	assert.ErrorIs(t, r.Ping(context.Background()), ErrStoreUnavailable)
}

func TestResolver_FallbackWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	alerter := &recordingAlerter{}
	fallback := NewMemoryStore()
	r := NewResolver(nil, fallback, false,
		WithLogger(observability.NewLoggerFromZap(zap.New(core))),
		WithAlerter(alerter),
	)

	for i := 0; i < 5; i++ {
		s, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Same(t, fallback, s)
	}

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, 1, alerter.count())
	assert.Equal(t, BackendMemory, r.Backend())
}

func TestResolver_FallbackSharedAcrossCalls(t *testing.T) {
	r := NewResolver(nil, nil, false)
	ctx := context.Background()

	s1, err := r.Resolve(ctx)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "k", "v", time.Minute))

	s2, err := r.Resolve(ctx)
	require.NoError(t, err)
	v, found, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	fastRetry := func(url string) RedisConfig {
		cfg := DefaultRedisConfig()
		cfg.URL = url
		cfg.DialTimeout = 200 * time.Millisecond
		cfg.ConnectionRetries = 0
		return cfg
	}

	tests := []struct {
		name        string
		cfg         Config
		wantDurable bool
		wantBackend string
	}{
		{
			name:        "no url uses fallback",
			cfg:         Config{},
			wantBackend: BackendMemory,
		},
		{
			name:        "no url and required",
			cfg:         Config{Required: true},
			wantBackend: "none",
		},
		{
			name:        "reachable redis",
			cfg:         Config{Redis: fastRetry("redis://" + mr.Addr())},
			wantDurable: true,
			wantBackend: BackendRedis,
		},
		{
			name:        "invalid url falls back",
			cfg:         Config{Redis: fastRetry("ftp://x")},
			wantBackend: BackendMemory,
		},
		{
			name:        "unreachable redis falls back",
			cfg:         Config{Redis: fastRetry("redis://127.0.0.1:1")},
			wantBackend: BackendMemory,
		},
		{
			name:        "unreachable redis kept when required",
			cfg:         Config{Redis: fastRetry("redis://127.0.0.1:1"), Required: true},
			wantDurable: true,
			wantBackend: BackendRedis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Open(context.Background(), tt.cfg, nil, nil)
			defer r.Close()
			assert.Equal(t, tt.wantDurable, r.Durable())
			assert.Equal(t, tt.wantBackend, r.Backend())
		})
	}
}
