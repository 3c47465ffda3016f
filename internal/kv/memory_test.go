package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_GetSetExpiry(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)

	clock.Advance(time.Second)
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire exactly at its TTL")
}

func TestMemoryStore_SetWithoutTTL(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	clock.Advance(24 * time.Hour)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryStore_SetIfAbsent(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	created, err := s.SetIfAbsent(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SetIfAbsent(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	v, _, _ := s.Get(ctx, "lock")
	assert.Equal(t, "a", v)

	clock.Advance(time.Minute)
	created, err = s.SetIfAbsent(ctx, "lock", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "expired entry counts as absent")
}

func TestMemoryStore_SetIfAbsent_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetIfAbsent(ctx, "lock", "x", time.Minute)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "lock", "token-a", time.Minute))

	deleted, err := s.CompareAndDelete(ctx, "lock", "token-b")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.CompareAndDelete(ctx, "lock", "token-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, _ := s.Get(ctx, "lock")
	assert.False(t, found)

	deleted, err = s.CompareAndDelete(ctx, "missing", "x")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStore_IncrementInWindow(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	wc, err := s.IncrementInWindow(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wc.Count)
	assert.Equal(t, time.Minute, wc.TTLRemaining)

	clock.Advance(20 * time.Second)
	wc, err = s.IncrementInWindow(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), wc.Count)
	assert.Equal(t, 40*time.Second, wc.TTLRemaining, "window is not extended by later increments")

	clock.Advance(40 * time.Second)
	wc, err = s.IncrementInWindow(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wc.Count, "new window after expiry")
}

func TestMemoryStore_IncrementInWindow_RearmsMissingTTL(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "c", "4", 0))
	wc, err := s.IncrementInWindow(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), wc.Count)
	assert.Equal(t, time.Minute, wc.TTLRemaining)
}

func TestMemoryStore_IncrementInWindow_NotInteger(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "c", "abc", time.Minute))

	_, err := s.IncrementInWindow(ctx, "c", time.Minute)
	assert.ErrorIs(t, err, ErrNotInteger)
}

func TestMemoryStore_IncrementInWindow_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementInWindow(ctx, "c", time.Minute)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	v, found, err := s.Get(ctx, "c")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "100", v)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "1", time.Second))
	require.NoError(t, s.Set(ctx, "long", "1", time.Hour))
	require.NoError(t, s.Set(ctx, "forever", "1", 0))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 3, s.Len(), "no sweep before the interval")

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_AmortizedSweepOnMutation(t *testing.T) {
	clock := newManualClock()
	s := NewMemoryStore(WithClock(clock.Now), WithSweepInterval(time.Minute))
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, k, "1", time.Second))
	}

	clock.Advance(30 * time.Second)
	require.NoError(t, s.Set(ctx, "d", "1", time.Hour))
	assert.Equal(t, 4, s.Len())

	clock.Advance(31 * time.Second)
	require.NoError(t, s.Set(ctx, "e", "1", time.Hour))
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Close())

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", "v", 0), ErrClosed)
	_, err = s.IncrementInWindow(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SetIfAbsent(ctx, "k", "v", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_InstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryStore()
	b := NewMemoryStore()

	require.NoError(t, a.Set(ctx, "k", "v", time.Minute))
	_, found, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, BackendMemory, a.Name())
}
