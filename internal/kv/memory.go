package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultSweepInterval is the minimum time between two sweeps of expired
// entries in a MemoryStore.
const DefaultSweepInterval = time.Minute

// memoryEntry represents a stored value with expiration.
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store with a mutex-guarded map.
//
// Nothing evicts entries from outside the process, so expired entries are
// purged by a sweep that runs during mutations at most once per sweep
// interval.
type MemoryStore struct {
	mu            sync.Mutex
	entries       map[string]memoryEntry
	now           func() time.Time
	sweepInterval time.Duration
	lastSweep     time.Time
	closed        bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepInterval sets the minimum time between sweeps.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

// Name implements Store.
func (s *MemoryStore) Name() string { return BackendMemory }

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false, ErrClosed
	}
	e, ok := s.lookup(key, s.now())
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	now := s.now()
	s.maybeSweep(now)
	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(now, ttl)}
	return nil
}

// SetIfAbsent implements Store.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	now := s.now()
	s.maybeSweep(now)
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(now, ttl)}
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.entries, key)
	return nil
}

// CompareAndDelete implements Store.
func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	e, ok := s.lookup(key, s.now())
	if !ok || e.value != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// IncrementInWindow implements Store.
func (s *MemoryStore) IncrementInWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error) {
	if err := ctx.Err(); err != nil {
		return WindowCount{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return WindowCount{}, ErrClosed
	}
	now := s.now()
	s.maybeSweep(now)

	e, ok := s.lookup(key, now)
	if !ok {
		e = memoryEntry{value: "1", expiresAt: expiry(now, window)}
		s.entries[key] = e
		return WindowCount{Count: 1, TTLRemaining: remaining(now, e.expiresAt)}, nil
	}

	count, err := parseCount(e.value)
	if err != nil {
		return WindowCount{}, err
	}
	count++
	e.value = strconv.FormatInt(count, 10)
	if e.expiresAt.IsZero() {
		e.expiresAt = expiry(now, window)
	}
	s.entries[key] = e

	return WindowCount{Count: count, TTLRemaining: remaining(now, e.expiresAt)}, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]memoryEntry)
	return nil
}

// Sweep removes all expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(s.now())
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// lookup returns the live entry for key and drops it if expired.
// Callers must hold s.mu.
func (s *MemoryStore) lookup(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// maybeSweep runs a sweep when the sweep interval has elapsed.
// Callers must hold s.mu.
func (s *MemoryStore) maybeSweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepInterval {
		return
	}
	s.sweep(now)
}

func (s *MemoryStore) sweep(now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	s.lastSweep = now
	return removed
}

func parseCount(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func remaining(now, expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

var _ Store = (*MemoryStore)(nil)
