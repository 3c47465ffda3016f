// Package kv provides the key-value abstraction shared by the rate limiter
// and the idempotency coordinator.
//
// Two backends implement Store:
//
//   - RedisStore: durable, shared between processes (go-redis)
//   - MemoryStore: process-scoped fallback used when no durable store is
//     configured
//
// A Resolver picks the backend for each request and reports the first use of
// the fallback.
//
// Every mutation that other components depend on for correctness goes through
// an atomic primitive (SetIfAbsent, IncrementInWindow, CompareAndDelete).
// Callers never compose a read and a write across two calls.
package kv

import (
	"context"
	"errors"
	"time"
)

// Backend names reported by Store.Name.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var (
	// ErrStoreUnavailable is returned by Resolver.Resolve when a durable store
	// is required but not configured.
	ErrStoreUnavailable = errors.New("durable key-value store unavailable")

	// ErrNotInteger is returned when a counter key holds a non-integer value.
	ErrNotInteger = errors.New("value is not an integer")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// WindowCount is the result of IncrementInWindow.
type WindowCount struct {
	// Count is the counter value after the increment.
	Count int64

	// TTLRemaining is the time left before the counter expires.
	TTLRemaining time.Duration
}

// Store is a map of string values with per-key TTL.
type Store interface {
	// Get returns the value for key. found is false when the key is absent or
	// expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent stores value only if key does not exist. It reports whether
	// this call created the entry.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if it currently holds expected. It
	// reports whether the key was removed.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// IncrementInWindow atomically increments the counter at key. The TTL is
	// armed to window when the key is created, or re-armed when the existing
	// key has no TTL.
	IncrementInWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Name returns the backend name.
	Name() string

	// Close releases resources held by the store.
	Close() error
}
