// Package breaker wraps sony/gobreaker for the outbound dependencies of the
// service: the Redis store and the upstream HTTP sinks.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/formgate/internal/observability"
)

// Default breaker settings.
const (
	DefaultThreshold = 5
	DefaultTimeout   = 10 * time.Second
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

var stateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "formgate",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

// Breaker trips after a run of consecutive failures and rejects calls until
// the timeout elapses.
type Breaker struct {
	cb           *gobreaker.CircuitBreaker
	logger       observability.Logger
	isSuccessful func(error) bool
}

// Option is a functional option for configuring a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger for state changes.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSuccessFunc marks errors that must not count as failures, such as a
// cache miss or a 4xx answer from an upstream.
func WithSuccessFunc(fn func(error) bool) Option {
	return func(b *Breaker) {
		b.isSuccessful = fn
	}
}

// New creates a breaker that opens after threshold consecutive failures and
// half-opens after timeout.
func New(name string, threshold int, timeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}

	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	thresholdU32 := safeIntToUint32(threshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= thresholdU32
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			stateGauge.WithLabelValues(name).Set(float64(stateValue(to)))
			b.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if b.isSuccessful != nil {
				return b.isSuccessful(err)
			}
			return false
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	stateGauge.WithLabelValues(name).Set(0)
	return b
}

// Execute runs fn through the breaker. A rejected call returns an error
// wrapping ErrOpen.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrOpen, err)
	}
	return res, err
}

// State returns the current state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// abandonedError wraps a failure that happened after the caller's context
// ended.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return e.err.Error() }

func (e *abandonedError) Unwrap() error { return e.err }

// Abandoned marks err as caused by the caller when ctx is already done. The
// result still matches the original error with errors.Is.
func Abandoned(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	return &abandonedError{err: err}
}

// IsAbandoned reports whether err was marked by Abandoned. Pass it to
// WithSuccessFunc so callers that go away do not trip the breaker.
func IsAbandoned(err error) bool {
	var ae *abandonedError
	return errors.As(err, &ae)
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
