package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/formgate/internal/kv"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

// Default TTLs.
const (
	DefaultLockTTL   = 60 * time.Second
	DefaultResultTTL = 10 * time.Minute
)

var outcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "formgate",
		Subsystem: "idempotency",
		Name:      "outcomes_total",
		Help:      "Total number of idempotency outcomes by scope",
	},
	[]string{"scope", "outcome"},
)

// State is the result of Begin.
type State int

const (
	// StateAcquired means the caller holds the lock and must Commit or
	// Rollback.
	StateAcquired State = iota

	// StateReplay means a committed result exists.
	StateReplay

	// StateInProgress means another request holds the lock.
	StateInProgress
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAcquired:
		return "acquired"
	case StateReplay:
		return "replay"
	case StateInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Token identifies an acquired lock.
type Token struct {
	Scope     string
	CacheKey  string
	LockKey   string
	LockValue string
	ResultTTL time.Duration
}

// Outcome is returned by Begin.
type Outcome struct {
	State State

	// Envelope is set for StateReplay.
	Envelope Envelope

	// Token is set for StateAcquired.
	Token *Token
}

// Coordinator runs the lock-then-commit protocol against a store.
type Coordinator struct {
	store  kv.Store
	logger observability.Logger
	newID  func() string
}

// New creates a coordinator over store.
func New(store kv.Store, logger observability.Logger) *Coordinator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Coordinator{
		store:  store,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Begin starts processing of (scope, key).
func (c *Coordinator) Begin(ctx context.Context, scope, key string, lockTTL, resultTTL time.Duration) (Outcome, error) {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	cacheKey := ResultKey(scope, key)
	lockKey := LockKey(scope, key)

	env, found, err := c.loadResult(ctx, cacheKey)
	if err != nil {
		return Outcome{}, err
	}
	if found {
		return c.outcome(scope, Outcome{State: StateReplay, Envelope: env}), nil
	}

	lockValue := c.newID()
	acquired, err := c.store.SetIfAbsent(ctx, lockKey, lockValue, lockTTL)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire idempotency lock: %w", err)
	}
	if acquired {
		return c.outcome(scope, Outcome{
			State: StateAcquired,
			Token: &Token{
				Scope:     scope,
				CacheKey:  cacheKey,
				LockKey:   lockKey,
				LockValue: lockValue,
				ResultTTL: resultTTL,
			},
		}), nil
	}

	// The holder may have committed between the first read and the lock
	// attempt.
	env, found, err = c.loadResult(ctx, cacheKey)
	if err != nil {
		return Outcome{}, err
	}
	if found {
		return c.outcome(scope, Outcome{State: StateReplay, Envelope: env}), nil
	}
	return c.outcome(scope, Outcome{State: StateInProgress}), nil
}

// Commit stores env as the result for token and releases the lock.
func (c *Coordinator) Commit(ctx context.Context, token *Token, env Envelope) error {
	if token == nil {
		return nil
	}
	raw, err := env.encode()
	if err != nil {
		return err
	}

	written, err := c.store.SetIfAbsent(ctx, token.CacheKey, raw, token.ResultTTL)
	if err != nil {
		// A failed write must not leave the lock held.
		writeErr := fmt.Errorf("store idempotent result: %w", err)
		if relErr := c.release(ctx, token); relErr != nil {
			return errors.Join(writeErr, relErr)
		}
		outcomesTotal.WithLabelValues(token.Scope, "commit_failed").Inc()
		return writeErr
	}
	if !written {
		c.logger.Warn("idempotent result already committed",
			observability.String("key", token.CacheKey),
		)
	}

	if err := c.release(ctx, token); err != nil {
		return err
	}
	outcomesTotal.WithLabelValues(token.Scope, "committed").Inc()
	return nil
}

// Rollback releases the lock without storing a result, so the key can be
// reused.
func (c *Coordinator) Rollback(ctx context.Context, token *Token) error {
	if token == nil {
		return nil
	}
	if err := c.release(ctx, token); err != nil {
		return err
	}
	outcomesTotal.WithLabelValues(token.Scope, "rolled_back").Inc()
	return nil
}

func (c *Coordinator) release(ctx context.Context, token *Token) error {
	released, err := c.store.CompareAndDelete(ctx, token.LockKey, token.LockValue)
	if err != nil {
		return fmt.Errorf("release idempotency lock: %w", err)
	}
	if !released {
		c.logger.Warn("idempotency lock expired before release",
			observability.String("key", token.LockKey),
		)
	}
	return nil
}

// loadResult reads a committed envelope. A corrupt envelope is treated as
// absent and removed so that the next commit can replace it.
func (c *Coordinator) loadResult(ctx context.Context, cacheKey string) (Envelope, bool, error) {
	raw, found, err := c.store.Get(ctx, cacheKey)
	if err != nil {
		return Envelope{}, false, fmt.Errorf("read idempotent result: %w", err)
	}
	if !found {
		return Envelope{}, false, nil
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		c.logger.Warn("ignoring corrupt idempotent result",
			observability.String("key", cacheKey),
			observability.Error(err),
		)
		if _, delErr := c.store.CompareAndDelete(ctx, cacheKey, raw); delErr != nil {
			c.logger.Warn("failed to remove corrupt idempotent result", observability.Error(delErr))
		}
		return Envelope{}, false, nil
	}
	return env, true, nil
}

func (c *Coordinator) outcome(scope string, o Outcome) Outcome {
	outcomesTotal.WithLabelValues(scope, o.State.String()).Inc()
	return o
}
