package kv

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vyrodovalexey/formgate/internal/alert"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

// Config configures Open.
type Config struct {
	Redis RedisConfig

	// Required rejects requests instead of falling back when no durable store
	// is available.
	Required bool

	// SweepInterval is the fallback store sweep interval.
	SweepInterval time.Duration
}

// Resolver selects the store used by a request.
type Resolver struct {
	durable  Store
	fallback *MemoryStore
	required bool
	logger   observability.Logger
	alerter  alert.Alerter

	fallbackOnce sync.Once
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAlerter sets the alerter notified on the first fallback use.
func WithAlerter(a alert.Alerter) ResolverOption {
	return func(r *Resolver) {
		if a != nil {
			r.alerter = a
		}
	}
}

// NewResolver creates a resolver. durable may be nil. A nil fallback is
// replaced with a fresh MemoryStore.
func NewResolver(durable Store, fallback *MemoryStore, required bool, opts ...ResolverOption) *Resolver {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	r := &Resolver{
		durable:  durable,
		fallback: fallback,
		required: required,
		logger:   observability.NopLogger(),
		alerter:  alert.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open builds a resolver from cfg. A Redis store that cannot be reached at
// startup is kept only when Required is set; otherwise requests are served by
// the fallback.
func Open(ctx context.Context, cfg Config, logger observability.Logger, alerter alert.Alerter) *Resolver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	fallback := NewMemoryStore(WithSweepInterval(cfg.SweepInterval))
	opts := []ResolverOption{WithLogger(logger), WithAlerter(alerter)}

	if cfg.Redis.URL == "" {
		return NewResolver(nil, fallback, cfg.Required, opts...)
	}

	redisCfg := cfg.Redis
	redisCfg.Logger = logger
	store, err := NewRedisStore(redisCfg)
	if err != nil {
		logger.Error("invalid redis configuration", observability.Error(err))
		return NewResolver(nil, fallback, cfg.Required, opts...)
	}

	if err := store.WaitReady(ctx, redisCfg); err != nil {
		if !cfg.Required {
			logger.Error("redis unreachable, using in-memory store", observability.Error(err))
			_ = store.Close()
			return NewResolver(nil, fallback, cfg.Required, opts...)
		}
		logger.Error("redis unreachable at startup", observability.Error(err))
	} else {
		logger.Info("connected to redis", observability.String("prefix", store.prefix))
	}

	return NewResolver(store, fallback, cfg.Required, opts...)
}

// Resolve returns the store for the current request.
func (r *Resolver) Resolve(ctx context.Context) (Store, error) {
	if r.durable != nil {
		fallbackActive.Set(0)
		return r.durable, nil
	}
	if r.required {
		return nil, ErrStoreUnavailable
	}

	r.fallbackOnce.Do(func() {
		fallbackActive.Set(1)
		r.logger.Warn("no durable store configured, using in-memory store; " +
			"rate limits and idempotency are not shared across instances")
		r.alerter.Alert(ctx, alert.Event{
			Level: alert.LevelWarning,
			Text:  "formgate is using the in-memory key-value store",
		})
	})
	return r.fallback, nil
}

// Durable reports whether a durable store is configured.
func (r *Resolver) Durable() bool {
	return r.durable != nil
}

// Backend returns the name of the store Resolve would pick.
func (r *Resolver) Backend() string {
	if r.durable != nil {
		return r.durable.Name()
	}
	if r.required {
		return "none"
	}
	return r.fallback.Name()
}

// BreakerState returns the state of the durable store's circuit breaker, or
// "" when the durable store has none.
func (r *Resolver) BreakerState() string {
	if bs, ok := r.durable.(interface{ BreakerState() string }); ok {
		return bs.BreakerState()
	}
	return ""
}

// Ping checks the selected store.
func (r *Resolver) Ping(ctx context.Context) error {
	if r.durable != nil {
		return r.durable.Ping(ctx)
	}
	if r.required {
		return ErrStoreUnavailable
	}
	return r.fallback.Ping(ctx)
}

// Close closes both stores.
func (r *Resolver) Close() error {
	var errs []error
	if r.durable != nil {
		errs = append(errs, r.durable.Close())
	}
	errs = append(errs, r.fallback.Close())
	return errors.Join(errs...)
}
