package kv

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/formgate/internal/breaker"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

const tracerName = "github.com/vyrodovalexey/formgate/internal/kv"

// DefaultKeyPrefix is prepended to every Redis key.
const DefaultKeyPrefix = "formgate:"

// incrementInWindowScript increments a counter and arms its TTL when the key
// is new or has lost its expiry.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
var incrementInWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if count == 1 or ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl}
`)

// compareAndDeleteScript deletes a key only if it holds the expected value.
// KEYS[1] = key
// ARGV[1] = expected value
var compareAndDeleteScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// Token overrides the password in URL when set.
	Token string

	// Prefix is prepended to every key.
	Prefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	// ConnectionRetries is the number of startup ping retries.
	ConnectionRetries int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	// BreakerThreshold is the number of consecutive failures that opens the
	// circuit breaker.
	BreakerThreshold int
	BreakerTimeout   time.Duration

	Logger observability.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:            DefaultKeyPrefix,
		DialTimeout:       2 * time.Second,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
		PoolSize:          10,
		ConnectionRetries: 2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BreakerThreshold:  breaker.DefaultThreshold,
		BreakerTimeout:    breaker.DefaultTimeout,
	}
}

// RedisStore implements Store using Redis.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	logger  observability.Logger
	breaker *breaker.Breaker

	mu     sync.Mutex
	closed bool
}

// NewRedisStore creates a Redis store from cfg. It fails only on an invalid
// URL; connectivity problems surface on each operation.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Token != "" {
		opts.Password = cfg.Token
	}
	applyPoolOptions(opts, cfg)

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: prefix,
		logger: logger.With(observability.String("component", "kv.redis")),
		breaker: breaker.New("kv-redis", cfg.BreakerThreshold, cfg.BreakerTimeout,
			breaker.WithLogger(logger),
			breaker.WithSuccessFunc(breaker.IsAbandoned),
		),
	}, nil
}

// BreakerState returns the state of the breaker guarding Redis calls.
func (s *RedisStore) BreakerState() string {
	return s.breaker.State()
}

func applyPoolOptions(opts *redis.Options, cfg RedisConfig) {
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
}

// Name implements Store.
func (s *RedisStore) Name() string { return BackendRedis }

// Get implements Store. A missing key is a miss, not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.do(ctx, "get", key, func(ctx context.Context) error {
		v, err := s.client.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.do(ctx, "set", key, func(ctx context.Context) error {
		return s.client.Set(ctx, s.key(key), value, positiveTTL(ttl)).Err()
	})
}

// SetIfAbsent implements Store with SET NX PX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var created bool
	err := s.do(ctx, "set_if_absent", key, func(ctx context.Context) error {
		ok, err := s.client.SetNX(ctx, s.key(key), value, positiveTTL(ttl)).Result()
		if err != nil {
			return err
		}
		created = ok
		return nil
	})
	return created, err
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.do(ctx, "delete", key, func(ctx context.Context) error {
		return s.client.Del(ctx, s.key(key)).Err()
	})
}

// CompareAndDelete implements Store.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	var deleted bool
	err := s.do(ctx, "compare_and_delete", key, func(ctx context.Context) error {
		n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.key(key)}, expected).Int64()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// IncrementInWindow implements Store.
func (s *RedisStore) IncrementInWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error) {
	var wc WindowCount
	err := s.do(ctx, "increment", key, func(ctx context.Context) error {
		res, err := incrementInWindowScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
		if err != nil {
			return err
		}
		if len(res) != 2 {
			return fmt.Errorf("unexpected increment reply of length %d", len(res))
		}
		wc.Count = res[0]
		if res[1] > 0 {
			wc.TTLRemaining = time.Duration(res[1]) * time.Millisecond
		}
		return nil
	})
	return wc, err
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", "", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// WaitReady pings Redis with decorrelated jitter backoff until it answers or
// the retries are exhausted.
func (s *RedisStore) WaitReady(ctx context.Context, cfg RedisConfig) error {
	retries := cfg.ConnectionRetries
	if retries < 0 {
		retries = 0
	}
	backoff := newDecorrelatedJitterBackoff(cfg.InitialBackoff, cfg.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
		lastErr = s.client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("redis connection established after retry",
					observability.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		if attempt == retries {
			break
		}

		wait := backoff.next()
		connectionRetries.Inc()
		s.logger.Debug("redis connection failed, retrying",
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("redis not reachable after %d attempts: %w", retries+1, lastErr)
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// do runs fn inside a span, the circuit breaker and the operation metrics.
func (s *RedisStore) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	if s.isClosed() {
		return ErrClosed
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "kv."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("kv.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, breaker.Abandoned(ctx, fn(ctx))
	})
	operationDuration.WithLabelValues(BackendRedis, op).Observe(time.Since(start).Seconds())

	if err != nil {
		operationsTotal.WithLabelValues(BackendRedis, op, "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		switch {
		case errors.Is(err, breaker.ErrOpen):
			s.logger.Debug("redis operation rejected by open breaker",
				observability.String("operation", op),
			)
		case breaker.IsAbandoned(err):
			s.logger.Debug("redis operation abandoned by caller",
				observability.String("operation", op),
				observability.Error(err),
			)
		default:
			s.logger.Error("redis operation failed",
				observability.String("operation", op),
				observability.String("key", key),
				observability.Error(err),
			)
		}
		return fmt.Errorf("redis %s: %w", op, err)
	}
	operationsTotal.WithLabelValues(BackendRedis, op, "success").Inc()
	return nil
}

func positiveTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

func dialTimeout(cfg RedisConfig) time.Duration {
	if cfg.DialTimeout > 0 {
		return cfg.DialTimeout
	}
	return 2 * time.Second
}

// decorrelatedJitterBackoff implements AWS-style decorrelated jitter backoff.
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
	rnd     *rand.Rand
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDuration < initial {
		maxDuration = initial
	}
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
}

// next returns min(max, random_between(initial, current*3)).
func (b *decorrelatedJitterBackoff) next() time.Duration {
	upper := b.current * 3
	if upper <= b.initial {
		upper = b.initial + 1
	}
	d := b.initial + time.Duration(b.rnd.Int63n(int64(upper-b.initial)))
	if d > b.max {
		d = b.max
	}
	b.current = d
	return d
}

var _ Store = (*RedisStore)(nil)
