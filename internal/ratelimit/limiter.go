// Package ratelimit implements fixed-window rate limiting over a kv.Store.
//
// A counter key lives for exactly one window: the first increment creates it
// and arms its TTL, later increments in the same window only count. Bursts of
// up to twice the limit across a window edge are accepted.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/formgate/internal/kv"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

var checksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "formgate",
		Subsystem: "ratelimit",
		Name:      "checks_total",
		Help:      "Total number of rate limit checks by scope and outcome",
	},
	[]string{"scope", "outcome"},
)

// Rule is a single rate limit dimension.
type Rule struct {
	// Key is the counter key, usually built with Key.
	Key string

	// Limit is the number of requests allowed per window.
	Limit int

	// Window is the window length.
	Window time.Duration
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Limited is true when the request exceeds the limit.
	Limited bool

	// Remaining is the number of requests left in the window.
	Remaining int

	// RetryAfterSeconds is the time until the window resets, rounded up and
	// at least 1.
	RetryAfterSeconds int

	// Key is the counter key of the rule that produced this result.
	Key string
}

// Limiter checks rules against a store.
type Limiter struct {
	store  kv.Store
	logger observability.Logger
}

// New creates a limiter over store.
func New(store kv.Store, logger observability.Logger) *Limiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Limiter{store: store, logger: logger}
}

// Check increments the counter for rule and reports whether it is over the
// limit.
func (l *Limiter) Check(ctx context.Context, rule Rule) (Result, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Result{}, fmt.Errorf("invalid rate limit rule for %q: limit %d window %s",
			rule.Key, rule.Limit, rule.Window)
	}

	wc, err := l.store.IncrementInWindow(ctx, rule.Key, rule.Window)
	if err != nil {
		checksTotal.WithLabelValues(scopeLabel(rule.Key), "error").Inc()
		return Result{}, fmt.Errorf("rate limit %s: %w", rule.Key, err)
	}

	res := Result{
		Limited:           wc.Count > int64(rule.Limit),
		Remaining:         remaining(rule.Limit, wc.Count),
		RetryAfterSeconds: retryAfterSeconds(wc.TTLRemaining),
		Key:               rule.Key,
	}

	outcome := "allowed"
	if res.Limited {
		outcome = "limited"
		l.logger.Debug("rate limit exceeded",
			observability.String("key", rule.Key),
			observability.Int64("count", wc.Count),
			observability.Int("limit", rule.Limit),
		)
	}
	checksTotal.WithLabelValues(scopeLabel(rule.Key), outcome).Inc()
	return res, nil
}

// CheckAll evaluates rules in order and stops at the first limited one. When
// none is limited it returns the result with the smallest remaining quota.
func (l *Limiter) CheckAll(ctx context.Context, rules ...Rule) (Result, error) {
	var (
		best Result
		seen bool
	)
	for _, rule := range rules {
		res, err := l.Check(ctx, rule)
		if err != nil {
			return Result{}, err
		}
		if res.Limited {
			return res, nil
		}
		if !seen || res.Remaining < best.Remaining {
			best, seen = res, true
		}
	}
	return best, nil
}

func remaining(limit int, count int64) int {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return int(r)
}

func retryAfterSeconds(ttl time.Duration) int {
	secs := int(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
