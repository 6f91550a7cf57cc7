// Package ratelimit implements fixed-window rate limiting over an external
// counter store. A counter-and-expire pair is O(1) per check and needs no
// cleanup job; the cost is the known boundary-burst property (a client can
// emit up to 2x the limit across a window boundary), accepted as a testable
// behavior rather than a bug.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/metrics"
)

// CounterStore is the slice of the key-value store the limiter consumes.
// Both store.RedisStore and store.MemoryStore implement it.
type CounterStore interface {
	// IncrWindow increments the counter for key and, when this increment
	// created the counter, sets its expiry to window in the same atomic
	// step. Returns the post-increment count.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// SetFlag sets an expiring marker key.
	SetFlag(ctx context.Context, key string, ttl time.Duration) error

	// HasFlag reports whether a marker key exists.
	HasFlag(ctx context.Context, key string) (bool, error)
}

// Result is the outcome of a single limiter check.
type Result struct {
	Allowed      bool
	Remaining    int
	ResetSeconds int64
}

// Tier is one named limit. Callers compose tiers per operation and the first
// violated tier, in declared order, determines the user-facing message.
type Tier struct {
	Name    string
	Key     string
	Limit   int
	Window  time.Duration
	Message string
}

// Violation reports which tier rejected a request.
type Violation struct {
	Tier   Tier
	Result Result
}

// Limiter checks fixed-window counters against per-tier limits.
//
// When the counter store is unreachable the limiter fails OPEN: chat
// availability is prioritized over strict abuse prevention. The failure is
// logged and counted, never propagated.
type Limiter struct {
	store  CounterStore
	logger zerolog.Logger
}

// New creates a limiter over the given counter store.
func New(store CounterStore, logger zerolog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// Check increments the counter for key and reports whether the request is
// within limit. A non-positive limit or window disables limiting for that
// key class and always allows.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true}
	}

	count, err := l.store.IncrWindow(ctx, key, window)
	if err != nil {
		metrics.RateLimitStoreErrors.Inc()
		l.logger.Warn().
			Err(err).
			Str("key", key).
			Msg("counter store unavailable, failing open")
		return Result{Allowed: true, Remaining: limit, ResetSeconds: int64(window.Seconds())}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:      count <= int64(limit),
		Remaining:    remaining,
		ResetSeconds: int64(window.Seconds()),
	}
}

// Enforce evaluates tiers in declared order and returns the first violation,
// or nil when every tier allows. Every tier's counter is charged up to and
// including the violated one.
func (l *Limiter) Enforce(ctx context.Context, tiers ...Tier) *Violation {
	for _, tier := range tiers {
		res := l.Check(ctx, tier.Key, tier.Limit, tier.Window)
		if !res.Allowed {
			metrics.RateLimitHits.WithLabelValues(tier.Name).Inc()
			l.logger.Warn().
				Str("tier", tier.Name).
				Str("key", tier.Key).
				Msg("rate limit exceeded")
			return &Violation{Tier: tier, Result: res}
		}
	}
	return nil
}
