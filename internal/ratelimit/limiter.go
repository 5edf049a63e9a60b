// Package ratelimit provides the token-bucket limiters behind the
// RequestRateLimiter route action.
//
// Two backends implement Limiter: LocalLimiter keeps one bucket per key in
// process memory, RedisLimiter keeps buckets in Redis so that several
// gateway instances share one budget. Both refill at ReplenishRate tokens per
// second up to BurstCapacity.
package ratelimit

import (
	"context"
	"time"
)

// Defaults applied by RequestRateLimiter when the configuration is silent.
const (
	DefaultReplenishRate   = 1
	DefaultBurstCapacity   = 60
	DefaultRequestedTokens = 1
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// TryAcquire takes cost tokens from the bucket of key.
	TryAcquire(ctx context.Context, key string, cost int) (*Result, error)
}

// Result contains the outcome of a TryAcquire call.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the bucket capacity.
	Limit int

	// Remaining is the number of tokens left after the call.
	// A negative value means the backend could not tell.
	Remaining int

	// ResetAfter is the time until the bucket is full again.
	ResetAfter time.Duration

	// RetryAfter is the time until the rejected request could succeed.
	RetryAfter time.Duration
}

// Config holds the token bucket parameters.
type Config struct {
	ReplenishRate   int
	BurstCapacity   int
	RequestedTokens int
}

// DefaultConfig returns replenish 1/s, burst 60, cost 1.
func DefaultConfig() Config {
	return Config{
		ReplenishRate:   DefaultReplenishRate,
		BurstCapacity:   DefaultBurstCapacity,
		RequestedTokens: DefaultRequestedTokens,
	}
}

// WithDefaults fills zero fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.ReplenishRate <= 0 {
		c.ReplenishRate = DefaultReplenishRate
	}
	if c.BurstCapacity <= 0 {
		c.BurstCapacity = DefaultBurstCapacity
	}
	if c.RequestedTokens <= 0 {
		c.RequestedTokens = DefaultRequestedTokens
	}
	return c
}

// resetAfter returns how long a bucket holding tokens needs to refill.
func (c Config) resetAfter(tokens float64) time.Duration {
	missing := float64(c.BurstCapacity) - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(c.ReplenishRate) * float64(time.Second))
}

// retryAfter returns how long until cost tokens are available.
func (c Config) retryAfter(tokens float64, cost int) time.Duration {
	missing := float64(cost) - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(c.ReplenishRate) * float64(time.Second))
}

// NoopLimiter allows every request.
type NoopLimiter struct{}

// TryAcquire implements Limiter.
func (NoopLimiter) TryAcquire(_ context.Context, _ string, _ int) (*Result, error) {
	return &Result{Allowed: true, Limit: -1, Remaining: -1}, nil
}
