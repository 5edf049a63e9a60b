package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Check is one named dependency probe.
type Check struct {
	name     string
	kind     string
	critical bool
	fn       func(ctx context.Context) error
}

// CheckOption configures a Check.
type CheckOption func(*Check)

// WithCritical sets whether a failure makes the process unhealthy.
// Checks are critical by default.
func WithCritical(critical bool) CheckOption {
	return func(c *Check) {
		c.critical = critical
	}
}

// NewCheck creates a check of the given kind.
func NewCheck(name, kind string, fn func(ctx context.Context) error, opts ...CheckOption) *Check {
	c := &Check{name: name, kind: kind, critical: true, fn: fn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the check name.
func (c *Check) Name() string { return c.name }

// IsCritical reports whether a failure makes the process unhealthy.
func (c *Check) IsCritical() bool { return c.critical }

// Run executes the probe and records its outcome.
func (c *Check) Run(ctx context.Context) error {
	err := c.fn(ctx)
	recordCheck(c.name, c.kind, err == nil)
	return err
}

// RedisCheck pings a Redis client.
func RedisCheck(name string, client redis.UniversalClient, opts ...CheckOption) *Check {
	return NewCheck(name, "redis", func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}, opts...)
}

// FuncCheck wraps an arbitrary probe.
func FuncCheck(name string, fn func(ctx context.Context) error, opts ...CheckOption) *Check {
	return NewCheck(name, "custom", fn, opts...)
}
