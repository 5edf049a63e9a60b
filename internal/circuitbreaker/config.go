// Package circuitbreaker keeps the named circuit breakers used by the
// CircuitBreaker route action. Breakers are backed by sony/gobreaker and
// live in a Registry that outlives routing table rebuilds, so a breaker
// keeps its state when the route that references it is recompiled.
package circuitbreaker

import (
	"time"
)

// Config holds the settings applied to every breaker a Registry creates.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before going half-open.
	OpenTimeout time.Duration

	// Interval is the cyclic period in the closed state after which counts
	// are cleared. Zero never clears them.
	Interval time.Duration

	// HalfOpenMaxRequests is the number of trial requests allowed half-open.
	HalfOpenMaxRequests int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		OpenTimeout:         60 * time.Second,
		Interval:            0,
		HalfOpenMaxRequests: 10,
	}
}

// WithDefaults fills invalid fields with their defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold < 1 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout < time.Millisecond {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.Interval < 0 {
		c.Interval = d.Interval
	}
	if c.HalfOpenMaxRequests < 1 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	return c
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
