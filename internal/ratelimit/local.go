package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

var (
	_ Limiter   = (*LocalLimiter)(nil)
	_ io.Closer = (*LocalLimiter)(nil)
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultEntryTTL        = 10 * time.Minute
)

// LocalLimiter keeps a golang.org/x/time/rate bucket per key.
// Call Close to stop the background cleanup goroutine.
type LocalLimiter struct {
	cfg    Config
	logger observability.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*clientEntry

	cleanupInterval time.Duration
	entryTTL        time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalOption configures a LocalLimiter.
type LocalOption func(*LocalLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LocalOption {
	return func(l *LocalLimiter) {
		l.now = now
	}
}

// WithEntryTTL sets how long an idle key is kept and how often idle keys are swept.
func WithEntryTTL(ttl, interval time.Duration) LocalOption {
	return func(l *LocalLimiter) {
		if ttl > 0 {
			l.entryTTL = ttl
		}
		if interval > 0 {
			l.cleanupInterval = interval
		}
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger observability.Logger) LocalOption {
	return func(l *LocalLimiter) {
		l.logger = logger
	}
}

// NewLocalLimiter creates a LocalLimiter and starts its cleanup loop.
func NewLocalLimiter(cfg Config, opts ...LocalOption) *LocalLimiter {
	l := &LocalLimiter{
		cfg:             cfg.WithDefaults(),
		logger:          observability.NopLogger(),
		now:             time.Now,
		buckets:         make(map[string]*clientEntry),
		cleanupInterval: defaultCleanupInterval,
		entryTTL:        defaultEntryTTL,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.cleanupLoop()

	return l
}

// TryAcquire implements Limiter.
func (l *LocalLimiter) TryAcquire(_ context.Context, key string, cost int) (*Result, error) {
	if cost <= 0 {
		cost = l.cfg.RequestedTokens
	}
	now := l.now()

	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.ReplenishRate), l.cfg.BurstCapacity),
		}
		l.buckets[key] = entry
		getLimiterMetrics().trackedKeys.Set(float64(len(l.buckets)))
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, cost)
	tokens := entry.limiter.TokensAt(now)
	l.mu.Unlock()

	getLimiterMetrics().decisions.WithLabelValues("local", decisionLabel(allowed)).Inc()

	result := &Result{
		Allowed:    allowed,
		Limit:      l.cfg.BurstCapacity,
		Remaining:  max(int(tokens), 0),
		ResetAfter: l.cfg.resetAfter(tokens),
	}
	if !allowed {
		result.RetryAfter = l.cfg.retryAfter(tokens, cost)
	}
	return result, nil
}

// Cleanup drops keys idle for longer than ttl.
func (l *LocalLimiter) Cleanup(ttl time.Duration) int {
	cutoff := l.now().Add(-ttl)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.buckets {
		if entry.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	getLimiterMetrics().trackedKeys.Set(float64(len(l.buckets)))
	return removed
}

// Size returns the number of tracked keys.
func (l *LocalLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the cleanup loop. Safe to call multiple times.
func (l *LocalLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

func (l *LocalLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := l.Cleanup(l.entryTTL); removed > 0 {
				l.logger.Debug("evicted idle rate limit keys",
					observability.Int("removed", removed),
					observability.Int("remaining", l.Size()),
				)
			}
		case <-l.stopCleanup:
			return
		}
	}
}
