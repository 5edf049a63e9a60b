package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

var _ Limiter = (*RedisLimiter)(nil)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "routegw:ratelimit:"

// tokenBucketScript refills and takes tokens atomically.
// KEYS[1] = bucket key
// ARGV = replenish rate, burst capacity, now in ms, requested tokens
// Returns: allowed (0 or 1), remaining tokens, reset in ms, retry in ms
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'ts')
	local tokens = tonumber(data[1])
	local last = tonumber(data[2])

	if tokens == nil or last == nil then
		tokens = burst
		last = now
	end

	local elapsed = math.max(0, now - last) / 1000.0
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_ms = 0
	if tokens >= requested then
		tokens = tokens - requested
		allowed = 1
	else
		retry_ms = math.ceil((requested - tokens) / rate * 1000)
	end

	redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
	redis.call('PEXPIRE', key, math.ceil(burst / rate * 1000) * 2)

	local reset_ms = math.ceil((burst - tokens) / rate * 1000)

	return {allowed, math.floor(tokens), reset_ms, retry_ms}
`)

// RedisLimiter keeps token buckets in Redis so that gateway instances share
// one budget per key. Redis failures let the request through.
type RedisLimiter struct {
	client redis.Scripter
	cfg    Config
	prefix string
	logger observability.Logger
	now    func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(l *RedisLimiter) {
		l.logger = logger
	}
}

// WithRedisClock replaces time.Now for the timestamp passed to the script.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		l.now = now
	}
}

// NewRedisLimiter creates a RedisLimiter over client.
func NewRedisLimiter(client redis.Scripter, cfg Config, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		cfg:    cfg.WithDefaults(),
		prefix: DefaultRedisPrefix,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire implements Limiter.
func (l *RedisLimiter) TryAcquire(ctx context.Context, key string, cost int) (*Result, error) {
	if cost <= 0 {
		cost = l.cfg.RequestedTokens
	}

	start := time.Now()
	raw, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key},
		l.cfg.ReplenishRate, l.cfg.BurstCapacity, l.now().UnixMilli(), cost,
	).Result()
	getLimiterMetrics().redisDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		var result *Result
		result, err = l.parseScriptResult(raw)
		if err == nil {
			getLimiterMetrics().decisions.WithLabelValues("redis", decisionLabel(result.Allowed)).Inc()
			return result, nil
		}
	}

	getLimiterMetrics().redisErrors.Inc()
	getLimiterMetrics().decisions.WithLabelValues("redis", "fail_open").Inc()
	l.logger.Warn("redis rate limiter unavailable, allowing request",
		observability.String("key", key),
		observability.Error(err),
	)

	return &Result{Allowed: true, Limit: l.cfg.BurstCapacity, Remaining: -1}, nil
}

func (l *RedisLimiter) parseScriptResult(raw interface{}) (*Result, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected token bucket result %v", raw)
	}

	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected token bucket value %v at %d", v, i)
		}
		ints[i] = n
	}

	return &Result{
		Allowed:    ints[0] == 1,
		Limit:      l.cfg.BurstCapacity,
		Remaining:  int(ints[1]),
		ResetAfter: time.Duration(ints[2]) * time.Millisecond,
		RetryAfter: time.Duration(ints[3]) * time.Millisecond,
	}, nil
}
