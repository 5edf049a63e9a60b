package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLimiter_BurstThenRefill(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	clock := newFakeClock()
	l := NewRedisLimiter(newTestRedisClient(t, mr), DefaultConfig(), WithRedisClock(clock.Now))

	ctx := context.Background()
	for i := 0; i < DefaultBurstCapacity; i++ {
		res, err := l.TryAcquire(ctx, "10.0.0.1", 1)
		require.NoError(t, err)
		require.Truef(t, res.Allowed, "request %d should pass", i+1)
	}

	res, err := l.TryAcquire(ctx, "10.0.0.1", 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Second, res.RetryAfter)
	assert.Equal(t, time.Minute, res.ResetAfter)

	clock.Advance(time.Second)

	res, err = l.TryAcquire(ctx, "10.0.0.1", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.True(t, mr.Exists(DefaultRedisPrefix+"10.0.0.1"))
}

func TestRedisLimiter_Prefix(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	l := NewRedisLimiter(newTestRedisClient(t, mr), DefaultConfig(), WithRedisPrefix("custom:"))

	res, err := l.TryAcquire(context.Background(), "k", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, DefaultBurstCapacity-1, res.Remaining)
	assert.True(t, mr.Exists("custom:k"))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := newTestRedisClient(t, mr)
	l := NewRedisLimiter(client, DefaultConfig())
	mr.Close()

	res, err := l.TryAcquire(context.Background(), "k", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, -1, res.Remaining)
}

func TestRedisLimiter_ParseScriptResult(t *testing.T) {
	t.Parallel()

	l := NewRedisLimiter(nil, DefaultConfig())

	tests := []struct {
		name    string
		raw     interface{}
		wantErr bool
	}{
		{name: "valid", raw: []interface{}{int64(1), int64(59), int64(1000), int64(0)}},
		{name: "wrong type", raw: "nope", wantErr: true},
		{name: "short", raw: []interface{}{int64(1)}, wantErr: true},
		{name: "bad element", raw: []interface{}{int64(1), "x", int64(0), int64(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := l.parseScriptResult(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 59, res.Remaining)
			assert.Equal(t, time.Second, res.ResetAfter)
		})
	}
}
