package retry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// recordingSleep records requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestRoutePolicy_SucceedsOnFourthAttempt(t *testing.T) {
	t.Parallel()

	rec := &recordingSleep{}
	policy := NewRoutePolicy("users", 3).WithSleep(rec.sleep).WithLogger(observability.NopLogger())

	calls := 0
	result, status, err := policy.ExecuteWithStatusCode(context.Background(),
		func(context.Context) (interface{}, int, error) {
			calls++
			if calls <= 3 {
				return nil, 0, util.NewBackendError("http://up", "connection refused")
			}
			return "ok", http.StatusOK, nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, rec.delays)
}

func TestRoutePolicy_BackoffCappedAt50ms(t *testing.T) {
	t.Parallel()

	rec := &recordingSleep{}
	policy := NewRoutePolicy("users", 5).WithSleep(rec.sleep)

	_, _, err := policy.ExecuteWithStatusCode(context.Background(),
		func(context.Context) (interface{}, int, error) {
			return nil, 0, errors.New("boom")
		})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}, rec.delays)
}

func TestRoutePolicy_ReturnsLastResponseWhenExhausted(t *testing.T) {
	t.Parallel()

	rec := &recordingSleep{}
	policy := NewRoutePolicy("users", 2).WithSleep(rec.sleep)

	calls := 0
	result, status, err := policy.ExecuteWithStatusCode(context.Background(),
		func(context.Context) (interface{}, int, error) {
			calls++
			return calls, http.StatusServiceUnavailable, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, result)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, 3, calls)
}

func TestRoutePolicy_PermanentErrorsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "rate limited", err: util.NewRateLimitError("10.0.0.1", 60, 0, time.Second)},
		{name: "body evaluation", err: util.NewBodyEvaluationError("foo", "bar", nil)},
		{name: "invalid route", err: util.NewDefinitionError("r", "rewritePath", "x", "missing ':'")},
		{name: "canceled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &recordingSleep{}
			calls := 0
			_, _, err := NewRoutePolicy("r", 3).WithSleep(rec.sleep).ExecuteWithStatusCode(context.Background(),
				func(context.Context) (interface{}, int, error) {
					calls++
					return nil, 0, tt.err
				})

			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, rec.delays)
		})
	}
}

func TestPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := NewRoutePolicy("r", 3).WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	_, _, err := policy.ExecuteWithStatusCode(ctx, func(context.Context) (interface{}, int, error) {
		calls++
		return nil, 0, errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicy_RealSleep(t *testing.T) {
	t.Parallel()

	policy := NewRoutePolicy("r", 1)
	start := time.Now()
	_, status, err := policy.ExecuteWithStatusCode(context.Background(),
		func(context.Context) (interface{}, int, error) {
			return nil, http.StatusNotFound, nil
		})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPolicy_CustomConditions(t *testing.T) {
	t.Parallel()

	rec := &recordingSleep{}
	policy := NewRoutePolicy("r", 3).
		WithSleep(rec.sleep).
		WithRetryOn(RetryOnSeries(SeriesServerError))

	calls := 0
	_, status, err := policy.ExecuteWithStatusCode(context.Background(),
		func(context.Context) (interface{}, int, error) {
			calls++
			if calls == 1 {
				return nil, http.StatusBadGateway, nil
			}
			return nil, http.StatusOK, nil
		})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, calls)
}
