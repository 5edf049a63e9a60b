package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream returned 503")

func TestRegistry_ForNameReturnsSameBreaker(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())

	a := r.ForName("users-cb")
	b := r.ForName("users-cb")
	c := r.ForName("orders-cb")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "users-cb", a.Name())
	assert.Equal(t, []string{"orders-cb", "users-cb"}, r.Names())
}

func TestRegistry_ConcurrentForName(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())

	var wg sync.WaitGroup
	results := make([]Breaker, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.ForName("shared")
		}(i)
	}
	wg.Wait()

	for _, b := range results {
		assert.Same(t, results[0], b)
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		transitions []string
	)
	r := NewRegistry(
		Config{FailureThreshold: 3, OpenTimeout: time.Hour},
		WithStateChangeCallback(func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	b := r.ForName("users-cb")

	calls := 0
	failing := func() (interface{}, error) {
		calls++
		return nil, errUpstream
	}

	for i := 0; i < 3; i++ {
		_, err := b.Execute(failing)
		require.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Execute(failing)
	assert.True(t, IsRejection(err))
	assert.Equal(t, 3, calls, "open circuit must not call the dependency")

	mu.Lock()
	assert.Equal(t, []string{"closed->open"}, transitions)
	mu.Unlock()

	assert.Equal(t, StateOpen, r.States()["users-cb"])
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	b := r.ForName("cb")

	fail := func() (interface{}, error) { return nil, errUpstream }
	ok := func() (interface{}, error) { return "ok", nil }

	_, _ = b.Execute(fail)
	got, err := b.Execute(ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	_, _ = b.Execute(fail)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	b := r.ForName("cb")

	_, err := b.Execute(func() (interface{}, error) { return nil, context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond, HalfOpenMaxRequests: 1})
	b := r.ForName("cb")

	_, _ = b.Execute(func() (interface{}, error) { return nil, errUpstream })
	require.Equal(t, StateOpen, b.State())

	assert.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	_, err := b.Execute(func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestRegistry_Remove(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	b := r.ForName("cb")
	_, _ = b.Execute(func() (interface{}, error) { return nil, errUpstream })
	require.Equal(t, StateOpen, b.State())

	r.Remove("cb")
	assert.Empty(t, r.Names())
	assert.Equal(t, StateClosed, r.ForName("cb").State())
}

func TestRegistry_Retain(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	r.ForName("users-cb")
	r.ForName("orders-cb")
	r.ForName("legacy-cb")

	removed := r.Retain(map[string]struct{}{"users-cb": {}, "unused-cb": {}})
	assert.Equal(t, []string{"legacy-cb", "orders-cb"}, removed)
	assert.Equal(t, []string{"users-cb"}, r.Names())

	assert.Empty(t, r.Retain(map[string]struct{}{"users-cb": {}}))
	assert.Equal(t, []string{"users-cb"}, r.Retain(nil))
	assert.Empty(t, r.Names())
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultConfig(), Config{}.WithDefaults())

	custom := Config{FailureThreshold: 2, OpenTimeout: time.Second, Interval: time.Minute, HalfOpenMaxRequests: 1}
	assert.Equal(t, custom, custom.WithDefaults())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateHalfOpen, "half-open"},
		{StateOpen, "open"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestSafeIntToUint32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), safeIntToUint32(-1))
	assert.Equal(t, uint32(7), safeIntToUint32(7))
}
