package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// fakeUpstream records calls and answers with a fixed status. Calls to
// forward: targets are answered as a local fallback endpoint.
type fakeUpstream struct {
	status    int
	err       error
	calls     atomic.Int32
	fallbacks atomic.Int32

	mu   sync.Mutex
	seen []*Exchange
}

func (u *fakeUpstream) handle(_ context.Context, ex *Exchange) (*Response, error) {
	u.mu.Lock()
	u.seen = append(u.seen, ex)
	u.mu.Unlock()

	if ex.Target != nil && ex.Target.Scheme == util.ForwardScheme {
		u.fallbacks.Add(1)
		resp := NewResponse(http.StatusOK)
		resp.Header.Set("Content-Type", "text/plain")
		resp.Body = []byte("Fallback API")
		return resp, nil
	}

	u.calls.Add(1)
	if u.err != nil {
		return nil, u.err
	}
	resp := NewResponse(u.status)
	resp.Body = []byte("upstream")
	return resp, nil
}

func (u *fakeUpstream) last() *Exchange {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.seen[len(u.seen)-1]
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestExchange(t *testing.T, method, target string, vars map[string]string) *Exchange {
	t.Helper()

	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "10.1.2.3:4567"
	u, err := url.Parse("http://upstream:8080")
	require.NoError(t, err)
	return NewExchange(r, "users", u, nil, vars)
}

func compileChain(t *testing.T, def *route.Definition) *Chain {
	t.Helper()

	chain, err := NewCompiler(DefaultSettings()).Compile(def)
	require.NoError(t, err)
	return chain
}

func TestChain_HeadersAndStatus(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain := compileChain(t, &route.Definition{
		RouteIdentifier: "users",
		Path:            "/users/{id}",
		RequestHeaders:  []string{"X-User-Id:{id}", "X-Static:yes"},
		ResponseHeaders: []string{"X-Served-By:routegw"},
		SetStatus:       route.IntPtr(http.StatusAccepted),
	})

	ex := newTestExchange(t, http.MethodGet, "/users/42", map[string]string{"id": "42"})
	resp, err := chain.Handler(up.handle, nil)(context.Background(), ex)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "routegw", resp.Header.Get("X-Served-By"))

	sent := up.last()
	assert.Equal(t, "42", sent.Header.Get("X-User-Id"))
	assert.Equal(t, "yes", sent.Header.Get("X-Static"))
	assert.Empty(t, ex.Header.Get("X-User-Id"), "the caller's exchange is not modified")
}

func TestChain_RewritePath(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain := compileChain(t, &route.Definition{
		RouteIdentifier: "users",
		Path:            "/api/**",
		RewritePath:     "/api/(?P<segment>.*):/${segment}",
	})

	ex := newTestExchange(t, http.MethodGet, "/api/users/7?x=1", nil)
	_, err := chain.Handler(up.handle, nil)(context.Background(), ex)
	require.NoError(t, err)

	assert.Equal(t, "/users/7", up.last().Path)
	assert.Equal(t, "x=1", up.last().RawQuery)
	assert.Equal(t, "/api/users/7", ex.Path)
}

func TestChain_RewritePathErrorFailsRequest(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain := compileChain(t, &route.Definition{RouteIdentifier: "users", Path: "/", RewritePath: "/(broken"})

	resp, err := chain.Handler(up.handle, nil)(context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, util.ErrInvalidRoute)
	assert.Equal(t, http.StatusInternalServerError, util.HTTPStatusFromError(err))
	assert.Equal(t, int32(0), up.calls.Load())
}

func TestChain_RetryBackoffSequence(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusServiceUnavailable}
	sleeps := &recordingSleep{}
	chain := compileChain(t, &route.Definition{RouteIdentifier: "users", Path: "/", Retry: route.IntPtr(3)})

	resp, err := chain.Handler(up.handle, &Runtime{Sleep: sleeps.sleep})(
		context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(4), up.calls.Load())
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, sleeps.delays)
}

func TestChain_RetryTransportErrors(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{err: util.NewBackendError("upstream", "connection refused")}
	sleeps := &recordingSleep{}
	chain := compileChain(t, &route.Definition{RouteIdentifier: "users", Path: "/", Retry: route.IntPtr(2)})

	_, err := chain.Handler(up.handle, &Runtime{Sleep: sleeps.sleep})(
		context.Background(), newTestExchange(t, http.MethodPost, "/", nil))
	assert.ErrorIs(t, err, util.ErrBackendUnavail)
	assert.Equal(t, int32(3), up.calls.Load())
}

func TestChain_RateLimiter(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain, err := NewCompiler(Settings{
		RateLimit: ratelimit.Config{ReplenishRate: 1, BurstCapacity: 2, RequestedTokens: 1},
	}).Compile(&route.Definition{RouteIdentifier: "users", Path: "/", RequestRateLimiter: true})
	require.NoError(t, err)

	limiter := ratelimit.NewLocalLimiter(ratelimit.Config{ReplenishRate: 1, BurstCapacity: 2})
	t.Cleanup(func() { _ = limiter.Close() })
	h := chain.Handler(up.handle, &Runtime{Limiter: limiter})

	ctx := context.Background()
	resp, err := h(ctx, newTestExchange(t, http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(HeaderRateLimitRemaining))
	assert.Equal(t, "2", resp.Header.Get(HeaderRateLimitBurstCapacity))

	_, err = h(ctx, newTestExchange(t, http.MethodGet, "/", nil))
	require.NoError(t, err)

	resp, err = h(ctx, newTestExchange(t, http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, util.ErrRateLimited)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get(HeaderRateLimitRemaining))
	assert.Equal(t, "1", resp.Header.Get(HeaderRateLimitReplenishRate))
	assert.Equal(t, "1", resp.Header.Get(HeaderRateLimitRequestedTokens))
	assert.Equal(t, int32(2), up.calls.Load(), "rejected request must not reach the upstream")
}

func TestChain_RateLimitRejectionIsNotRetried(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain := compileChain(t, &route.Definition{
		RouteIdentifier:    "users",
		Path:               "/",
		Retry:              route.IntPtr(3),
		RequestRateLimiter: true,
	})

	sleeps := &recordingSleep{}
	rejecting := rejectAll{}
	resp, err := chain.Handler(up.handle, &Runtime{Limiter: rejecting, Sleep: sleeps.sleep})(
		context.Background(), newTestExchange(t, http.MethodGet, "/", nil))

	assert.ErrorIs(t, err, util.ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, int32(0), up.calls.Load())
}

type rejectAll struct{}

func (rejectAll) TryAcquire(context.Context, string, int) (*ratelimit.Result, error) {
	return &ratelimit.Result{Allowed: false, Limit: 60, RetryAfter: time.Second}, nil
}

type brokenLimiter struct{}

func (brokenLimiter) TryAcquire(context.Context, string, int) (*ratelimit.Result, error) {
	return nil, errors.New("limiter down")
}

func TestChain_RateLimiterErrorAllows(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain := compileChain(t, &route.Definition{RouteIdentifier: "users", Path: "/", RequestRateLimiter: true})

	resp, err := chain.Handler(up.handle, &Runtime{Limiter: brokenLimiter{}})(
		context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChain_CircuitBreakerTripsAndDiverts(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusServiceUnavailable}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 3, OpenTimeout: time.Hour})
	chain := compileChain(t, &route.Definition{
		RouteIdentifier: "users",
		Path:            "/",
		CircuitBreaker: &route.CircuitBreakerPolicy{
			Name:        "users-cb",
			FallbackURI: "forward:/fallback",
			StatusCodes: []string{"SERVICE_UNAVAILABLE", "504"},
		},
	})
	h := chain.Handler(up.handle, &Runtime{Breakers: breakers})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resp, err := h(ctx, newTestExchange(t, http.MethodGet, "/", nil))
		var openErr *util.CircuitOpenError
		require.ErrorAs(t, err, &openErr)
		assert.True(t, openErr.Fallback)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "Fallback API", string(resp.Body))
	}
	assert.Equal(t, circuitbreaker.StateOpen, breakers.ForName("users-cb").State())

	resp, err := h(ctx, newTestExchange(t, http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, util.ErrCircuitOpen)
	assert.Equal(t, "Fallback API", string(resp.Body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	assert.Equal(t, int32(3), up.calls.Load(), "open circuit must not reach the upstream")
	assert.Equal(t, int32(4), up.fallbacks.Load())
	assert.Equal(t, "/fallback", up.last().Path)
}

func TestChain_CircuitBreakerResumeWithoutError(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{err: util.NewBackendError("upstream", "connection refused")}
	chain := compileChain(t, &route.Definition{
		RouteIdentifier: "users",
		Path:            "/",
		CircuitBreaker: &route.CircuitBreakerPolicy{
			Name:               "resume-cb",
			FallbackURI:        "forward:/fallback",
			ResumeWithoutError: true,
		},
	})
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	resp, err := chain.Handler(up.handle, &Runtime{Breakers: breakers})(
		context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Fallback API", string(resp.Body))
}

func TestChain_CircuitBreakerWithoutFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		resume     bool
		wantStatus int
		wantErr    bool
	}{
		{name: "resume", resume: true, wantStatus: http.StatusOK},
		{name: "error", resume: false, wantStatus: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			up := &fakeUpstream{status: http.StatusInternalServerError}
			chain := compileChain(t, &route.Definition{
				RouteIdentifier: "users",
				Path:            "/",
				CircuitBreaker: &route.CircuitBreakerPolicy{
					Name:               "cb",
					StatusCodes:        []string{"500"},
					ResumeWithoutError: tt.resume,
				},
			})
			breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

			resp, err := chain.Handler(up.handle, &Runtime{Breakers: breakers})(
				context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Empty(t, resp.Body)
			if tt.wantErr {
				assert.ErrorIs(t, err, util.ErrCircuitOpen)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChain_CircuitBreakerPassesNonTriggerStatus(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusNotFound}
	chain := compileChain(t, &route.Definition{
		RouteIdentifier: "users",
		Path:            "/",
		CircuitBreaker:  &route.CircuitBreakerPolicy{Name: "cb", StatusCodes: []string{"503"}},
	})

	resp, err := chain.Handler(up.handle, &Runtime{Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())})(
		context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "upstream", string(resp.Body))
}

func TestChain_CircuitBreakerDeferredError(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{status: http.StatusOK}
	chain := compileChain(t, &route.Definition{
		RouteIdentifier: "users",
		Path:            "/",
		CircuitBreaker:  &route.CircuitBreakerPolicy{Name: "cb", FallbackURI: "ftp://nope"},
	})

	_, err := chain.Handler(up.handle, nil)(context.Background(), newTestExchange(t, http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, util.ErrInvalidRoute)
	assert.Equal(t, int32(0), up.calls.Load())
}

func TestResponse_Write(t *testing.T) {
	t.Parallel()

	resp := NewResponse(http.StatusCreated)
	resp.Header.Add("X-A", "1")
	resp.Header.Add("X-A", "2")
	resp.Body = []byte("hello")

	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "abc")
	require.NoError(t, resp.Write(rec))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"1", "2"}, rec.Header().Values("X-A"))
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestExpandVariables(t *testing.T) {
	t.Parallel()

	vars := map[string]string{"id": "42", "sub": "eu"}
	assert.Equal(t, "user-42@eu", expandVariables("user-{id}@{sub}", vars))
	assert.Equal(t, "{missing}", expandVariables("{missing}", vars))
	assert.Equal(t, "plain", expandVariables("plain", nil))
}
