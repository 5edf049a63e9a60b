package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/routegw/internal/compiler"
	"github.com/vyrodovalexey/routegw/internal/policy"
	"github.com/vyrodovalexey/routegw/internal/proxy"
	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/table"
)

type staticSource []*route.Definition

func (s staticSource) FindAll(context.Context) ([]*route.Definition, error) {
	return s, nil
}

func fallbackHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fallback", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Fallback API"))
	})
	return mux
}

func newTestDispatcher(t *testing.T, defs []*route.Definition, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	b := table.NewBuilder(staticSource(defs), compiler.New(nil, nil))
	_, err := b.Refresh(context.Background())
	require.NoError(t, err)

	upstream := proxy.New(proxy.WithLocalHandler(fallbackHandler()))
	return NewDispatcher(b, upstream.Forward, opts...)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestDispatcher_UsersRoute(t *testing.T) {
	t.Parallel()

	var gotPath atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte("orders"))
	}))
	defer backend.Close()

	d := newTestDispatcher(t, []*route.Definition{{
		RouteIdentifier: "users",
		Method:          http.MethodGet,
		Path:            "/users/**",
		TargetURI:       backend.URL,
	}})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/1/orders", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "orders", rec.Body.String())
	assert.Equal(t, "/users/1/orders", gotPath.Load())

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Contains(t, body.Error, "POST /users/1")
}

func TestDispatcher_RequestID(t *testing.T) {
	t.Parallel()

	var upstreamID atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		upstreamID.Store(r.Header.Get(HeaderRequestID))
	}))
	defer backend.Close()

	d := newTestDispatcher(t, []*route.Definition{{RouteIdentifier: "all", Path: "/**", TargetURI: backend.URL}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	d.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", upstreamID.Load())

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get(HeaderRequestID)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, upstreamID.Load())
}

func TestDispatcher_ShapesExchange(t *testing.T) {
	t.Parallel()

	var got *http.Request
	var gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer backend.Close()

	d := newTestDispatcher(t, []*route.Definition{{
		RouteIdentifier: "orders",
		Path:            "/api/orders/{id}",
		Body:            "contains:urgent",
		TargetURI:       backend.URL,
		RewritePath:     "/api/(?P<rest>.*):/${rest}",
		RequestHeaders:  []string{"X-Order:{id}"},
		ResponseHeaders: []string{"X-Served-By:routegw"},
		SetStatus:       route.IntPtr(http.StatusOK),
	}})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/7", strings.NewReader(`{"priority":"urgent"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "routegw", rec.Header().Get("X-Served-By"))
	require.NotNil(t, got)
	assert.Equal(t, "/orders/7", got.URL.Path)
	assert.Equal(t, "7", got.Header.Get("X-Order"))
	assert.Equal(t, `{"priority":"urgent"}`, gotBody)

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/7", strings.NewReader(`{"priority":"low"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatcher_BodyErrors(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, []*route.Definition{
		{RouteIdentifier: "bad-mode", Path: "/bad", Body: "fuzzy:x", TargetURI: "http://127.0.0.1:1"},
		{RouteIdentifier: "large", Path: "/large", Body: "contains:x", TargetURI: "http://127.0.0.1:1"},
	}, WithMaxBodySize(8))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bad", strings.NewReader("x")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/large", strings.NewReader(strings.Repeat("x", 32))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDispatcher_UpstreamDown(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.NotFoundHandler())
	addr := backend.URL
	backend.Close()

	d := newTestDispatcher(t, []*route.Definition{{RouteIdentifier: "down", Path: "/**", TargetURI: addr}})

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec).RequestID)
}

func TestDispatcher_CircuitBreakerDiverts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 3})
	d := newTestDispatcher(t, []*route.Definition{{
		RouteIdentifier: "flaky",
		Path:            "/flaky",
		TargetURI:       backend.URL,
		CircuitBreaker: &route.CircuitBreakerPolicy{
			Name:        "flaky-cb",
			StatusCodes: []string{"SERVICE_UNAVAILABLE"},
			FallbackURI: "forward:/fallback",
		},
	}}, WithRuntime(&policy.Runtime{Breakers: breakers}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flaky", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "Fallback API", rec.Body.String())
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, breakers.ForName("flaky-cb").State())
}

func TestDispatcher_RateLimited(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer backend.Close()

	now := time.Unix(1700000000, 0)
	limiter := ratelimit.NewLocalLimiter(
		ratelimit.Config{ReplenishRate: 1, BurstCapacity: 2, RequestedTokens: 1},
		ratelimit.WithClock(func() time.Time { return now }),
	)
	defer limiter.Close()

	d := newTestDispatcher(t, []*route.Definition{{
		RouteIdentifier:    "limited",
		Path:               "/**",
		TargetURI:          backend.URL,
		RequestRateLimiter: true,
	}}, WithRuntime(&policy.Runtime{Limiter: limiter}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestDispatcher_EmptyTable(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(table.NewBuilder(staticSource(nil), compiler.New(nil, nil)), proxy.New().Forward)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
