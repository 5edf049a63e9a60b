package policy

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/routegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/retry"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// Rate limit response headers.
const (
	HeaderRateLimitRemaining       = "X-RateLimit-Remaining"
	HeaderRateLimitReplenishRate   = "X-RateLimit-Replenish-Rate"
	HeaderRateLimitBurstCapacity   = "X-RateLimit-Burst-Capacity"
	HeaderRateLimitRequestedTokens = "X-RateLimit-Requested-Tokens"
)

var uriVariablePattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Runtime holds the collaborators shared by every chain.
type Runtime struct {
	Limiter  ratelimit.Limiter
	Keys     *ratelimit.KeyResolver
	Breakers *circuitbreaker.Registry
	Metrics  *observability.Metrics
	Logger   observability.Logger

	// Sleep replaces the retry wait. Nil uses a real timer.
	Sleep retry.SleepFunc
}

func (rt *Runtime) withDefaults() *Runtime {
	c := Runtime{}
	if rt != nil {
		c = *rt
	}
	if c.Limiter == nil {
		c.Limiter = ratelimit.NoopLimiter{}
	}
	if c.Keys == nil {
		c.Keys = ratelimit.NewKeyResolver(nil)
	}
	if c.Breakers == nil {
		c.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger()
	}
	return &c
}

// Chain is the ordered list of actions of one route.
type Chain struct {
	routeID string
	actions []Action
}

// NewChain builds a chain from actions.
func NewChain(routeID string, actions ...Action) *Chain {
	return &Chain{routeID: routeID, actions: actions}
}

// Actions returns a copy of the actions in execution order.
func (c *Chain) Actions() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// Len returns the number of actions.
func (c *Chain) Len() int {
	return len(c.actions)
}

func (c *Chain) String() string {
	parts := make([]string, len(c.actions))
	for i, a := range c.actions {
		parts[i] = a.String()
	}
	return strings.Join(parts, " -> ")
}

// Handler wraps final with the chain. The first action is the outermost.
// final is also used to serve circuit breaker fallbacks.
func (c *Chain) Handler(final Handler, rt *Runtime) Handler {
	rt = rt.withDefaults()
	h := final
	for i := len(c.actions) - 1; i >= 0; i-- {
		h = c.wrap(c.actions[i], h, final, rt)
	}
	return h
}

func (c *Chain) wrap(action Action, next, final Handler, rt *Runtime) Handler {
	switch a := action.(type) {
	case AddRequestHeader:
		return addRequestHeader(a, next)
	case AddResponseHeader:
		return addResponseHeader(a, next)
	case Retry:
		return retryHandler(a, next, rt)
	case RewritePath:
		return rewritePath(a, next)
	case RequestRateLimiter:
		return rateLimit(a, next, rt)
	case SetStatus:
		return setStatus(a, next)
	case CircuitBreaker:
		return circuitBreak(a, next, final, rt)
	default:
		rt.Logger.Warn("ignoring unknown policy action",
			observability.String("route_id", c.routeID),
			observability.String("action", action.Kind()),
		)
		return next
	}
}

func addRequestHeader(a AddRequestHeader, next Handler) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		out := ex.Clone()
		out.Header.Add(a.Name, expandVariables(a.Value, ex.Vars))
		return next(ctx, out)
	}
}

func addResponseHeader(a AddResponseHeader, next Handler) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		resp, err := next(ctx, ex)
		if resp != nil {
			if resp.Header == nil {
				resp.Header = make(http.Header)
			}
			resp.Header.Add(a.Name, expandVariables(a.Value, ex.Vars))
		}
		return resp, err
	}
}

func retryHandler(a Retry, next Handler, rt *Runtime) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		p := retry.NewRoutePolicy(ex.RouteID, a.Retries).
			WithBackoff(retry.NewExponentialBackoff(a.FirstBackoff, a.MaxBackoff, a.Factor, 0)).
			WithRetryOn(
				retry.RetryOnSeries(a.Series...),
				retry.RetryOnStatusCodes(a.Statuses...),
				retry.RetryOnErrors(),
			).
			WithLogger(rt.Logger)
		if rt.Sleep != nil {
			p = p.WithSleep(rt.Sleep)
		}

		out, _, err := p.ExecuteWithStatusCode(ctx, func(ctx context.Context) (interface{}, int, error) {
			resp, err := next(ctx, ex)
			if resp == nil {
				return resp, 0, err
			}
			return resp, resp.StatusCode, err
		})
		resp, _ := out.(*Response)
		return resp, err
	}
}

func rewritePath(a RewritePath, next Handler) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		if a.Err != nil {
			return nil, util.NewDefinitionErrorWithCause(ex.RouteID, "rewritePath", a.Raw, "cannot rewrite path", a.Err)
		}
		out := ex.Clone()
		out.Path = a.Regexp.ReplaceAllString(ex.Path, a.Replacement)
		return next(ctx, out)
	}
}

func rateLimit(a RequestRateLimiter, next Handler, rt *Runtime) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		key := rt.Keys.Resolve(ex.Inbound)

		result, err := rt.Limiter.TryAcquire(ctx, key, a.Config.RequestedTokens)
		if err != nil {
			rt.Logger.Warn("rate limiter failed, allowing request",
				observability.String("route_id", ex.RouteID),
				observability.String("key", key),
				observability.Error(err),
			)
			return next(ctx, ex)
		}

		if !result.Allowed {
			if rt.Metrics != nil {
				rt.Metrics.RecordRateLimitHit(ex.RouteID)
			}
			rt.Logger.Debug("rate limit exceeded",
				observability.String("route_id", ex.RouteID),
				observability.String("key", key),
			)
			resp := NewResponse(http.StatusTooManyRequests)
			setRateLimitHeaders(resp.Header, a.Config, result)
			return resp, util.NewRateLimitError(key, result.Limit, result.Remaining, result.RetryAfter)
		}

		resp, err := next(ctx, ex)
		if resp != nil {
			if resp.Header == nil {
				resp.Header = make(http.Header)
			}
			setRateLimitHeaders(resp.Header, a.Config, result)
		}
		return resp, err
	}
}

func setRateLimitHeaders(h http.Header, cfg ratelimit.Config, result *ratelimit.Result) {
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
	h.Set(HeaderRateLimitReplenishRate, strconv.Itoa(cfg.ReplenishRate))
	h.Set(HeaderRateLimitBurstCapacity, strconv.Itoa(cfg.BurstCapacity))
	h.Set(HeaderRateLimitRequestedTokens, strconv.Itoa(cfg.RequestedTokens))
}

func setStatus(a SetStatus, next Handler) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		resp, err := next(ctx, ex)
		if err == nil && resp != nil {
			resp.StatusCode = a.Code
		}
		return resp, err
	}
}

// statusFailure marks a response whose status is a breaker trigger.
type statusFailure struct {
	status int
}

func (e *statusFailure) Error() string {
	return "upstream returned trigger status " + strconv.Itoa(e.status)
}

func circuitBreak(a CircuitBreaker, next, final Handler, rt *Runtime) Handler {
	return func(ctx context.Context, ex *Exchange) (*Response, error) {
		if a.Err != nil {
			return nil, a.Err
		}

		b := rt.Breakers.ForName(a.Name)
		out, err := b.Execute(func() (interface{}, error) {
			resp, err := next(ctx, ex)
			if err == nil && resp != nil && a.trips(resp.StatusCode) {
				return resp, &statusFailure{status: resp.StatusCode}
			}
			return resp, err
		})
		resp, _ := out.(*Response)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) {
			return resp, err
		}

		if rt.Metrics != nil {
			rt.Metrics.RecordFallback(ex.RouteID, a.Name)
		}
		rt.Logger.Debug("circuit breaker diverting request",
			observability.String("route_id", ex.RouteID),
			observability.String("breaker", a.Name),
			observability.String("state", b.State().String()),
			observability.Error(err),
		)

		return fallback(ctx, a, ex, final, b.State(), err)
	}
}

func fallback(
	ctx context.Context,
	a CircuitBreaker,
	ex *Exchange,
	final Handler,
	state circuitbreaker.State,
	cause error,
) (*Response, error) {
	if a.FallbackURI == nil {
		if a.ResumeWithoutError {
			return NewResponse(http.StatusOK), nil
		}
		return NewResponse(http.StatusServiceUnavailable), util.NewCircuitOpenError(a.Name, state.String(), cause)
	}

	fb := ex.Clone()
	fb.Target = a.FallbackURI
	fb.Path = util.ForwardPath(a.FallbackURI)
	fb.RawQuery = a.FallbackURI.RawQuery

	resp, err := final(ctx, fb)
	if err != nil {
		return resp, util.NewCircuitOpenError(a.Name, state.String(), err)
	}
	if a.ResumeWithoutError {
		return resp, nil
	}

	degraded := NewResponse(http.StatusServiceUnavailable)
	if resp != nil {
		degraded.Header = resp.Header.Clone()
		degraded.Body = resp.Body
	}
	openErr := util.NewCircuitOpenError(a.Name, state.String(), cause)
	openErr.Fallback = true
	return degraded, openErr
}

// expandVariables replaces {name} with the predicate variable of that name.
// Unknown names are left as they are.
func expandVariables(value string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(value, "{") {
		return value
	}
	return uriVariablePattern.ReplaceAllStringFunc(value, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}
