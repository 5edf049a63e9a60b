package policy

import (
	"fmt"
	"time"

	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/retry"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// Settings holds the gateway-wide parameters the compiler bakes into actions.
type Settings struct {
	RateLimit ratelimit.Config

	RetrySeries   []retry.Series
	RetryStatuses []int
	FirstBackoff  time.Duration
	MaxBackoff    time.Duration
	Factor        float64
}

// DefaultSettings retries every status series plus 404 with 10/20/40/50ms
// backoff and rate limits at 1/s with a burst of 60.
func DefaultSettings() Settings {
	return Settings{
		RateLimit:     ratelimit.DefaultConfig(),
		RetrySeries:   retry.AllSeries,
		RetryStatuses: []int{404},
		FirstBackoff:  retry.DefaultRouteFirstBackoff,
		MaxBackoff:    retry.DefaultRouteMaxBackoff,
		Factor:        retry.DefaultRouteFactor,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	s.RateLimit = s.RateLimit.WithDefaults()
	if s.RetrySeries == nil {
		s.RetrySeries = d.RetrySeries
	}
	if s.RetryStatuses == nil {
		s.RetryStatuses = d.RetryStatuses
	}
	if s.FirstBackoff <= 0 {
		s.FirstBackoff = d.FirstBackoff
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = d.MaxBackoff
	}
	if s.Factor < 1 {
		s.Factor = d.Factor
	}
	return s
}

// Compiler builds policy chains from route definitions.
type Compiler struct {
	settings Settings
}

// NewCompiler creates a Compiler.
func NewCompiler(settings Settings) *Compiler {
	return &Compiler{settings: settings.withDefaults()}
}

// Compile returns the chain for def. Actions appear in a fixed order:
// request headers, response headers, retry, path rewrite, rate limiter,
// status override, circuit breaker. Only malformed header entries fail.
func (c *Compiler) Compile(def *route.Definition) (*Chain, error) {
	key := def.Key()
	actions := make([]Action, 0, len(def.RequestHeaders)+len(def.ResponseHeaders)+5)

	for _, entry := range def.RequestHeaders {
		name, value, err := splitHeaderEntry(key, "requestHeaders", entry)
		if err != nil {
			return nil, err
		}
		actions = append(actions, AddRequestHeader{Name: name, Value: value})
	}

	for _, entry := range def.ResponseHeaders {
		name, value, err := splitHeaderEntry(key, "responseHeaders", entry)
		if err != nil {
			return nil, err
		}
		actions = append(actions, AddResponseHeader{Name: name, Value: value})
	}

	if def.Retry != nil {
		actions = append(actions, Retry{
			Retries:      max(*def.Retry, 0),
			Series:       c.settings.RetrySeries,
			Statuses:     c.settings.RetryStatuses,
			FirstBackoff: c.settings.FirstBackoff,
			MaxBackoff:   c.settings.MaxBackoff,
			Factor:       c.settings.Factor,
		})
	}

	if def.RewritePath != "" {
		actions = append(actions, newRewritePath(def.RewritePath))
	}

	if def.RequestRateLimiter {
		actions = append(actions, RequestRateLimiter{Config: c.settings.RateLimit})
	}

	if def.SetStatus != nil {
		actions = append(actions, SetStatus{Code: *def.SetStatus})
	}

	if def.CircuitBreaker != nil {
		actions = append(actions, newCircuitBreaker(key, def.CircuitBreaker))
	}

	return &Chain{routeID: key, actions: actions}, nil
}

func splitHeaderEntry(routeKey, field, entry string) (name, value string, err error) {
	name, value, ok := route.SplitKeyValue(entry)
	if !ok {
		return "", "", util.NewDefinitionError(routeKey, field, entry, "missing ':' separator")
	}
	if err := util.ValidateHeaderName(name); err != nil {
		return "", "", util.NewDefinitionErrorWithCause(routeKey, field, entry, "invalid header name", err)
	}
	return name, value, nil
}

func newCircuitBreaker(routeKey string, p *route.CircuitBreakerPolicy) CircuitBreaker {
	a := CircuitBreaker{
		Name:               p.Name,
		RouteID:            p.RouteID,
		ResumeWithoutError: p.ResumeWithoutError,
	}
	if a.Name == "" {
		a.Name = routeKey
	}
	if a.RouteID == "" {
		a.RouteID = routeKey
	}

	codes, err := p.TriggerCodes()
	if err != nil {
		a.Err = util.NewDefinitionErrorWithCause(routeKey, "circuitBreaker.statusCodes",
			fmt.Sprint(p.StatusCodes), "invalid status code", err)
		return a
	}
	a.TriggerCodes = codes

	if p.FallbackURI != "" {
		u, err := util.ValidateTargetURI(p.FallbackURI)
		if err != nil {
			a.Err = util.NewDefinitionErrorWithCause(routeKey, "circuitBreaker.fallbackUri",
				p.FallbackURI, "invalid fallback URI", err)
			return a
		}
		a.FallbackURI = u
	}

	return a
}
