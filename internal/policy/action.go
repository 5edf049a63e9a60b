// Package policy turns the action fields of a route definition into an
// ordered chain of traffic-shaping actions and interprets that chain
// around an upstream call.
//
// Actions are plain values. The compiler decides which actions a route
// has and in which order; Chain.Handler decides what each one does at
// request time, using the shared collaborators in a Runtime.
package policy

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/retry"
)

// Action is one step of a chain.
type Action interface {
	// Kind names the action type.
	Kind() string
	String() string
}

// AddRequestHeader adds a header to the upstream request.
type AddRequestHeader struct {
	Name  string
	Value string
}

// Kind implements Action.
func (AddRequestHeader) Kind() string { return "AddRequestHeader" }

func (a AddRequestHeader) String() string { return a.Kind() + "=" + a.Name + "," + a.Value }

// AddResponseHeader adds a header to the response.
type AddResponseHeader struct {
	Name  string
	Value string
}

// Kind implements Action.
func (AddResponseHeader) Kind() string { return "AddResponseHeader" }

func (a AddResponseHeader) String() string { return a.Kind() + "=" + a.Name + "," + a.Value }

// Retry repeats the rest of the chain.
type Retry struct {
	Retries  int
	Series   []retry.Series
	Statuses []int

	FirstBackoff time.Duration
	MaxBackoff   time.Duration
	Factor       float64
}

// Kind implements Action.
func (Retry) Kind() string { return "Retry" }

func (a Retry) String() string { return a.Kind() + "=" + strconv.Itoa(a.Retries) }

// RewritePath replaces the request path using a regular expression.
// Err is set when the entry could not be parsed; it is reported when the
// action runs, not when the route is compiled.
type RewritePath struct {
	Raw         string
	Regexp      *regexp.Regexp
	Replacement string
	Err         error
}

// Kind implements Action.
func (RewritePath) Kind() string { return "RewritePath" }

func (a RewritePath) String() string { return a.Kind() + "=" + a.Raw }

// newRewritePath parses "regex:replacement". Both "${name}" and the
// escaped "$\{name}" reference a named group.
func newRewritePath(raw string) RewritePath {
	a := RewritePath{Raw: raw}

	pattern, replacement, ok := strings.Cut(raw, ":")
	if !ok {
		a.Err = fmt.Errorf("rewritePath %q: missing ':' separator", raw)
		return a
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		a.Err = fmt.Errorf("rewritePath %q: %w", raw, err)
		return a
	}

	a.Regexp = re
	a.Replacement = strings.ReplaceAll(replacement, `$\`, "$")
	return a
}

// RequestRateLimiter takes tokens from the shared limiter before the
// request goes upstream.
type RequestRateLimiter struct {
	Config ratelimit.Config
}

// Kind implements Action.
func (RequestRateLimiter) Kind() string { return "RequestRateLimiter" }

func (a RequestRateLimiter) String() string {
	return fmt.Sprintf("%s=%d/s,burst=%d,cost=%d",
		a.Kind(), a.Config.ReplenishRate, a.Config.BurstCapacity, a.Config.RequestedTokens)
}

// SetStatus overrides the response status.
type SetStatus struct {
	Code int
}

// Kind implements Action.
func (SetStatus) Kind() string { return "SetStatus" }

func (a SetStatus) String() string { return a.Kind() + "=" + strconv.Itoa(a.Code) }

// CircuitBreaker guards the rest of the chain with a named breaker.
// Err is set when the policy could not be parsed; it is reported when the
// action runs.
type CircuitBreaker struct {
	Name               string
	RouteID            string
	FallbackURI        *url.URL
	TriggerCodes       map[int]struct{}
	ResumeWithoutError bool
	Err                error
}

// Kind implements Action.
func (CircuitBreaker) Kind() string { return "CircuitBreaker" }

func (a CircuitBreaker) String() string {
	s := a.Kind() + "=" + a.Name
	if a.FallbackURI != nil {
		s += ",fallback=" + a.FallbackURI.String()
	}
	return s
}

// trips reports whether status counts as a breaker failure.
func (a CircuitBreaker) trips(status int) bool {
	_, ok := a.TriggerCodes[status]
	return ok
}
