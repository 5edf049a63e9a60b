// Package route holds the persisted route record and its helpers.
package route

import (
	"encoding/json"
	"strings"
	"time"
)

// Definition is a declarative route record: how to match a request and
// what to do with it on its way to the target.
type Definition struct {
	ID              string `yaml:"id" json:"id,omitempty"`
	RouteIdentifier string `yaml:"routeIdentifier" json:"routeIdentifier"`
	TargetURI       string `yaml:"targetUri" json:"targetUri"`
	Order           int    `yaml:"order,omitempty" json:"order,omitempty"`

	// Match fields.
	Method  string   `yaml:"method,omitempty" json:"method,omitempty"`
	Path    string   `yaml:"path" json:"path"`
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Host    string   `yaml:"host,omitempty" json:"host,omitempty"`
	Body    string   `yaml:"body,omitempty" json:"body,omitempty"`

	// Action fields.
	RequestHeaders     []string              `yaml:"requestHeaders,omitempty" json:"requestHeaders,omitempty"`
	ResponseHeaders    []string              `yaml:"responseHeaders,omitempty" json:"responseHeaders,omitempty"`
	Retry              *int                  `yaml:"retry,omitempty" json:"retry,omitempty"`
	RewritePath        string                `yaml:"rewritePath,omitempty" json:"rewritePath,omitempty"`
	RequestRateLimiter bool                  `yaml:"requestRateLimiter,omitempty" json:"requestRateLimiter"`
	SetStatus          *int                  `yaml:"setStatus,omitempty" json:"setStatus,omitempty"`
	CircuitBreaker     *CircuitBreakerPolicy `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`

	CreatedAt time.Time `yaml:"createdAt,omitempty" json:"createdAt,omitzero"`
	UpdatedAt time.Time `yaml:"updatedAt,omitempty" json:"updatedAt,omitzero"`
}

// CircuitBreakerPolicy configures the breaker guarding a route.
type CircuitBreakerPolicy struct {
	Name               string   `yaml:"name" json:"name"`
	FallbackURI        string   `yaml:"fallbackUri,omitempty" json:"fallbackUri,omitempty"`
	StatusCodes        []string `yaml:"statusCodes,omitempty" json:"statusCodes,omitempty"`
	RouteID            string   `yaml:"routeId,omitempty" json:"routeId,omitempty"`
	ResumeWithoutError bool     `yaml:"resumeWithoutError,omitempty" json:"resumeWithoutError"`
}

// Key returns the name the compiled route is published under.
func (d *Definition) Key() string {
	if d.RouteIdentifier != "" {
		return d.RouteIdentifier
	}
	return d.ID
}

// Clone returns a deep copy so stored records never alias caller slices.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Headers = cloneStrings(d.Headers)
	c.RequestHeaders = cloneStrings(d.RequestHeaders)
	c.ResponseHeaders = cloneStrings(d.ResponseHeaders)
	if d.Retry != nil {
		v := *d.Retry
		c.Retry = &v
	}
	if d.SetStatus != nil {
		v := *d.SetStatus
		c.SetStatus = &v
	}
	if d.CircuitBreaker != nil {
		cb := *d.CircuitBreaker
		cb.StatusCodes = cloneStrings(d.CircuitBreaker.StatusCodes)
		c.CircuitBreaker = &cb
	}
	return &c
}

// UnmarshalJSON accepts the legacy "uri" and "responseHeader" field names
// alongside the current ones.
func (d *Definition) UnmarshalJSON(data []byte) error {
	type plain Definition
	aux := struct {
		*plain
		URI            string   `json:"uri"`
		ResponseHeader []string `json:"responseHeader"`
	}{plain: (*plain)(d)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if d.TargetURI == "" {
		d.TargetURI = aux.URI
	}
	if len(d.ResponseHeaders) == 0 && len(aux.ResponseHeader) > 0 {
		d.ResponseHeaders = aux.ResponseHeader
	}
	return nil
}

// SplitKeyValue splits a "name:value" entry on its first colon and trims
// spaces around both parts, so "X-Env: prod" means value "prod".
// ok is false when the entry has no colon.
func SplitKeyValue(entry string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(entry, ":")
	if !ok {
		return entry, "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
