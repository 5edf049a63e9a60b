package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// Series groups HTTP status codes by their first digit.
type Series int

// Status series.
const (
	SeriesInformational Series = 1
	SeriesSuccessful    Series = 2
	SeriesRedirection   Series = 3
	SeriesClientError   Series = 4
	SeriesServerError   Series = 5
)

// AllSeries lists every status series.
var AllSeries = []Series{
	SeriesInformational,
	SeriesSuccessful,
	SeriesRedirection,
	SeriesClientError,
	SeriesServerError,
}

var seriesNames = map[string]Series{
	"INFORMATIONAL": SeriesInformational,
	"SUCCESSFUL":    SeriesSuccessful,
	"REDIRECTION":   SeriesRedirection,
	"CLIENT_ERROR":  SeriesClientError,
	"SERVER_ERROR":  SeriesServerError,
}

// ParseSeries parses a series name such as "SERVER_ERROR".
func ParseSeries(name string) (Series, error) {
	s, ok := seriesNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown status series %q", name)
	}
	return s, nil
}

// SeriesOf returns the series a status code belongs to, or 0.
func SeriesOf(statusCode int) Series {
	if statusCode < 100 || statusCode > 599 {
		return 0
	}
	return Series(statusCode / 100)
}

// RetryCondition defines when a retry should be attempted.
type RetryCondition interface {
	// ShouldRetry returns true if the outcome should be retried.
	ShouldRetry(err error, statusCode int) bool
}

// StatusCodeCondition retries on specific HTTP status codes.
type StatusCodeCondition struct {
	codes map[int]bool
}

// RetryOnStatusCodes creates a condition that retries on specific HTTP status codes.
func RetryOnStatusCodes(statusCodes ...int) *StatusCodeCondition {
	codeMap := make(map[int]bool, len(statusCodes))
	for _, code := range statusCodes {
		codeMap[code] = true
	}
	return &StatusCodeCondition{codes: codeMap}
}

// ShouldRetry implements RetryCondition.
func (c *StatusCodeCondition) ShouldRetry(err error, statusCode int) bool {
	return err == nil && c.codes[statusCode]
}

// SeriesCondition retries on every status in the given series.
type SeriesCondition struct {
	series map[Series]bool
}

// RetryOnSeries creates a condition that retries on whole status series.
func RetryOnSeries(series ...Series) *SeriesCondition {
	m := make(map[Series]bool, len(series))
	for _, s := range series {
		m[s] = true
	}
	return &SeriesCondition{series: m}
}

// ShouldRetry implements RetryCondition.
func (c *SeriesCondition) ShouldRetry(err error, statusCode int) bool {
	return err == nil && c.series[SeriesOf(statusCode)]
}

// ErrorCondition retries on any error except the ones that must not be
// repeated: rate-limit rejections, body evaluation failures, invalid
// route configuration. Caller cancellation is handled by the policy
// through the context.
type ErrorCondition struct{}

// RetryOnErrors creates a condition that retries on transport and runtime errors.
func RetryOnErrors() *ErrorCondition {
	return &ErrorCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *ErrorCondition) ShouldRetry(err error, _ int) bool {
	return err != nil && !IsPermanent(err)
}

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, util.ErrRateLimited) ||
		errors.Is(err, util.ErrBodyEvaluation) ||
		errors.Is(err, util.ErrInvalidRoute) ||
		errors.Is(err, context.Canceled)
}
