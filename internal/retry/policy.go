package retry

import (
	"context"
	"time"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

// Route retry defaults: first delay 10ms, doubling, capped at 50ms.
const (
	DefaultRouteFirstBackoff = 10 * time.Millisecond
	DefaultRouteMaxBackoff   = 50 * time.Millisecond
	DefaultRouteFactor       = 2.0
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy defines a retry policy for one route.
type Policy struct {
	// Name labels metrics and log entries, usually the route id.
	Name string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Backoff computes the delay before each retry.
	Backoff Backoff

	// RetryOn is a list of conditions that trigger a retry.
	RetryOn []RetryCondition

	// Logger for logging retry attempts.
	Logger observability.Logger

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep SleepFunc
}

// NewRoutePolicy returns the policy attached to a route with retry=n:
// every status series plus 404 and every non-permanent error is retried.
func NewRoutePolicy(name string, retries int) *Policy {
	return &Policy{
		Name:       name,
		MaxRetries: retries,
		Backoff:    NewExponentialBackoff(DefaultRouteFirstBackoff, DefaultRouteMaxBackoff, DefaultRouteFactor, 0),
		RetryOn: []RetryCondition{
			RetryOnSeries(AllSeries...),
			RetryOnStatusCodes(404),
			RetryOnErrors(),
		},
	}
}

// WithBackoff sets the backoff strategy.
func (p *Policy) WithBackoff(b Backoff) *Policy {
	p.Backoff = b
	return p
}

// WithRetryOn sets the retry conditions.
func (p *Policy) WithRetryOn(conditions ...RetryCondition) *Policy {
	p.RetryOn = conditions
	return p
}

// WithLogger sets the logger.
func (p *Policy) WithLogger(logger observability.Logger) *Policy {
	p.Logger = logger
	return p
}

// WithSleep replaces the wait between attempts.
func (p *Policy) WithSleep(sleep SleepFunc) *Policy {
	p.Sleep = sleep
	return p
}

// ExecuteWithStatusCode runs fn, retrying while a condition matches and
// retries remain. When retries are exhausted the last result, status and
// error are returned unchanged so the caller sees the final outcome.
func (p *Policy) ExecuteWithStatusCode(
	ctx context.Context,
	fn func(ctx context.Context) (interface{}, int, error),
) (result interface{}, statusCode int, err error) {
	start := time.Now()
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}

		result, statusCode, err = fn(ctx)

		if attempt >= maxRetries || !p.shouldRetry(err, statusCode) {
			break
		}

		wait := p.backoff().Next(attempt)
		RecordRetryAttempt(p.Name, attempt+1)
		RecordBackoffDuration(p.Name, wait)

		if p.Logger != nil {
			p.Logger.Debug("retrying request",
				observability.String("route_id", p.Name),
				observability.Int("attempt", attempt+1),
				observability.Int("max_retries", maxRetries),
				observability.Int("status_code", statusCode),
				observability.Duration("wait", wait),
				observability.Error(err),
			)
		}

		if sleepErr := p.sleep(ctx, wait); sleepErr != nil {
			return nil, 0, sleepErr
		}
	}

	if maxRetries > 0 {
		RecordRetryDuration(p.Name, err == nil, time.Since(start))
	}
	return result, statusCode, err
}

// shouldRetry checks if the outcome should be retried.
func (p *Policy) shouldRetry(err error, statusCode int) bool {
	if err != nil && IsPermanent(err) {
		return false
	}
	if len(p.RetryOn) == 0 {
		return err != nil
	}
	for _, condition := range p.RetryOn {
		if condition.ShouldRetry(err, statusCode) {
			return true
		}
	}
	return false
}

func (p *Policy) backoff() Backoff {
	if p.Backoff == nil {
		return NewExponentialBackoff(DefaultRouteFirstBackoff, DefaultRouteMaxBackoff, DefaultRouteFactor, 0)
	}
	return p.Backoff
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
