package circuitbreaker

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed lets requests through.
	StateClosed State = iota

	// StateHalfOpen lets a limited number of trial requests through.
	StateHalfOpen

	// StateOpen rejects requests.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// Breaker guards calls to one logical dependency.
type Breaker interface {
	// Name returns the registry name.
	Name() string

	// Execute runs fn unless the circuit rejects it. A non-nil error from
	// fn counts as a failure.
	Execute(fn func() (interface{}, error)) (interface{}, error)

	// State returns the current state.
	State() State
}

// IsRejection reports whether err comes from the breaker itself rather
// than from the guarded call.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type breaker struct {
	cb *gobreaker.CircuitBreaker
}

var _ Breaker = (*breaker)(nil)

func (b *breaker) Name() string {
	return b.cb.Name()
}

func (b *breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case IsRejection(err):
		getBreakerMetrics().requests.WithLabelValues(b.Name(), "rejected").Inc()
	case err != nil:
		getBreakerMetrics().requests.WithLabelValues(b.Name(), "failure").Inc()
	default:
		getBreakerMetrics().requests.WithLabelValues(b.Name(), "success").Inc()
	}
	return result, err
}

func (b *breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// isSuccessful keeps caller cancellations from counting against the dependency.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
