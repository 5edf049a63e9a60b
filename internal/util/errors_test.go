package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		field          string
		message        string
		cause          error
		expectedString string
	}{
		{
			name:           "with field",
			field:          "store.type",
			message:        "unsupported store type",
			expectedString: "config error at store.type: unsupported store type",
		},
		{
			name:           "without field",
			message:        "invalid configuration",
			expectedString: "config error: invalid configuration",
		},
		{
			name:           "with cause",
			field:          "server.address",
			message:        "invalid address",
			cause:          errors.New("missing port"),
			expectedString: "config error at server.address: invalid address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var err *ConfigError
			if tt.cause != nil {
				err = NewConfigErrorWithCause(tt.field, tt.message, tt.cause)
			} else {
				err = NewConfigError(tt.field, tt.message)
			}

			assert.Equal(t, tt.expectedString, err.Error())
			assert.Equal(t, tt.cause, err.Unwrap())
			assert.ErrorIs(t, err, ErrConfigInvalid)
		})
	}
}

func TestDefinitionError(t *testing.T) {
	t.Parallel()

	err := NewDefinitionError("users", "headers", "X-Bad", "missing ':' separator")
	assert.Equal(t, `route "users": invalid headers "X-Bad": missing ':' separator`, err.Error())
	assert.ErrorIs(t, err, ErrInvalidRoute)

	cause := errors.New("bad regex")
	wrapped := NewDefinitionErrorWithCause("users", "path", "/(", "cannot compile", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "bad regex")

	var target *DefinitionError
	assert.True(t, errors.As(fmt.Errorf("compile: %w", wrapped), &target))
	assert.Equal(t, "path", target.Field)
}

func TestBodyEvaluationError(t *testing.T) {
	t.Parallel()

	err := NewBodyEvaluationError("foo", "bar", nil)
	assert.ErrorIs(t, err, ErrBodyEvaluation)
	assert.Contains(t, err.Error(), `unexpected mode "foo"`)

	cause := errors.New("missing closing )")
	withCause := NewBodyEvaluationError("matches", "(", cause)
	assert.ErrorIs(t, withCause, cause)
	assert.Contains(t, withCause.Error(), "matches")
}

func TestRateLimitError(t *testing.T) {
	t.Parallel()

	err := NewRateLimitError("10.0.0.1", 60, 0, time.Second)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "10.0.0.1")
}

func TestCircuitOpenError(t *testing.T) {
	t.Parallel()

	err := NewCircuitOpenError("users-cb", "open", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "circuit breaker users-cb is open", err.Error())

	err.Fallback = true
	assert.Contains(t, err.Error(), "fallback served")
}

func TestHTTPStatusFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "rate limited", err: NewRateLimitError("k", 1, 0, 0), want: http.StatusTooManyRequests},
		{name: "circuit open", err: NewCircuitOpenError("cb", "open", nil), want: http.StatusServiceUnavailable},
		{name: "timeout", err: NewTimeoutError("dispatch", time.Second), want: http.StatusGatewayTimeout},
		{name: "backend", err: NewBackendError("http://up", "refused"), want: http.StatusBadGateway},
		{name: "body evaluation", err: NewBodyEvaluationError("x", "y", nil), want: http.StatusInternalServerError},
		{name: "not found", err: NewRouteNotFoundError("GET", "/"), want: http.StatusNotFound},
		{name: "canceled", err: context.Canceled, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HTTPStatusFromError(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, WrapError(nil, "context"))

	base := errors.New("boom")
	wrapped := WrapError(base, "fetch routes")
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "fetch routes: boom", wrapped.Error())
}
