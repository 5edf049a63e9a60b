package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, RouteFromContext(ctx))
	assert.Nil(t, URIVariablesFromContext(ctx))
	assert.Zero(t, ElapsedTime(ctx))

	start := time.Now().Add(-time.Second)
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithRoute(ctx, "users")
	ctx = ContextWithURIVariables(ctx, map[string]string{"id": "5"})
	ctx = ContextWithStartTime(ctx, start)

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "users", RouteFromContext(ctx))
	assert.Equal(t, "5", URIVariablesFromContext(ctx)["id"])
	assert.Equal(t, start, StartTimeFromContext(ctx))
	assert.GreaterOrEqual(t, ElapsedTime(ctx), time.Second)
}
