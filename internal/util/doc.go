// Package util provides shared helpers for the route engine.
//
// It contains the error taxonomy (definition, body-evaluation,
// backend, rate-limit and circuit-breaker errors), context helpers
// for request-scoped values, hop-by-hop header handling and small
// validation functions used by the route model.
//
//	ctx = util.ContextWithRequestID(ctx, "req-123")
//	status := util.HTTPStatusFromError(err)
package util
