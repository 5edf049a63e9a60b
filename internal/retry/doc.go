// Package retry provides retry policies with exponential backoff.
//
// A route with retry=n gets NewRoutePolicy(id, n): up to n retries after
// the first attempt, retried on any status series and on 404 as well as
// on transport errors, with delays of 10ms, 20ms, 40ms, then 50ms. Each
// delay is computed from the base, not from the previous one.
// Rate-limit rejections, body evaluation failures and cancellation are
// never retried.
//
// Do retries calls to external services such as the Redis route store
// with jittered backoff.
package retry
