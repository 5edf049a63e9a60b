// Package proxy forwards a shaped exchange to its target.
//
// http and https targets are called with a pooled HTTP client. forward:
// targets are served in-process by a local handler, which is how
// circuit breaker fallbacks such as forward:/fallback are answered.
// Responses are fully buffered so that policies can inspect and retry
// them.
package proxy
