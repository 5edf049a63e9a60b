// Package observability provides the logging, metrics and tracing used
// across the route engine.
//
// Logging goes through the Logger interface backed by zap. Metrics live
// on a dedicated Prometheus registry exposed by Metrics.Handler; other
// packages register their own collectors on Metrics.Registry(). Tracing
// is optional and exports over OTLP/gRPC when enabled.
package observability
