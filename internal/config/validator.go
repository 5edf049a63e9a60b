package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/vyrodovalexey/routegw/internal/retry"
	"github.com/vyrodovalexey/routegw/internal/util"
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// Validate checks cfg and returns a *util.ValidationError listing every
// invalid field, or nil.
func Validate(cfg *Config) error {
	if cfg == nil {
		return util.NewValidationError("configuration is nil")
	}

	v := util.NewValidationError("invalid gateway configuration")

	validateAddress(v, "server.address", cfg.Server.Address)
	if cfg.Server.MaxBodySize < 0 {
		v.AddField("server.maxBodySize", "must not be negative")
	}
	if cfg.Admin.Enabled {
		validateAddress(v, "admin.address", cfg.Admin.Address)
	}
	if cfg.Metrics.Enabled {
		validateAddress(v, "metrics.address", cfg.Metrics.Address)
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			v.AddField("metrics.path", "must start with /")
		}
	}

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		v.AddField("logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level))
	}
	if !validLogFormats[strings.ToLower(cfg.Logging.Format)] {
		v.AddField("logging.format", fmt.Sprintf("unknown format %q", cfg.Logging.Format))
	}

	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		v.AddField("tracing.samplingRate", "must be between 0 and 1")
	}

	switch cfg.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if cfg.Store.Redis.Address == "" {
			v.AddField("store.redis.address", "required for the redis store")
		}
	case StoreSQLite:
		if cfg.Store.SQLite.Path == "" {
			v.AddField("store.sqlite.path", "required for the sqlite store")
		}
	default:
		v.AddField("store.type", fmt.Sprintf("unknown store %q", cfg.Store.Type))
	}

	validateRateLimiter(v, &cfg.RateLimiter)

	if cfg.CircuitBreaker.FailureThreshold < 1 {
		v.AddField("circuitBreaker.failureThreshold", "must be at least 1")
	}
	if cfg.CircuitBreaker.OpenTimeout < 0 {
		v.AddField("circuitBreaker.openTimeout", "must not be negative")
	}
	if cfg.CircuitBreaker.HalfOpenMaxRequests < 1 {
		v.AddField("circuitBreaker.halfOpenMaxRequests", "must be at least 1")
	}

	validateRetry(v, &cfg.Retry)

	if cfg.Routing.CompileWorkers < 1 {
		v.AddField("routing.compileWorkers", "must be at least 1")
	}
	if cfg.Routing.RefreshInterval < 0 {
		v.AddField("routing.refreshInterval", "must not be negative")
	}
	if cfg.Upstream.Timeout < 0 {
		v.AddField("upstream.timeout", "must not be negative")
	}

	if v.HasErrors() {
		return v
	}
	return nil
}

func validateRateLimiter(v *util.ValidationError, rl *RateLimiterConfig) {
	switch rl.Backend {
	case LimiterLocal:
	case LimiterRedis:
		if rl.Redis.Address == "" {
			v.AddField("rateLimiter.redis.address", "required for the redis backend")
		}
	default:
		v.AddField("rateLimiter.backend", fmt.Sprintf("unknown backend %q", rl.Backend))
	}
	if rl.ReplenishRate < 1 {
		v.AddField("rateLimiter.replenishRate", "must be at least 1")
	}
	if rl.BurstCapacity < rl.ReplenishRate {
		v.AddField("rateLimiter.burstCapacity", "must not be lower than replenishRate")
	}
	if rl.RequestedTokens < 1 {
		v.AddField("rateLimiter.requestedTokens", "must be at least 1")
	}
	for i, cidr := range rl.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			v.AddField(fmt.Sprintf("rateLimiter.trustedProxies[%d]", i), "not an IP or CIDR")
		}
	}
}

func validateRetry(v *util.ValidationError, r *RetryConfig) {
	if r.FirstBackoff <= 0 {
		v.AddField("retry.firstBackoff", "must be positive")
	}
	if r.MaxBackoff < r.FirstBackoff {
		v.AddField("retry.maxBackoff", "must not be lower than firstBackoff")
	}
	if r.Factor < 1 {
		v.AddField("retry.factor", "must be at least 1")
	}
	for i, s := range r.Series {
		if _, err := retry.ParseSeries(s); err != nil {
			v.AddField(fmt.Sprintf("retry.series[%d]", i), err.Error())
		}
	}
	for i, code := range r.Statuses {
		if err := util.ValidateHTTPStatusCode(code); err != nil {
			v.AddField(fmt.Sprintf("retry.statuses[%d]", i), err.Error())
		}
	}
}

func validateAddress(v *util.ValidationError, field, addr string) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		v.AddField(field, fmt.Sprintf("invalid listen address %q", addr))
	}
}

// RetrySeries parses the configured retry series.
func (r *RetryConfig) RetrySeries() ([]retry.Series, error) {
	out := make([]retry.Series, 0, len(r.Series))
	for _, name := range r.Series {
		s, err := retry.ParseSeries(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
