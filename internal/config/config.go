package config

import "time"

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Rate limiter backends.
const (
	LimiterLocal = "local"
	LimiterRedis = "redis"
)

// Config is the root of the gateway configuration file.
type Config struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	Admin          AdminConfig          `yaml:"admin" json:"admin"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Tracing        TracingConfig        `yaml:"tracing" json:"tracing"`
	Store          StoreConfig          `yaml:"store" json:"store"`
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter" json:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	Routing        RoutingConfig        `yaml:"routing" json:"routing"`
	Upstream       UpstreamConfig       `yaml:"upstream" json:"upstream"`
}

// ServerConfig configures the proxy listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	// MaxBodySize bounds the request body buffered for body predicates
	// and retries.
	MaxBodySize int64 `yaml:"maxBodySize,omitempty" json:"maxBodySize,omitempty"`
}

// AdminConfig configures the management API listener.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`

	// RefreshOnChange rebuilds the routing table after every write
	// through the API instead of waiting for an explicit refresh.
	RefreshOnChange bool `yaml:"refreshOnChange,omitempty" json:"refreshOnChange,omitempty"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// StoreConfig selects and configures the route definition store.
type StoreConfig struct {
	Type     string       `yaml:"type" json:"type"`
	SeedFile string       `yaml:"seedFile,omitempty" json:"seedFile,omitempty"`
	Redis    RedisConfig  `yaml:"redis,omitempty" json:"redis,omitempty"`
	SQLite   SQLiteConfig `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`

	// WatchSeedFile reloads the seed file when it changes.
	WatchSeedFile bool `yaml:"watchSeedFile,omitempty" json:"watchSeedFile,omitempty"`
}

// RedisConfig is a Redis connection.
type RedisConfig struct {
	Address      string   `yaml:"address" json:"address"`
	Password     string   `yaml:"password,omitempty" json:"-"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix    string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize     int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	DialTimeout  Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	ReadTimeout  Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
}

// SQLiteConfig is a SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RateLimiterConfig configures the RequestRateLimiter action.
type RateLimiterConfig struct {
	Backend         string      `yaml:"backend" json:"backend"`
	ReplenishRate   int         `yaml:"replenishRate" json:"replenishRate"`
	BurstCapacity   int         `yaml:"burstCapacity" json:"burstCapacity"`
	RequestedTokens int         `yaml:"requestedTokens" json:"requestedTokens"`
	TrustedProxies  []string    `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
	Redis           RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// EntryTTL evicts idle keys of the local backend.
	EntryTTL Duration `yaml:"entryTTL,omitempty" json:"entryTTL,omitempty"`
}

// CircuitBreakerConfig configures every named breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int      `yaml:"failureThreshold" json:"failureThreshold"`
	OpenTimeout         Duration `yaml:"openTimeout" json:"openTimeout"`
	Interval            Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	HalfOpenMaxRequests int      `yaml:"halfOpenMaxRequests" json:"halfOpenMaxRequests"`
}

// RetryConfig configures the Retry action.
type RetryConfig struct {
	FirstBackoff Duration `yaml:"firstBackoff" json:"firstBackoff"`
	MaxBackoff   Duration `yaml:"maxBackoff" json:"maxBackoff"`
	Factor       float64  `yaml:"factor" json:"factor"`

	// Series lists the status series that are retried, e.g. SERVER_ERROR.
	Series []string `yaml:"series,omitempty" json:"series,omitempty"`

	// Statuses lists individual status codes that are retried.
	Statuses []int `yaml:"statuses,omitempty" json:"statuses,omitempty"`
}

// RoutingConfig configures route compilation and table refresh.
type RoutingConfig struct {
	HeaderRegexOnly bool     `yaml:"headerRegexOnly" json:"headerRegexOnly"`
	CompileWorkers  int      `yaml:"compileWorkers" json:"compileWorkers"`
	RefreshInterval Duration `yaml:"refreshInterval,omitempty" json:"refreshInterval,omitempty"`
}

// UpstreamConfig configures the HTTP client used for targets.
type UpstreamConfig struct {
	Timeout             Duration `yaml:"timeout" json:"timeout"`
	MaxIdleConnsPerHost int      `yaml:"maxIdleConnsPerHost,omitempty" json:"maxIdleConnsPerHost,omitempty"`
	IdleConnTimeout     Duration `yaml:"idleConnTimeout,omitempty" json:"idleConnTimeout,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			MaxBodySize:     10 << 20,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":8081",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName:  "routegw",
			SamplingRate: 1.0,
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "routegw:routes",
			},
			SQLite: SQLiteConfig{Path: "routegw.db"},
		},
		RateLimiter: RateLimiterConfig{
			Backend:         LimiterLocal,
			ReplenishRate:   1,
			BurstCapacity:   60,
			RequestedTokens: 1,
			Redis:           RedisConfig{Address: "localhost:6379", KeyPrefix: "routegw:ratelimit:"},
			EntryTTL:        Duration(10 * time.Minute),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:    5,
			OpenTimeout:         Duration(60 * time.Second),
			HalfOpenMaxRequests: 10,
		},
		Retry: RetryConfig{
			FirstBackoff: Duration(10 * time.Millisecond),
			MaxBackoff:   Duration(50 * time.Millisecond),
			Factor:       2,
			Series:       []string{"INFORMATIONAL", "SUCCESSFUL", "REDIRECTION", "CLIENT_ERROR", "SERVER_ERROR"},
			Statuses:     []int{404},
		},
		Routing: RoutingConfig{
			CompileWorkers: 8,
		},
		Upstream: UpstreamConfig{
			Timeout:             Duration(30 * time.Second),
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     Duration(90 * time.Second),
		},
	}
}

// applyDefaults fills every zero value from DefaultConfig. Booleans are
// left alone because false is a valid choice.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	setString(&c.Server.Address, d.Server.Address)
	setDuration(&c.Server.ReadTimeout, d.Server.ReadTimeout)
	setDuration(&c.Server.WriteTimeout, d.Server.WriteTimeout)
	setDuration(&c.Server.IdleTimeout, d.Server.IdleTimeout)
	setDuration(&c.Server.ShutdownTimeout, d.Server.ShutdownTimeout)
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = d.Server.MaxBodySize
	}

	setString(&c.Admin.Address, d.Admin.Address)
	setString(&c.Metrics.Address, d.Metrics.Address)
	setString(&c.Metrics.Path, d.Metrics.Path)

	setString(&c.Logging.Level, d.Logging.Level)
	setString(&c.Logging.Format, d.Logging.Format)
	setString(&c.Logging.Output, d.Logging.Output)

	setString(&c.Tracing.ServiceName, d.Tracing.ServiceName)
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = d.Tracing.SamplingRate
	}

	setString(&c.Store.Type, d.Store.Type)
	setString(&c.Store.Redis.Address, d.Store.Redis.Address)
	setString(&c.Store.Redis.KeyPrefix, d.Store.Redis.KeyPrefix)
	setString(&c.Store.SQLite.Path, d.Store.SQLite.Path)

	setString(&c.RateLimiter.Backend, d.RateLimiter.Backend)
	setInt(&c.RateLimiter.ReplenishRate, d.RateLimiter.ReplenishRate)
	setInt(&c.RateLimiter.BurstCapacity, d.RateLimiter.BurstCapacity)
	setInt(&c.RateLimiter.RequestedTokens, d.RateLimiter.RequestedTokens)
	setString(&c.RateLimiter.Redis.Address, d.RateLimiter.Redis.Address)
	setString(&c.RateLimiter.Redis.KeyPrefix, d.RateLimiter.Redis.KeyPrefix)
	setDuration(&c.RateLimiter.EntryTTL, d.RateLimiter.EntryTTL)

	setInt(&c.CircuitBreaker.FailureThreshold, d.CircuitBreaker.FailureThreshold)
	setDuration(&c.CircuitBreaker.OpenTimeout, d.CircuitBreaker.OpenTimeout)
	setInt(&c.CircuitBreaker.HalfOpenMaxRequests, d.CircuitBreaker.HalfOpenMaxRequests)

	setDuration(&c.Retry.FirstBackoff, d.Retry.FirstBackoff)
	setDuration(&c.Retry.MaxBackoff, d.Retry.MaxBackoff)
	if c.Retry.Factor == 0 {
		c.Retry.Factor = d.Retry.Factor
	}
	if c.Retry.Series == nil {
		c.Retry.Series = d.Retry.Series
	}
	if c.Retry.Statuses == nil {
		c.Retry.Statuses = d.Retry.Statuses
	}

	setInt(&c.Routing.CompileWorkers, d.Routing.CompileWorkers)

	setDuration(&c.Upstream.Timeout, d.Upstream.Timeout)
	setInt(&c.Upstream.MaxIdleConnsPerHost, d.Upstream.MaxIdleConnsPerHost)
	setDuration(&c.Upstream.IdleConnTimeout, d.Upstream.IdleConnTimeout)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *Duration, def Duration) {
	if *dst == 0 {
		*dst = def
	}
}
