package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/routegw/internal/retry"
	"github.com/vyrodovalexey/routegw/internal/util"
)

func testLoader(env map[string]string) *Loader {
	return &Loader{lookupEnv: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := testLoader(nil).LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromReader_Overrides(t *testing.T) {
	t.Parallel()

	yamlDoc := `
server:
  address: ":${PORT:-9000}"
admin:
  enabled: false
store:
  type: redis
  redis:
    address: ${REDIS_ADDR}
    password: "p$$ss"
rateLimiter:
  burstCapacity: 10
  trustedProxies: ["10.0.0.0/8", "192.168.1.1"]
circuitBreaker:
  openTimeout: 5s
retry:
  series: [SERVER_ERROR]
  statuses: []
routing:
  headerRegexOnly: true
  refreshInterval: 1m
`
	cfg, err := testLoader(map[string]string{"REDIS_ADDR": "redis:6379"}).LoadFromReader(strings.NewReader(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.False(t, cfg.Admin.Enabled)
	assert.True(t, cfg.Metrics.Enabled, "untouched sections keep their defaults")
	assert.Equal(t, StoreRedis, cfg.Store.Type)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Address)
	assert.Equal(t, "p$ss", cfg.Store.Redis.Password)
	assert.Equal(t, "routegw:routes", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, 10, cfg.RateLimiter.BurstCapacity)
	assert.Equal(t, 1, cfg.RateLimiter.ReplenishRate)
	assert.Len(t, cfg.RateLimiter.TrustedProxies, 2)
	assert.Equal(t, 5*time.Second, cfg.CircuitBreaker.OpenTimeout.Duration())
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Empty(t, cfg.Retry.Statuses)
	assert.True(t, cfg.Routing.HeaderRegexOnly)
	assert.Equal(t, time.Minute, cfg.Routing.RefreshInterval.Duration())

	series, err := cfg.Retry.RetrySeries()
	require.NoError(t, err)
	assert.Equal(t, []retry.Series{retry.SeriesServerError}, series)
}

func TestLoadFromReader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{name: "unknown store", doc: "store:\n  type: mongo\n", field: "store.type"},
		{name: "bad level", doc: "logging:\n  level: loud\n", field: "logging.level"},
		{name: "bad address", doc: "server:\n  address: nope\n", field: "server.address"},
		{name: "burst below rate", doc: "rateLimiter:\n  replenishRate: 5\n  burstCapacity: 2\n", field: "rateLimiter.burstCapacity"},
		{name: "bad proxy", doc: "rateLimiter:\n  trustedProxies: [not-an-ip]\n", field: "rateLimiter.trustedProxies[0]"},
		{name: "bad series", doc: "retry:\n  series: [WEIRD]\n", field: "retry.series[0]"},
		{name: "bad status", doc: "retry:\n  statuses: [42]\n", field: "retry.statuses[0]"},
		{name: "max below first", doc: "retry:\n  firstBackoff: 1s\n  maxBackoff: 10ms\n", field: "retry.maxBackoff"},
		{name: "sampling", doc: "tracing:\n  samplingRate: 2\n", field: "tracing.samplingRate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := testLoader(nil).LoadFromReader(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrInvalidInput)

			var vErr *util.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Fields, tt.field)
		})
	}
}

func TestLoadFromReader_ParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown field", doc: "server:\n  port: 80\n"},
		{name: "bad duration", doc: "upstream:\n  timeout: soon\n"},
		{name: "not yaml", doc: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := testLoader(nil).LoadFromReader(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: sqlite\n  sqlite:\n    path: /tmp/r.db\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store.Type)
	assert.Equal(t, "/tmp/r.db", cfg.Store.SQLite.Path)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Parallel()

	l := testLoader(map[string]string{"A": "1", "EMPTY": ""})

	tests := []struct {
		in   string
		want string
	}{
		{in: "${A}", want: "1"},
		{in: "${B:-two}", want: "two"},
		{in: "${EMPTY:-x}", want: ""},
		{in: "${B}", want: ""},
		{in: "$${A}", want: "${A}"},
		{in: "plain", want: "plain"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, l.substituteEnvVars(tt.in), tt.in)
	}
}

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	doc := `
routes:
  - routeIdentifier: users
    targetUri: ${USERS_URI}
    method: GET
    path: /users/**
    retry: 2
    circuitBreaker:
      name: users-cb
      fallbackUri: forward:/fallback
      statusCodes: ["503", "BAD_GATEWAY"]
  - routeIdentifier: orders
    targetUri: http://orders:8080
    path: /orders/{id}
`
	defs, err := testLoader(map[string]string{"USERS_URI": "http://users:8080"}).LoadSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "users", defs[0].RouteIdentifier)
	assert.Equal(t, "http://users:8080", defs[0].TargetURI)
	require.NotNil(t, defs[0].Retry)
	assert.Equal(t, 2, *defs[0].Retry)
	require.NotNil(t, defs[0].CircuitBreaker)
	assert.Equal(t, []string{"503", "BAD_GATEWAY"}, defs[0].CircuitBreaker.StatusCodes)
	assert.Equal(t, "/orders/{id}", defs[1].Path)
}

func TestLoadSeed_Errors(t *testing.T) {
	t.Parallel()

	_, err := testLoader(nil).LoadSeed(strings.NewReader("routes:\n  - null\n"))
	assert.Error(t, err)

	_, err = testLoader(nil).LoadSeed(strings.NewReader("routes:\n  - bogus: 1\n"))
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"250ms"`)))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"250ms"`, string(b))

	require.NoError(t, d.UnmarshalJSON([]byte("null")))
	assert.Zero(t, d)

	assert.Error(t, d.UnmarshalJSON([]byte(`"later"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`12`)))

	v, err := Duration(time.Second).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1s", v)
}
