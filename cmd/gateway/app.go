package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/routegw/internal/admin"
	"github.com/vyrodovalexey/routegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/routegw/internal/compiler"
	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/gateway"
	"github.com/vyrodovalexey/routegw/internal/health"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/policy"
	"github.com/vyrodovalexey/routegw/internal/predicate"
	"github.com/vyrodovalexey/routegw/internal/proxy"
	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/store"
	"github.com/vyrodovalexey/routegw/internal/table"
)

// application holds all application components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	store    store.Store
	limiter  ratelimit.Limiter
	breakers *circuitbreaker.Registry
	builder  *table.Builder
	admin    *admin.Server
	health   *health.Handler
	gateway  *gateway.Gateway

	seedWatcher *config.SeedWatcher
	stopRefresh context.CancelFunc
	closers     []func() error
}

// newApplication builds every component from cfg without starting anything.
func newApplication(cfg *config.Config, logger observability.Logger) (app *application, err error) {
	app = &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.metrics = observability.NewMetrics("routegw")
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	app.tracer, err = observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return app, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.closers = append(app.closers, func() error { return app.tracer.Shutdown(context.Background()) })

	app.store, err = store.New(&cfg.Store, logger)
	if err != nil {
		return app, fmt.Errorf("failed to open route store: %w", err)
	}
	app.closers = append(app.closers, app.store.Close)

	app.health = health.NewHandler(logger)
	app.health.AddCheck(health.FuncCheck("store", func(ctx context.Context) error {
		_, err := app.store.FindAll(ctx)
		return err
	}))

	app.limiter = app.newLimiter()

	app.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:    cfg.CircuitBreaker.FailureThreshold,
		OpenTimeout:         cfg.CircuitBreaker.OpenTimeout.Duration(),
		Interval:            cfg.CircuitBreaker.Interval.Duration(),
		HalfOpenMaxRequests: cfg.CircuitBreaker.HalfOpenMaxRequests,
	}, circuitbreaker.WithLogger(logger))

	settings, err := policySettings(cfg)
	if err != nil {
		return app, err
	}
	routes := compiler.New(
		predicate.NewCompiler(predicate.WithHeaderRegexOnly(cfg.Routing.HeaderRegexOnly)),
		policy.NewCompiler(settings),
	)
	app.builder = table.NewBuilder(app.store, routes,
		table.WithWorkers(cfg.Routing.CompileWorkers),
		table.WithLogger(logger),
		table.WithOnPublish(func(t *table.Table) {
			if removed := app.breakers.Retain(t.BreakerNames()); len(removed) > 0 {
				logger.Info("dropped circuit breakers no route uses",
					observability.Int("count", len(removed)),
				)
			}
		}),
	)
	app.health.AddCheck(health.FuncCheck("routing-table", func(context.Context) error {
		t := app.builder.Current()
		if t.Version() == 0 {
			return errors.New("routing table not built yet")
		}
		if n := len(t.Failures()); n > 0 {
			return fmt.Errorf("%d route definitions failed to compile", n)
		}
		return nil
	}, health.WithCritical(false)))

	app.admin = admin.New(app.store, app.builder,
		admin.WithLogger(logger),
		admin.WithHealth(app.health),
		admin.WithRefreshOnChange(cfg.Admin.RefreshOnChange),
		admin.WithBreakers(app.breakers),
	)

	upstream := proxy.New(
		proxy.WithLogger(logger),
		proxy.WithTransport(proxy.NewTransport(cfg.Upstream.MaxIdleConnsPerHost, cfg.Upstream.IdleConnTimeout.Duration())),
		proxy.WithTimeout(cfg.Upstream.Timeout.Duration()),
		proxy.WithLocalHandler(app.admin.Handler()),
	)

	dispatcher := gateway.NewDispatcher(app.builder, upstream.Forward,
		gateway.WithRuntime(&policy.Runtime{
			Limiter:  app.limiter,
			Keys:     ratelimit.NewKeyResolver(cfg.RateLimiter.TrustedProxies),
			Breakers: app.breakers,
			Metrics:  app.metrics,
			Logger:   logger,
		}),
		gateway.WithMetrics(app.metrics),
		gateway.WithDispatcherLogger(logger),
		gateway.WithMaxBodySize(cfg.Server.MaxBodySize),
	)

	app.gateway, err = gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithTracer(app.tracer),
		gateway.WithRouteHandler(dispatcher),
		gateway.WithAdminHandler(app.admin.Handler()),
		gateway.WithMetricsHandler(app.metrics.Handler()),
	)
	if err != nil {
		return app, fmt.Errorf("failed to create gateway: %w", err)
	}

	return app, nil
}

func (a *application) newLimiter() ratelimit.Limiter {
	rl := a.config.RateLimiter
	rlCfg := rateLimitConfig(a.config)

	if rl.Backend == config.LimiterRedis {
		client := store.NewRedisClient(&rl.Redis)
		a.closers = append(a.closers, client.Close)
		a.health.AddCheck(health.RedisCheck("ratelimit-redis", client, health.WithCritical(false)))
		return ratelimit.NewRedisLimiter(client, rlCfg,
			ratelimit.WithRedisPrefix(rl.Redis.KeyPrefix),
			ratelimit.WithRedisLogger(a.logger),
		)
	}

	ttl := rl.EntryTTL.Duration()
	local := ratelimit.NewLocalLimiter(rlCfg,
		ratelimit.WithEntryTTL(ttl, ttl/2),
		ratelimit.WithLocalLogger(a.logger),
	)
	a.closers = append(a.closers, local.Close)
	return local
}

func rateLimitConfig(cfg *config.Config) ratelimit.Config {
	return ratelimit.Config{
		ReplenishRate:   cfg.RateLimiter.ReplenishRate,
		BurstCapacity:   cfg.RateLimiter.BurstCapacity,
		RequestedTokens: cfg.RateLimiter.RequestedTokens,
	}
}

func policySettings(cfg *config.Config) (policy.Settings, error) {
	series, err := cfg.Retry.RetrySeries()
	if err != nil {
		return policy.Settings{}, fmt.Errorf("invalid retry series: %w", err)
	}
	return policy.Settings{
		RateLimit:     rateLimitConfig(cfg),
		RetrySeries:   series,
		RetryStatuses: cfg.Retry.Statuses,
		FirstBackoff:  cfg.Retry.FirstBackoff.Duration(),
		MaxBackoff:    cfg.Retry.MaxBackoff.Duration(),
		Factor:        cfg.Retry.Factor,
	}, nil
}

// start seeds the store, builds the first table and opens the listeners.
func (a *application) start(ctx context.Context) error {
	if err := a.seed(ctx); err != nil {
		return err
	}

	t, err := a.builder.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initial route refresh failed: %w", err)
	}
	a.logger.Info("routing table built",
		observability.Uint64("version", t.Version()),
		observability.Int("routes", t.Len()),
		observability.Int("failures", len(t.Failures())),
	)

	if interval := a.config.Routing.RefreshInterval.Duration(); interval > 0 {
		runCtx, cancel := context.WithCancel(context.Background())
		a.stopRefresh = cancel
		go a.builder.Run(runCtx, interval)
	}

	return a.gateway.Start(ctx)
}

func (a *application) seed(ctx context.Context) error {
	path := a.config.Store.SeedFile
	if path == "" {
		return nil
	}

	if !a.config.Store.WatchSeedFile {
		defs, err := config.NewLoader().LoadSeedFile(path)
		if err != nil {
			return fmt.Errorf("failed to load seed file: %w", err)
		}
		n, err := store.Seed(ctx, a.store, defs)
		if err != nil {
			return fmt.Errorf("failed to seed routes: %w", err)
		}
		a.logger.Info("routes seeded",
			observability.String("path", path),
			observability.Int("routes", n),
		)
		return nil
	}

	w, err := config.NewSeedWatcher(path, a.applySeed,
		config.WithLogger(a.logger),
		config.WithErrorCallback(func(err error) {
			a.logger.Warn("seed reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}
	if err := w.Start(context.Background()); err != nil {
		_ = w.Stop()
		return fmt.Errorf("failed to start seed watcher: %w", err)
	}
	a.seedWatcher = w
	return nil
}

// applySeed upserts the seed definitions and rebuilds the table.
func (a *application) applySeed(ctx context.Context, defs []*route.Definition) error {
	n, err := store.Seed(ctx, a.store, defs)
	if err != nil {
		return fmt.Errorf("failed to seed routes: %w", err)
	}
	a.logger.Info("routes seeded", observability.Int("routes", n))
	if _, err := a.builder.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after seeding failed: %w", err)
	}
	return nil
}

// shutdown stops the listeners and releases every resource.
func (a *application) shutdown(ctx context.Context) {
	if a.seedWatcher != nil {
		if err := a.seedWatcher.Stop(); err != nil {
			a.logger.Warn("failed to stop seed watcher", observability.Error(err))
		}
	}
	if a.stopRefresh != nil {
		a.stopRefresh()
	}
	if a.gateway != nil && a.gateway.IsRunning() {
		if err := a.gateway.Stop(ctx); err != nil {
			a.logger.Error("failed to stop gateway gracefully", observability.Error(err))
		}
	}
	a.close()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Warn("failed to release resource", observability.Error(err))
		}
	}
	a.closers = nil
}
