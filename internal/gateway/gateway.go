package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// Listener names.
const (
	ListenerProxy   = "proxy"
	ListenerAdmin   = "admin"
	ListenerMetrics = "metrics"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway owns the listeners of the process.
type Gateway struct {
	config    *config.Config
	logger    observability.Logger
	tracer    *observability.Tracer
	engine    *gin.Engine
	listeners []*Listener
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex

	routeHandler   http.Handler
	adminHandler   http.Handler
	metricsHandler http.Handler

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTracer wraps the route handler with a server span per request.
func WithTracer(tracer *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// WithRouteHandler sets the handler for proxied traffic.
func WithRouteHandler(handler http.Handler) Option {
	return func(g *Gateway) {
		g.routeHandler = handler
	}
}

// WithAdminHandler sets the management API handler.
func WithAdminHandler(handler http.Handler) Option {
	return func(g *Gateway) {
		g.adminHandler = handler
	}
}

// WithMetricsHandler sets the handler served on the metrics path.
func WithMetricsHandler(handler http.Handler) Option {
	return func(g *Gateway) {
		g.metricsHandler = handler
	}
}

// New creates a new Gateway instance.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		shutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}
	if g.shutdownTimeout <= 0 {
		g.shutdownTimeout = 30 * time.Second
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.routeHandler == nil {
		return nil, ErrNoRouteHandler
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start starts every configured listener.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.logger.Info("starting gateway",
		observability.String("address", g.config.Server.Address),
	)

	gin.SetMode(gin.ReleaseMode)
	g.engine = gin.New()
	g.setupRoutes()

	g.mu.Lock()
	g.listeners = g.createListeners()
	listeners := g.listeners
	g.mu.Unlock()

	for _, listener := range listeners {
		if err := listener.Start(ctx); err != nil {
			g.stopListeners(ctx)
			g.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to start listener %s: %w", listener.Name(), err)
		}
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.Int("listeners", len(listeners)),
	)

	return nil
}

// Stop stops the gateway gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	g.stopListeners(ctx)

	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped",
		observability.Duration("uptime", g.Uptime()),
	)

	return nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Engine returns the gin engine serving proxied traffic.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Listener returns the listener with the given name.
func (g *Gateway) Listener(name string) (*Listener, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, l := range g.listeners {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

// setupRoutes sends every request that gin does not route itself to the
// route handler.
func (g *Gateway) setupRoutes() {
	g.engine.Use(gin.Recovery())

	handler := g.routeHandler
	if g.tracer != nil {
		handler = observability.TracingMiddleware(g.tracer)(handler)
	}
	g.engine.NoRoute(func(c *gin.Context) {
		// gin presets 404 for unrouted requests; the route handler decides.
		c.Status(http.StatusOK)
		handler.ServeHTTP(c.Writer, c.Request)
	})
}

func (g *Gateway) createListeners() []*Listener {
	srv := g.config.Server
	listeners := []*Listener{
		NewListener(ListenerProxy, srv.Address, g.engine,
			WithListenerLogger(g.logger),
			WithListenerTimeouts(srv.ReadTimeout.Duration(), srv.WriteTimeout.Duration(), srv.IdleTimeout.Duration()),
		),
	}

	if g.config.Admin.Enabled && g.adminHandler != nil {
		listeners = append(listeners,
			NewListener(ListenerAdmin, g.config.Admin.Address, g.adminHandler, WithListenerLogger(g.logger)))
	}

	if g.config.Metrics.Enabled && g.metricsHandler != nil {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle(path, g.metricsHandler)
		listeners = append(listeners,
			NewListener(ListenerMetrics, g.config.Metrics.Address, mux, WithListenerLogger(g.logger)))
	}

	return listeners
}

// stopListeners stops all listeners.
func (g *Gateway) stopListeners(ctx context.Context) {
	g.mu.RLock()
	listeners := g.listeners
	g.mu.RUnlock()

	var wg sync.WaitGroup
	for _, listener := range listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.Stop(ctx); err != nil {
				g.logger.Error("failed to stop listener",
					observability.String("name", l.Name()),
					observability.Error(err),
				)
			}
		}(listener)
	}
	wg.Wait()
}
