// Package admin serves the management API: route definition CRUD, table
// refresh and inspection, the local fallback endpoint and health.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/routegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/routegw/internal/health"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/store"
	"github.com/vyrodovalexey/routegw/internal/table"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// Response bodies fixed by the API.
const (
	RefreshedMessage = "Routes reloaded successfully"
	FallbackMessage  = "Fallback API"
)

// Tables refreshes and exposes the routing table.
type Tables interface {
	Current() *table.Table
	Refresh(ctx context.Context) (*table.Table, error)
}

// Server is the management API.
type Server struct {
	store           store.Store
	tables          Tables
	health          *health.Handler
	logger          observability.Logger
	refreshOnChange bool
	breakers        *circuitbreaker.Registry
	engine          *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealth serves h under /health and /healthz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithRefreshOnChange rebuilds the table after every successful write.
// Without it, writes take effect on the next explicit or periodic refresh.
func WithRefreshOnChange(enabled bool) Option {
	return func(s *Server) {
		s.refreshOnChange = enabled
	}
}

// WithBreakers adds the circuit breaker states to the table description.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(s *Server) {
		s.breakers = r
	}
}

// New creates the management API.
func New(st store.Store, tables Tables, opts ...Option) *Server {
	s := &Server{
		store:  st,
		tables: tables,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = health.NewHandler(s.logger)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.registerRoutes()

	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	routes := s.engine.Group("/routes")
	routes.POST("", s.saveRoute)
	routes.GET("", s.listRoutes)
	routes.GET("/refresh-routes", s.refreshRoutes)
	routes.GET("/table", s.describeTable)
	routes.GET("/:routeId", s.getRoute)
	routes.DELETE("/:routeId", s.deleteRoute)

	s.engine.GET("/fallback", s.fallback)
	s.health.RegisterRoutes(s.engine)
}

func (s *Server) saveRoute(c *gin.Context) {
	var def route.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid route definition: " + err.Error()})
		return
	}

	saved, err := s.store.Save(c.Request.Context(), &def)
	if err != nil {
		s.fail(c, "failed to save route", err)
		return
	}

	s.logger.Info("route saved",
		observability.String("id", saved.ID),
		observability.String("route_id", saved.Key()),
	)
	s.afterChange(c.Request.Context())

	c.JSON(http.StatusOK, saved)
}

func (s *Server) listRoutes(c *gin.Context) {
	defs, err := s.store.FindAll(c.Request.Context())
	if err != nil {
		s.fail(c, "failed to list routes", err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

func (s *Server) getRoute(c *gin.Context) {
	def, err := s.store.FindByID(c.Request.Context(), c.Param("routeId"))
	if errors.Is(err, util.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(c, "failed to load route", err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) deleteRoute(c *gin.Context) {
	id := c.Param("routeId")
	err := s.store.Delete(c.Request.Context(), id)
	if errors.Is(err, util.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(c, "failed to delete route", err)
		return
	}

	s.logger.Info("route deleted", observability.String("id", id))
	s.afterChange(c.Request.Context())

	c.Status(http.StatusNoContent)
}

func (s *Server) refreshRoutes(c *gin.Context) {
	t, err := s.tables.Refresh(c.Request.Context())
	if err != nil {
		s.logger.Error("route refresh failed", observability.Error(err))
		c.String(http.StatusInternalServerError, "Routes reload failed: %s", err.Error())
		return
	}

	s.logger.Info("routes reloaded",
		observability.Uint64("version", t.Version()),
		observability.Int("routes", t.Len()),
		observability.Int("failures", len(t.Failures())),
	)
	c.String(http.StatusOK, RefreshedMessage)
}

// tableDescription is the table summary plus the state of every breaker
// created so far.
type tableDescription struct {
	table.Summary
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *Server) describeTable(c *gin.Context) {
	desc := tableDescription{Summary: s.tables.Current().Summary()}
	if s.breakers != nil {
		states := s.breakers.States()
		desc.Breakers = make(map[string]string, len(states))
		for name, state := range states {
			desc.Breakers[name] = state.String()
		}
	}
	c.JSON(http.StatusOK, desc)
}

func (s *Server) fallback(c *gin.Context) {
	c.String(http.StatusOK, FallbackMessage)
}

func (s *Server) afterChange(ctx context.Context) {
	if !s.refreshOnChange {
		return
	}
	if _, err := s.tables.Refresh(ctx); err != nil {
		s.logger.Warn("refresh after change failed", observability.Error(err))
	}
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	status := util.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, observability.Error(err))
	}
	c.JSON(status, gin.H{"error": msg + ": " + err.Error()})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("admin request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("duration", time.Since(start)),
		)
	}
}
