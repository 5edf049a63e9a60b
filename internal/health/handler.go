package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

// DefaultTimeout bounds one round of checks.
const DefaultTimeout = 5 * time.Second

// Status is the aggregated health of the process.
type Status string

const (
	// StatusHealthy indicates every check passed.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates a non-critical check failed.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates a critical check failed.
	StatusUnhealthy Status = "unhealthy"
)

// Report is the body of the health endpoint.
type Report struct {
	Status    Status                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
	Critical bool   `json:"critical"`
}

// Handler serves health requests.
type Handler struct {
	logger    observability.Logger
	timeout   time.Duration
	startTime time.Time

	mu     sync.RWMutex
	checks []*Check
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds one round of checks.
func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(logger observability.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	h := &Handler{
		logger:    logger,
		timeout:   DefaultTimeout,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers a check.
func (h *Handler) AddCheck(c *Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// Run executes every check and aggregates the result.
func (h *Handler) Run(ctx context.Context) *Report {
	h.mu.RLock()
	checks := make([]*Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Run(ctx)
			result := &CheckResult{Status: "ok", Duration: time.Since(start).String(), Critical: c.IsCritical()}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
				if c.IsCritical() {
					report.Status = StatusUnhealthy
				} else if report.Status == StatusHealthy {
					report.Status = StatusDegraded
				}
				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Bool("critical", c.IsCritical()),
					observability.Error(err),
				)
			}
			report.Checks[c.Name()] = result
		}(c)
	}
	wg.Wait()

	return report
}

// HealthHandler reports every check; 503 when a critical one failed.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := h.Run(c.Request.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

// LivenessHandler answers as long as the process serves requests.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	}
}

// RegisterRoutes registers the health routes on a router group.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthHandler())
	r.GET("/healthz", h.LivenessHandler())
}
