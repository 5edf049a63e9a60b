package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/routegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/policy"
	"github.com/vyrodovalexey/routegw/internal/predicate"
	"github.com/vyrodovalexey/routegw/internal/ratelimit"
	"github.com/vyrodovalexey/routegw/internal/table"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const (
	// HeaderRequestID carries the request id in both directions.
	HeaderRequestID = "X-Request-ID"

	// StatusClientClosedRequest is recorded when the caller goes away
	// before a response is produced.
	StatusClientClosedRequest = 499

	unmatchedRoute = "unmatched"
)

// TableSource supplies the current routing table.
type TableSource interface {
	Current() *table.Table
}

// Dispatcher routes inbound requests over the current table.
type Dispatcher struct {
	tables      TableSource
	upstream    policy.Handler
	runtime     *policy.Runtime
	metrics     *observability.Metrics
	logger      observability.Logger
	maxBodySize int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the access logger.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the request metrics.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithRuntime sets the collaborators shared by the policy chains.
func WithRuntime(rt *policy.Runtime) DispatcherOption {
	return func(d *Dispatcher) {
		d.runtime = rt
	}
}

// WithMaxBodySize bounds buffered request bodies.
func WithMaxBodySize(n int64) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBodySize = n
		}
	}
}

// NewDispatcher creates a Dispatcher. upstream ends every policy chain.
func NewDispatcher(tables TableSource, upstream policy.Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tables:      tables,
		upstream:    upstream,
		logger:      observability.NopLogger(),
		maxBodySize: predicate.DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(d)
	}

	// Breaker state must outlive a single request.
	rt := policy.Runtime{}
	if d.runtime != nil {
		rt = *d.runtime
	}
	if rt.Breakers == nil {
		rt.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	if rt.Keys == nil {
		rt.Keys = ratelimit.NewKeyResolver(nil)
	}
	if rt.Logger == nil {
		rt.Logger = d.logger
	}
	if rt.Metrics == nil {
		rt.Metrics = d.metrics
	}
	d.runtime = &rt
	return d
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(HeaderRequestID, requestID)
	}
	w.Header().Set(HeaderRequestID, requestID)

	ctx := util.ContextWithRequestID(r.Context(), requestID)
	ctx = observability.ContextWithRequestID(ctx, requestID)
	r = r.WithContext(ctx)
	logger := d.logger.WithContext(ctx)

	if d.metrics != nil {
		d.metrics.IncrementActiveRequests()
		defer d.metrics.DecrementActiveRequests()
	}

	routeID, status := d.dispatch(ctx, w, r, logger)

	if d.metrics != nil {
		d.metrics.RecordRequest(r.Method, routeID, status, time.Since(start))
	}
	logger.Info("request completed",
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.String("route_id", routeID),
		observability.Int("status", status),
		observability.Duration("duration", time.Since(start)),
	)
}

func (d *Dispatcher) dispatch(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	logger observability.Logger,
) (routeID string, status int) {
	preq := predicate.NewRequest(r).WithMaxBodySize(d.maxBodySize)

	rt, vars, err := d.tables.Current().Match(preq)
	if err != nil {
		if rt != nil {
			routeID = rt.ID
		}
		if errors.Is(err, predicate.ErrBodyTooLarge) {
			return routeID, writeError(w, http.StatusRequestEntityTooLarge, "request body too large", requestIDOf(ctx))
		}
		logger.Error("route predicate failed",
			observability.String("route_id", routeID),
			observability.Error(err),
		)
		return routeID, writeError(w, http.StatusInternalServerError, err.Error(), requestIDOf(ctx))
	}
	if rt == nil {
		logger.Debug("no route matched",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
		)
		notFound := util.NewRouteNotFoundError(r.Method, r.URL.Path)
		return unmatchedRoute, writeError(w, http.StatusNotFound, notFound.Error(), requestIDOf(ctx))
	}
	routeID = rt.ID

	body, err := readBody(r, d.maxBodySize)
	if err != nil {
		if errors.Is(err, predicate.ErrBodyTooLarge) {
			return routeID, writeError(w, http.StatusRequestEntityTooLarge, "request body too large", requestIDOf(ctx))
		}
		return routeID, writeError(w, http.StatusBadRequest, "failed to read request body", requestIDOf(ctx))
	}

	logger.Debug("dispatching request",
		observability.String("route_id", routeID),
		observability.String("path", r.URL.Path),
		observability.String("target", rt.TargetURI.String()),
	)

	ex := policy.NewExchange(r, rt.ID, rt.TargetURI, body, vars)
	resp, err := rt.Chain.Handler(d.upstream, d.runtime)(ctx, ex)

	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Debug("client went away",
			observability.String("route_id", routeID),
		)
		return routeID, StatusClientClosedRequest
	}

	if err != nil {
		logger.Warn("request failed",
			observability.String("route_id", routeID),
			observability.Error(err),
		)
	}

	if resp != nil {
		if werr := resp.Write(w); werr != nil {
			logger.Debug("failed to write response",
				observability.String("route_id", routeID),
				observability.Error(werr),
			)
		}
		return routeID, resp.StatusCode
	}

	return routeID, writeError(w, util.HTTPStatusFromError(err), err.Error(), requestIDOf(ctx))
}

// readBody buffers the request body, which a body predicate may already
// have replaced with its buffered copy.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, predicate.ErrBodyTooLarge
	}
	return data, nil
}

type errorBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, requestID string) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Status: status, RequestID: requestID})
	return status
}

func requestIDOf(ctx context.Context) string {
	return util.RequestIDFromContext(ctx)
}
