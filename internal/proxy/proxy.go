package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/policy"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const (
	tracerName = "routegw/proxy"

	// DefaultMaxResponseSize bounds a buffered upstream response body.
	DefaultMaxResponseSize = 32 << 20

	// DefaultTimeout bounds one upstream call.
	DefaultTimeout = 30 * time.Second
)

// ErrResponseTooLarge is returned when an upstream body exceeds the
// buffering limit.
var ErrResponseTooLarge = errors.New("upstream response exceeds buffering limit")

// Upstream is the last handler of every policy chain.
type Upstream struct {
	client          *http.Client
	local           http.Handler
	logger          observability.Logger
	timeout         time.Duration
	maxResponseSize int64
}

// Option configures an Upstream.
type Option func(*Upstream)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(u *Upstream) {
		u.logger = logger
	}
}

// WithTransport sets the transport of the upstream client.
func WithTransport(transport http.RoundTripper) Option {
	return func(u *Upstream) {
		u.client.Transport = transport
	}
}

// WithTimeout bounds each upstream call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(u *Upstream) {
		u.timeout = timeout
	}
}

// WithLocalHandler sets the handler that serves forward: targets.
func WithLocalHandler(h http.Handler) Option {
	return func(u *Upstream) {
		u.local = h
	}
}

// WithMaxResponseSize bounds buffered response bodies.
func WithMaxResponseSize(n int64) Option {
	return func(u *Upstream) {
		if n > 0 {
			u.maxResponseSize = n
		}
	}
}

// NewTransport returns a pooled transport for upstream calls.
func NewTransport(maxIdleConnsPerHost int, idleConnTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = maxIdleConnsPerHost
	}
	if idleConnTimeout > 0 {
		t.IdleConnTimeout = idleConnTimeout
	}
	return t
}

// New creates an Upstream.
func New(opts ...Option) *Upstream {
	u := &Upstream{
		client: &http.Client{
			Transport: NewTransport(0, 0),
			// Redirects are returned to the caller as they are.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:          observability.NopLogger(),
		timeout:         DefaultTimeout,
		maxResponseSize: DefaultMaxResponseSize,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Handler returns Forward as a policy.Handler.
func (u *Upstream) Handler() policy.Handler {
	return u.Forward
}

// Forward sends ex to its target and buffers the response.
func (u *Upstream) Forward(ctx context.Context, ex *policy.Exchange) (*policy.Response, error) {
	if ex.Target == nil {
		return nil, util.NewBackendError(ex.RouteID, "exchange has no target")
	}
	if ex.Target.Scheme == util.ForwardScheme {
		return u.forwardLocal(ctx, ex)
	}
	return u.forwardHTTP(ctx, ex)
}

func (u *Upstream) forwardHTTP(ctx context.Context, ex *policy.Exchange) (*policy.Response, error) {
	target := &url.URL{
		Scheme:   ex.Target.Scheme,
		Host:     ex.Target.Host,
		Path:     ex.Path,
		RawQuery: ex.RawQuery,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "proxy.Forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("route.id", ex.RouteID),
			attribute.String("http.request.method", ex.Method),
			attribute.String("server.address", target.Host),
			attribute.String("url.path", target.Path),
		),
	)
	defer span.End()

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, ex.Method, target.String(), bytes.NewReader(ex.Body))
	if err != nil {
		return nil, util.NewBackendErrorWithCause(target.Host, "failed to build upstream request", err)
	}
	u.prepareRequest(req, ex)
	observability.InjectTraceContext(ctx, req)

	m := getProxyMetrics()
	start := time.Now()
	resp, err := u.client.Do(req)
	m.upstreamDuration.WithLabelValues(ex.RouteID).Observe(time.Since(start).Seconds())
	if err != nil {
		err = u.classify(ctx, ex, target.Host, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, u.maxResponseSize+1))
	if err != nil {
		err = u.classify(ctx, ex, target.Host, err)
		span.RecordError(err)
		return nil, err
	}
	if int64(len(body)) > u.maxResponseSize {
		m.errorsTotal.WithLabelValues(ex.RouteID, "too_large").Inc()
		return nil, util.NewBackendErrorWithCause(target.Host, "response too large", ErrResponseTooLarge)
	}

	header := resp.Header.Clone()
	util.RemoveHopHeaders(header)
	header.Del("Content-Length")

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	u.logger.Debug("upstream responded",
		observability.String("route_id", ex.RouteID),
		observability.String("target", target.Host),
		observability.Int("status", resp.StatusCode),
		observability.Duration("duration", time.Since(start)),
	)

	return &policy.Response{StatusCode: resp.StatusCode, Header: header, Body: body}, nil
}

// prepareRequest copies the shaped headers and sets the forwarding headers.
func (u *Upstream) prepareRequest(req *http.Request, ex *policy.Exchange) {
	req.Header = ex.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	util.RemoveHopHeaders(req.Header)
	req.ContentLength = int64(len(ex.Body))
	req.Host = ex.Target.Host

	in := ex.Inbound
	if in == nil {
		return
	}
	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if in.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", in.Host)
}

// classify turns a client error into the error taxonomy.
func (u *Upstream) classify(ctx context.Context, ex *policy.Exchange, host string, err error) error {
	m := getProxyMetrics()

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		m.errorsTotal.WithLabelValues(ex.RouteID, "canceled").Inc()
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		m.errorsTotal.WithLabelValues(ex.RouteID, "timeout").Inc()
		u.logger.Warn("upstream timed out",
			observability.String("route_id", ex.RouteID),
			observability.String("target", host),
		)
		return fmt.Errorf("upstream %s: %w", host, util.NewTimeoutError("upstream call", u.timeout))
	default:
		m.errorsTotal.WithLabelValues(ex.RouteID, "connection").Inc()
		u.logger.Warn("upstream call failed",
			observability.String("route_id", ex.RouteID),
			observability.String("target", host),
			observability.Error(err),
		)
		return util.NewBackendErrorWithCause(host, "upstream call failed", err)
	}
}

func (u *Upstream) forwardLocal(ctx context.Context, ex *policy.Exchange) (*policy.Response, error) {
	if u.local == nil {
		return nil, util.NewBackendError(ex.Target.String(), "no local handler for forward target")
	}

	path := util.ForwardPath(ex.Target)
	if path == "" {
		path = ex.Path
	}

	req, err := http.NewRequestWithContext(ctx, ex.Method, (&url.URL{Path: path, RawQuery: ex.RawQuery}).String(),
		bytes.NewReader(ex.Body))
	if err != nil {
		return nil, util.NewBackendErrorWithCause(ex.Target.String(), "failed to build local request", err)
	}
	req.Header = ex.Header.Clone()
	if ex.Inbound != nil {
		req.RemoteAddr = ex.Inbound.RemoteAddr
		req.Host = ex.Inbound.Host
	}

	w := newBufferedWriter()
	u.local.ServeHTTP(w, req)
	getProxyMetrics().forwardsTotal.WithLabelValues(path).Inc()

	u.logger.Debug("served by local handler",
		observability.String("route_id", ex.RouteID),
		observability.String("path", path),
		observability.Int("status", w.statusCode()),
	)

	return &policy.Response{StatusCode: w.statusCode(), Header: w.header, Body: w.body.Bytes()}, nil
}
