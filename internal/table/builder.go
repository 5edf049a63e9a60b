package table

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/routegw/internal/compiler"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

const (
	tracerName = "routegw/table"

	// DefaultWorkers bounds concurrent compilations.
	DefaultWorkers = 8
)

// Source lists the definitions a table is built from.
type Source interface {
	FindAll(ctx context.Context) ([]*route.Definition, error)
}

// Builder compiles definitions into tables and publishes them.
type Builder struct {
	source    Source
	compiler  *compiler.Compiler
	workers   int
	logger    observability.Logger
	now       func() time.Time
	onPublish func(*Table)

	mu      sync.Mutex
	current atomic.Pointer[Table]
}

// Option configures a Builder.
type Option func(*Builder)

// WithWorkers bounds concurrent compilations.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithClock sets the clock used for build timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithOnPublish calls fn with every table Refresh publishes, before
// Refresh returns.
func WithOnPublish(fn func(*Table)) Option {
	return func(b *Builder) {
		b.onPublish = fn
	}
}

// NewBuilder creates a Builder. The empty table is published until the
// first Refresh.
func NewBuilder(source Source, c *compiler.Compiler, opts ...Option) *Builder {
	if c == nil {
		c = compiler.New(nil, nil)
	}
	b := &Builder{
		source:   source,
		compiler: c,
		workers:  DefaultWorkers,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.current.Store(Empty())
	return b
}

// Current returns the published table.
func (b *Builder) Current() *Table {
	return b.current.Load()
}

// BuildTable builds a table from the source without publishing it. Its
// version is one past the published table.
func (b *Builder) BuildTable(ctx context.Context) (*Table, error) {
	return b.build(ctx, b.Current().Version()+1)
}

// Refresh rebuilds the table and publishes it. Calls are serialized. If
// the definitions cannot be fetched, the published table is kept and
// returned with the error.
func (b *Builder) Refresh(ctx context.Context) (*Table, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "table.Refresh")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	m := getTableMetrics()
	start := time.Now()
	prev := b.Current()

	t, err := b.build(ctx, prev.Version()+1)
	m.rebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.refreshesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("routing table refresh failed, keeping previous table",
			observability.Uint64("version", prev.Version()),
			observability.Error(err),
		)
		return prev, err
	}

	b.current.Store(t)
	if b.onPublish != nil {
		b.onPublish(t)
	}

	m.refreshesTotal.WithLabelValues("success").Inc()
	m.routes.Set(float64(t.Len()))
	m.failures.Set(float64(len(t.failures)))
	m.version.Set(float64(t.version))
	span.SetAttributes(
		attribute.Int64("table.version", int64(t.version)), //nolint:gosec // versions stay far below MaxInt64
		attribute.Int("table.routes", t.Len()),
		attribute.Int("table.failures", len(t.failures)),
	)

	b.logger.Info("routing table published",
		observability.Uint64("version", t.version),
		observability.Int("routes", t.Len()),
		observability.Int("failures", len(t.failures)),
		observability.Duration("duration", time.Since(start)),
	)
	return t, nil
}

// Run refreshes the table every interval until ctx is done. A
// non-positive interval returns immediately.
func (b *Builder) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged and counted by Refresh.
			_, _ = b.Refresh(ctx)
		}
	}
}

type compileResult struct {
	route *compiler.CompiledRoute
	err   error
}

func (b *Builder) build(ctx context.Context, version uint64) (*Table, error) {
	defs, err := b.source.FindAll(ctx)
	if err != nil {
		return nil, util.WrapError(err, "failed to fetch route definitions")
	}

	results := make([]compileResult, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, def := range defs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := b.compiler.Compile(def)
			results[i] = compileResult{route: r, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := &Table{
		routes:  make(map[string]*compiler.CompiledRoute, len(defs)),
		ordered: make([]*compiler.CompiledRoute, 0, len(defs)),
		version: version,
		builtAt: b.now(),
	}

	for i, res := range results {
		def := defs[i]
		if res.err != nil {
			t.failures = append(t.failures, b.failure(def, res.err))
			continue
		}
		if _, dup := t.routes[res.route.ID]; dup {
			err := util.NewDefinitionError(res.route.ID, "routeIdentifier", res.route.ID,
				"duplicate route identifier, an earlier definition wins")
			t.failures = append(t.failures, b.failure(def, err))
			continue
		}
		t.routes[res.route.ID] = res.route
		t.ordered = append(t.ordered, res.route)
	}

	sort.SliceStable(t.ordered, func(i, j int) bool {
		return t.ordered[i].Order < t.ordered[j].Order
	})

	return t, nil
}

func (b *Builder) failure(def *route.Definition, err error) Failure {
	f := Failure{Err: err}
	if def != nil {
		f.RouteID = def.Key()
		f.DefinitionID = def.ID
	}
	b.logger.Warn("route definition skipped",
		observability.String("route_id", f.RouteID),
		observability.String("definition_id", f.DefinitionID),
		observability.Error(err),
	)
	return f
}
