package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

var cbTracer = otel.Tracer("routegw/circuitbreaker")

// StateChangeFunc is called after a breaker changes state.
type StateChangeFunc func(name string, from, to State)

// Registry creates breakers on first use and hands out the same instance
// for the same name afterwards. It is safe for concurrent use.
type Registry struct {
	cfg      Config
	logger   observability.Logger
	onChange StateChangeFunc

	mu       sync.RWMutex
	breakers map[string]*breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithStateChangeCallback sets a callback for state changes.
func WithStateChangeCallback(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates a Registry that applies cfg to every breaker.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg.WithDefaults(),
		logger:   observability.NopLogger(),
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForName returns the breaker called name, creating it if needed.
func (r *Registry) ForName(name string) Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b = &breaker{cb: gobreaker.NewCircuitBreaker(r.settings(name))}
	r.breakers[name] = b
	getBreakerMetrics().state.WithLabelValues(name).Set(float64(StateClosed))

	r.logger.Debug("created circuit breaker", observability.String("name", name))

	return b
}

// Names returns the names of all breakers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns the current state of every breaker.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}

// Remove forgets a breaker. The next ForName starts it closed.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.breakers, name)
	r.mu.Unlock()

	getBreakerMetrics().state.DeleteLabelValues(name)
}

// Retain removes every breaker whose name is not in keep and returns the
// removed names, sorted.
func (r *Registry) Retain(keep map[string]struct{}) []string {
	var removed []string
	for _, name := range r.Names() {
		if _, ok := keep[name]; !ok {
			r.Remove(name)
			removed = append(removed, name)
		}
	}
	return removed
}

func (r *Registry) settings(name string) gobreaker.Settings {
	threshold := safeIntToUint32(r.cfg.FailureThreshold)

	return gobreaker.Settings{
		Name:         name,
		MaxRequests:  safeIntToUint32(r.cfg.HalfOpenMaxRequests),
		Interval:     r.cfg.Interval,
		Timeout:      r.cfg.OpenTimeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.stateChanged(name, fromGobreaker(from), fromGobreaker(to))
		},
	}
}

func (r *Registry) stateChanged(name string, from, to State) {
	r.logger.Info("circuit breaker state change",
		observability.String("name", name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)

	recordStateChange(name, from, to)

	_, span := cbTracer.Start(context.Background(),
		"circuitbreaker.state_change",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("circuitbreaker.name", name),
		attribute.String("circuitbreaker.from", from.String()),
		attribute.String("circuitbreaker.to", to.String()),
	))
	span.End()

	if r.onChange != nil {
		r.onChange(name, from, to)
	}
}
