// Package table builds and publishes routing table snapshots.
//
// A Table is immutable. The Builder compiles every stored definition into
// a new Table and publishes it with an atomic pointer swap, so readers
// never lock and never observe a half-built table.
package table

import (
	"time"

	"github.com/vyrodovalexey/routegw/internal/compiler"
	"github.com/vyrodovalexey/routegw/internal/policy"
	"github.com/vyrodovalexey/routegw/internal/predicate"
)

// Failure records a definition that did not make it into a table.
type Failure struct {
	RouteID      string
	DefinitionID string
	Err          error
}

// Table is one snapshot of compiled routes.
type Table struct {
	routes   map[string]*compiler.CompiledRoute
	ordered  []*compiler.CompiledRoute
	version  uint64
	builtAt  time.Time
	failures []Failure
}

// Empty returns the version 0 table published before the first build.
func Empty() *Table {
	return &Table{routes: map[string]*compiler.CompiledRoute{}}
}

// Get returns the route published under id.
func (t *Table) Get(id string) (*compiler.CompiledRoute, bool) {
	r, ok := t.routes[id]
	return r, ok
}

// Routes returns the routes in evaluation order.
func (t *Table) Routes() []*compiler.CompiledRoute {
	out := make([]*compiler.CompiledRoute, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int { return len(t.ordered) }

// Version increases by one with every published table.
func (t *Table) Version() uint64 { return t.version }

// BuiltAt returns when the table was built.
func (t *Table) BuiltAt() time.Time { return t.builtAt }

// Failures returns the definitions left out of the table.
func (t *Table) Failures() []Failure {
	out := make([]Failure, len(t.failures))
	copy(out, t.failures)
	return out
}

// Match returns the first route, in evaluation order, whose predicate
// holds for req, with the variables it captured. A predicate that cannot
// be evaluated stops the search with its error. No match is nil, nil, nil.
func (t *Table) Match(req *predicate.Request) (*compiler.CompiledRoute, map[string]string, error) {
	for _, r := range t.ordered {
		ok, vars, err := r.Predicate.Evaluate(req)
		if err != nil {
			return r, nil, err
		}
		if ok {
			return r, vars, nil
		}
	}
	return nil, nil, nil
}

// BreakerNames returns the names of the circuit breakers the routes use.
func (t *Table) BreakerNames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, r := range t.ordered {
		for _, a := range r.Chain.Actions() {
			if cb, ok := a.(policy.CircuitBreaker); ok {
				names[cb.Name] = struct{}{}
			}
		}
	}
	return names
}

// Summary is a serializable description of a table.
type Summary struct {
	Version  uint64           `json:"version"`
	BuiltAt  time.Time        `json:"builtAt"`
	Routes   []RouteSummary   `json:"routes"`
	Failures []FailureSummary `json:"failures"`
}

// RouteSummary describes one compiled route.
type RouteSummary struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId,omitempty"`
	Order        int    `json:"order"`
	Target       string `json:"target"`
	Predicate    string `json:"predicate"`
	Clauses      int    `json:"clauses"`
	Filters      string `json:"filters,omitempty"`
}

// FailureSummary describes one failed definition.
type FailureSummary struct {
	RouteID      string `json:"routeId,omitempty"`
	DefinitionID string `json:"definitionId,omitempty"`
	Error        string `json:"error"`
}

// Summary describes t.
func (t *Table) Summary() Summary {
	s := Summary{
		Version:  t.version,
		BuiltAt:  t.builtAt,
		Routes:   make([]RouteSummary, 0, len(t.ordered)),
		Failures: make([]FailureSummary, 0, len(t.failures)),
	}
	for _, r := range t.ordered {
		s.Routes = append(s.Routes, RouteSummary{
			ID:           r.ID,
			DefinitionID: r.DefinitionID,
			Order:        r.Order,
			Target:       r.TargetURI.String(),
			Predicate:    r.Predicate.String(),
			Clauses:      len(r.Predicate.Clauses()),
			Filters:      r.Chain.String(),
		})
	}
	for _, f := range t.failures {
		s.Failures = append(s.Failures, FailureSummary{
			RouteID:      f.RouteID,
			DefinitionID: f.DefinitionID,
			Error:        f.Err.Error(),
		})
	}
	return s
}
