package predicate

import "strings"

// Predicate is an ordered conjunction of clauses. The path clause is
// always first. Predicates are immutable once compiled and safe for
// concurrent use.
type Predicate struct {
	clauses []Clause
}

// Test evaluates the clauses left to right and stops at the first one
// that does not hold. An error means the request cannot be evaluated.
func (p *Predicate) Test(req *Request) (bool, error) {
	ok, _, err := p.Evaluate(req)
	return ok, err
}

// Evaluate is Test that also returns the template variables captured by
// the path and host clauses.
func (p *Predicate) Evaluate(req *Request) (bool, map[string]string, error) {
	vars := make(map[string]string)
	for _, c := range p.clauses {
		ok, err := c.Test(req, vars)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, nil
		}
	}
	return true, vars, nil
}

// Clauses returns a copy of the clause list.
func (p *Predicate) Clauses() []Clause {
	out := make([]Clause, len(p.clauses))
	copy(out, p.clauses)
	return out
}

// String renders the predicate as "A && B && C".
func (p *Predicate) String() string {
	parts := make([]string, 0, len(p.clauses))
	for _, c := range p.clauses {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " && ")
}
