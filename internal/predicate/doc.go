// Package predicate compiles the match fields of a route definition into
// a Predicate: an ordered conjunction of path, method, header, host and
// body clauses evaluated against an inbound request.
//
// Path and host patterns are templates. Path templates support ?, *, **,
// {name}, {name:regex} and a trailing {*name}; host templates use the
// same syntax with '.' as the separator. Captured variables are returned
// by Predicate.Evaluate.
//
// The body clause is deferred. The request body is buffered on first use
// and an unknown mode or invalid regex yields a *util.BodyEvaluationError
// for the request being evaluated, never at compile time.
package predicate
