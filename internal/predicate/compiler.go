package predicate

import (
	"regexp"
	"strings"

	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// headerRegexPrefix marks a header value as a regular expression.
const headerRegexPrefix = "regex="

// Compiler builds predicates from route definitions.
type Compiler struct {
	headerRegexOnly bool
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithHeaderRegexOnly drops the exact-value clause that otherwise
// accompanies every regex= header entry.
func WithHeaderRegexOnly(enabled bool) Option {
	return func(c *Compiler) {
		c.headerRegexOnly = enabled
	}
}

// NewCompiler creates a predicate compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile assembles the predicate for def: path, then method, headers,
// host and body, each added only when present. Malformed path, header
// and host entries are reported as *util.DefinitionError. The body
// clause never fails here.
func (c *Compiler) Compile(def *route.Definition) (*Predicate, error) {
	key := def.Key()

	if strings.TrimSpace(def.Path) == "" {
		return nil, util.NewDefinitionError(key, "path", def.Path, "path is required")
	}

	compiledPath, err := compileTemplate(def.Path, pathTemplateToRegex)
	if err != nil {
		return nil, util.NewDefinitionErrorWithCause(key, "path", def.Path, "cannot compile pattern", err)
	}

	clauses := []Clause{&pathClause{pattern: def.Path, regex: compiledPath}}

	if def.Method != "" {
		if err := util.ValidateHTTPMethod(def.Method); err != nil {
			return nil, util.NewDefinitionErrorWithCause(key, "method", def.Method, "invalid method", err)
		}
		clauses = append(clauses, &methodClause{method: strings.ToUpper(def.Method)})
	}

	for _, entry := range def.Headers {
		hc, err := c.headerClauses(key, entry)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, hc...)
	}

	if def.Host != "" {
		compiled, err := compileTemplate(def.Host, hostTemplateToRegex)
		if err != nil {
			return nil, util.NewDefinitionErrorWithCause(key, "host", def.Host, "cannot compile pattern", err)
		}
		clauses = append(clauses, &hostClause{pattern: def.Host, regex: compiled})
	}

	if def.Body != "" {
		clauses = append(clauses, newBodyClause(def.Body))
	}

	return &Predicate{clauses: clauses}, nil
}

// headerClauses compiles one "name:value" header entry.
func (c *Compiler) headerClauses(key, entry string) ([]Clause, error) {
	name, value, ok := route.SplitKeyValue(entry)
	if !ok {
		return nil, util.NewDefinitionError(key, "headers", entry, "missing ':' separator")
	}
	if err := util.ValidateHeaderName(name); err != nil {
		return nil, util.NewDefinitionErrorWithCause(key, "headers", entry, "invalid header name", err)
	}

	if value == "" {
		return []Clause{&headerPresentClause{name: name}}, nil
	}

	if !strings.HasPrefix(value, headerRegexPrefix) {
		return []Clause{&headerExactClause{name: name, value: value}}, nil
	}

	pattern := strings.TrimPrefix(value, headerRegexPrefix)
	re, err := compileRegex(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, util.NewDefinitionErrorWithCause(key, "headers", entry, "cannot compile regex", err)
	}

	clauses := []Clause{&headerRegexClause{name: name, pattern: pattern, regex: re}}
	if !c.headerRegexOnly {
		clauses = append(clauses, &headerExactClause{name: name, value: value})
	}
	return clauses, nil
}

// compileTemplate converts a template with convert and compiles the result.
func compileTemplate(pattern string, convert func(string) (string, error)) (*regexp.Regexp, error) {
	expr, err := convert(pattern)
	if err != nil {
		return nil, err
	}
	return compileRegex(expr)
}
