package predicate

import (
	"regexp"
	"strings"
	"sync"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// Body clause modes.
const (
	BodyModeContains   = "contains"
	BodyModeEquals     = "equals"
	BodyModeStartsWith = "startsWith"
	BodyModeEndsWith   = "endsWith"
	BodyModeMatches    = "matches"
)

// Clause is one ANDed condition of a predicate. Template variables
// captured by the clause are written into vars.
type Clause interface {
	Test(req *Request, vars map[string]string) (bool, error)
	String() string
}

// pathClause matches the request path against a compiled template.
type pathClause struct {
	pattern string
	regex   *regexp.Regexp
}

func (c *pathClause) Test(req *Request, vars map[string]string) (bool, error) {
	return matchCapture(c.regex, req.Path, vars), nil
}

func (c *pathClause) String() string { return "Path=" + c.pattern }

// methodClause matches one HTTP method, case-insensitively.
type methodClause struct {
	method string
}

func (c *methodClause) Test(req *Request, _ map[string]string) (bool, error) {
	return strings.EqualFold(req.Method, c.method), nil
}

func (c *methodClause) String() string { return "Method=" + c.method }

// headerPresentClause requires the header to be present.
type headerPresentClause struct {
	name string
}

func (c *headerPresentClause) Test(req *Request, _ map[string]string) (bool, error) {
	return len(req.Header.Values(c.name)) > 0, nil
}

func (c *headerPresentClause) String() string { return "Header=" + c.name }

// headerExactClause requires one of the header's values to equal value.
type headerExactClause struct {
	name  string
	value string
}

func (c *headerExactClause) Test(req *Request, _ map[string]string) (bool, error) {
	for _, v := range req.Header.Values(c.name) {
		if v == c.value {
			return true, nil
		}
	}
	return false, nil
}

func (c *headerExactClause) String() string { return "Header=" + c.name + "," + c.value }

// headerRegexClause requires one of the header's values to fully match regex.
type headerRegexClause struct {
	name    string
	pattern string
	regex   *regexp.Regexp
}

func (c *headerRegexClause) Test(req *Request, _ map[string]string) (bool, error) {
	for _, v := range req.Header.Values(c.name) {
		if c.regex.MatchString(v) {
			return true, nil
		}
	}
	return false, nil
}

func (c *headerRegexClause) String() string { return "Header=" + c.name + ",regex=" + c.pattern }

// hostClause matches the request host, port stripped.
type hostClause struct {
	pattern string
	regex   *regexp.Regexp
}

func (c *hostClause) Test(req *Request, vars map[string]string) (bool, error) {
	return matchCapture(c.regex, req.Host, vars), nil
}

func (c *hostClause) String() string { return "Host=" + c.pattern }

// bodyClause is evaluated lazily: an unknown mode or a bad regex only
// fails the request that reaches it.
type bodyClause struct {
	raw     string
	mode    string
	value   string
	hasMode bool

	regexOnce sync.Once
	regex     *regexp.Regexp
	regexErr  error
}

func newBodyClause(raw string) *bodyClause {
	c := &bodyClause{raw: raw}
	c.mode, c.value, c.hasMode = strings.Cut(raw, ":")
	return c
}

func (c *bodyClause) Test(req *Request, _ map[string]string) (bool, error) {
	body, err := req.Body()
	if err != nil {
		return false, util.NewBodyEvaluationError(c.mode, c.value, err)
	}

	if !c.hasMode {
		return strings.Contains(body, c.raw), nil
	}

	switch c.mode {
	case BodyModeContains:
		return strings.Contains(body, c.value), nil
	case BodyModeEquals:
		return body == c.value, nil
	case BodyModeStartsWith:
		return strings.HasPrefix(body, c.value), nil
	case BodyModeEndsWith:
		return strings.HasSuffix(body, c.value), nil
	case BodyModeMatches:
		c.regexOnce.Do(func() {
			c.regex, c.regexErr = compileRegex(`^(?:` + c.value + `)$`)
		})
		if c.regexErr != nil {
			return false, util.NewBodyEvaluationError(c.mode, c.value, c.regexErr)
		}
		return c.regex.MatchString(body), nil
	default:
		return false, util.NewBodyEvaluationError(c.mode, c.value, nil)
	}
}

func (c *bodyClause) String() string { return "Body=" + c.raw }

// matchCapture reports whether re matches s, copying named groups into vars.
func matchCapture(re *regexp.Regexp, s string, vars map[string]string) bool {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	if vars != nil {
		for i, name := range re.SubexpNames() {
			if i > 0 && name != "" {
				vars[name] = m[i]
			}
		}
	}
	return true
}
