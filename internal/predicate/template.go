package predicate

import (
	"fmt"
	"regexp"
	"strings"
)

// varNamePattern restricts template variable names to what regexp accepts
// as a capture group name.
var varNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// pathTemplateToRegex converts a path template into an anchored regex.
//
//	?          one character within a segment
//	*          zero or more characters within a segment
//	**         zero or more whole segments
//	{name}     one segment captured as name
//	{name:re}  a segment matching re, captured as name
//	{*name}    the remaining path (last segment only), captured as name
//
// A trailing slash on the request path is tolerated.
func pathTemplateToRegex(pattern string) (string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return "", fmt.Errorf("path pattern must start with '/'")
	}

	trimmed := strings.Trim(pattern, "/")
	var b strings.Builder
	b.WriteString("^")

	if trimmed != "" {
		segments := strings.Split(trimmed, "/")
		last := len(segments) - 1
		for i, seg := range segments {
			switch {
			case seg == "**":
				b.WriteString(`(?:/[^/]*)*`)
			case strings.HasPrefix(seg, "{*") && strings.HasSuffix(seg, "}"):
				if i != last {
					return "", fmt.Errorf("capture-all %q must be the last segment", seg)
				}
				name := seg[2 : len(seg)-1]
				if !varNamePattern.MatchString(name) {
					return "", fmt.Errorf("invalid variable name %q", name)
				}
				b.WriteString(`(?P<` + name + `>(?:/.*)?)`)
			default:
				re, err := segmentToRegex(seg, '/')
				if err != nil {
					return "", err
				}
				b.WriteString("/")
				b.WriteString(re)
			}
		}
	}

	b.WriteString(`/?$`)
	return b.String(), nil
}

// hostTemplateToRegex converts a dot-separated host template into an
// anchored, case-insensitive regex. A leading ** matches any number of
// subdomains, including none.
func hostTemplateToRegex(pattern string) (string, error) {
	segments := strings.Split(strings.Trim(pattern, "."), ".")
	var b strings.Builder
	b.WriteString(`(?i)^`)

	for i, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("empty label in host pattern")
		}
		if seg == "**" {
			if i == 0 {
				b.WriteString(`(?:[^.]+\.)*`)
			} else {
				b.WriteString(`(?:\.[^.]+)*`)
			}
			continue
		}
		if i > 0 && (i != 1 || segments[0] != "**") {
			b.WriteString(`\.`)
		}
		re, err := segmentToRegex(seg, '.')
		if err != nil {
			return "", err
		}
		b.WriteString(re)
	}

	b.WriteString(`$`)
	return b.String(), nil
}

// segmentToRegex converts one template segment; sep is the segment separator
// that single-segment wildcards must not cross.
func segmentToRegex(seg string, sep byte) (string, error) {
	notSep := `[^` + regexp.QuoteMeta(string(sep)) + `]`
	var b strings.Builder

	for i := 0; i < len(seg); i++ {
		switch c := seg[i]; c {
		case '*':
			b.WriteString(notSep + `*`)
		case '?':
			b.WriteString(notSep)
		case '{':
			end := matchingBrace(seg, i)
			if end < 0 {
				return "", fmt.Errorf("unbalanced '{' in %q", seg)
			}
			re, err := variableToRegex(seg[i+1:end], notSep)
			if err != nil {
				return "", err
			}
			b.WriteString(re)
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	return b.String(), nil
}

// variableToRegex renders the inside of a {name} or {name:re} expression.
func variableToRegex(expr, notSep string) (string, error) {
	name, constraint, hasConstraint := strings.Cut(expr, ":")
	if !varNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid variable name %q", name)
	}
	if !hasConstraint {
		return `(?P<` + name + `>` + notSep + `+)`, nil
	}
	if constraint == "" {
		return "", fmt.Errorf("empty constraint for variable %q", name)
	}
	return `(?P<` + name + `>` + constraint + `)`, nil
}

// matchingBrace returns the index of the '}' closing the '{' at start,
// honoring nested braces such as \d{3} inside a constraint.
func matchingBrace(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
