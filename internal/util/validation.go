package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// headerNameRegex validates HTTP header names according to RFC 7230.
var headerNameRegex = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// ForwardScheme marks a target that is served by the gateway's own local handler.
const ForwardScheme = "forward"

// ValidateTargetURI validates an upstream URI. Accepted forms are absolute
// http(s) URLs and forward:/local/path.
func ValidateTargetURI(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("URI cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		if parsed.Host == "" {
			return nil, fmt.Errorf("URI must have a host")
		}
	case ForwardScheme:
		if parsed.Opaque == "" && parsed.Path == "" {
			return nil, fmt.Errorf("forward URI must have a path")
		}
	case "":
		return nil, fmt.Errorf("URI must have a scheme (http, https or forward)")
	default:
		return nil, fmt.Errorf("URI scheme must be http, https or forward, got: %s", parsed.Scheme)
	}

	return parsed, nil
}

// ForwardPath returns the local path of a forward: URI.
func ForwardPath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}

// ValidateHeaderName validates an HTTP header name.
func ValidateHeaderName(name string) error {
	if name == "" {
		return fmt.Errorf("header name cannot be empty")
	}

	if !headerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid header name: %s", name)
	}

	return nil
}

// ValidateHTTPMethod validates an HTTP method.
func ValidateHTTPMethod(method string) error {
	validMethods := map[string]bool{
		"GET":     true,
		"POST":    true,
		"PUT":     true,
		"DELETE":  true,
		"PATCH":   true,
		"HEAD":    true,
		"OPTIONS": true,
		"TRACE":   true,
		"CONNECT": true,
	}

	method = strings.ToUpper(method)
	if !validMethods[method] {
		return fmt.Errorf("invalid HTTP method: %s", method)
	}

	return nil
}

// ValidateHTTPStatusCode validates an HTTP status code.
func ValidateHTTPStatusCode(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("HTTP status code must be between 100 and 599, got: %d", code)
	}
	return nil
}
