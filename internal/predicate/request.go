package predicate

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
)

// DefaultMaxBodySize bounds how much of a request body a body clause buffers.
const DefaultMaxBodySize = 1 << 20

// ErrBodyTooLarge is returned when a body clause meets a body above the buffering limit.
var ErrBodyTooLarge = errors.New("request body exceeds buffering limit")

type readCloser struct {
	io.Reader
	io.Closer
}

// Request is the view of an inbound request a predicate is evaluated
// against. The body is read lazily, on the first body clause that runs,
// and the original request body is replaced with the buffered copy so it
// can still be forwarded upstream.
type Request struct {
	Method string
	Path   string
	Host   string
	Header http.Header

	src         *http.Request
	maxBodySize int64
	bodyOnce    sync.Once
	body        string
	bodyErr     error
}

// NewRequest wraps an inbound HTTP request.
func NewRequest(r *http.Request) *Request {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return &Request{
		Method:      r.Method,
		Path:        path,
		Host:        stripPort(r.Host),
		Header:      r.Header,
		src:         r,
		maxBodySize: DefaultMaxBodySize,
	}
}

// WithMaxBodySize overrides the body buffering limit.
func (r *Request) WithMaxBodySize(n int64) *Request {
	r.maxBodySize = n
	return r
}

// Body returns the request body as text, reading it at most once.
func (r *Request) Body() (string, error) {
	r.bodyOnce.Do(func() {
		if r.src == nil || r.src.Body == nil || r.src.Body == http.NoBody {
			return
		}
		orig := r.src.Body
		data, err := io.ReadAll(io.LimitReader(orig, r.maxBodySize+1))
		if err != nil {
			r.bodyErr = err
			return
		}
		if int64(len(data)) > r.maxBodySize {
			// Keep the unread remainder so the upstream still gets the full body.
			r.src.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), orig), Closer: orig}
			r.bodyErr = ErrBodyTooLarge
			return
		}
		_ = orig.Close()
		r.src.Body = io.NopCloser(bytes.NewReader(data))
		r.src.ContentLength = int64(len(data))
		r.body = string(data)
	})
	return r.body, r.bodyErr
}

// stripPort removes the port from a host string, keeping IPv6 literals intact.
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
