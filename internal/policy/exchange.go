package policy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/routegw/internal/util"
)

// Exchange is the outbound request as the chain shapes it. Actions never
// modify an Exchange they received; they pass a modified copy downstream,
// so every retry attempt starts from the same state.
type Exchange struct {
	RouteID  string
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Target   *url.URL

	// Vars holds the variables captured by the route predicate.
	Vars map[string]string

	// Inbound is the original request. Read-only.
	Inbound *http.Request
}

// NewExchange builds an Exchange from an inbound request whose body has
// already been buffered.
func NewExchange(r *http.Request, routeID string, target *url.URL, body []byte, vars map[string]string) *Exchange {
	return &Exchange{
		RouteID:  routeID,
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
		Target:   target,
		Vars:     vars,
		Inbound:  r,
	}
}

// Clone returns a copy whose Header can be modified independently.
func (ex *Exchange) Clone() *Exchange {
	c := *ex
	c.Header = ex.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

// Response is a buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{StatusCode: status, Header: make(http.Header)}
}

// Write copies the response to w.
func (r *Response) Write(w http.ResponseWriter) error {
	util.CopyHeader(w.Header(), r.Header)
	w.WriteHeader(r.StatusCode)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

// Handler produces the response for an Exchange. A non-nil error may come
// with a non-nil Response, in which case the Response is what the caller
// should see and the error explains why.
type Handler func(ctx context.Context, ex *Exchange) (*Response, error)
