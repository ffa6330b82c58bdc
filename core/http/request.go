package http

import (
	"github.com/indigo-web/utils/strcomp"

	"github.com/searchktools/evhttp/core"
)

// Supported request methods
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// Supported protocol versions
const (
	HTTP10 = "HTTP/1.0"
	HTTP11 = "HTTP/1.1"
)

// Request is a parsed HTTP/1.x request.
//
// Header names are matched case-sensitively: "Connection" and "connection"
// are different keys. This is a deliberate simplification of the protocol's
// case-insensitive rule.
type Request struct {
	Method string
	// RawTarget is the request-target exactly as received.
	RawTarget string
	Path      string
	Proto     string

	// Query holds the decoded query string; the last value wins on
	// duplicate keys.
	Query map[string]string
	// Headers holds header fields; the last value wins on duplicate names.
	Headers map[string]string

	// Body is the raw POST body.
	Body []byte
	// Form holds the form-urlencoded POST body.
	Form map[string]string
}

// NewRequest creates an empty request.
func NewRequest() *Request {
	return &Request{
		Query:   make(map[string]string),
		Headers: make(map[string]string),
		Form:    make(map[string]string),
	}
}

// Header returns a header value by its exact name.
func (r *Request) Header(name string) string {
	return r.Headers[name]
}

// QueryValue returns a query parameter.
func (r *Request) QueryValue(key string) string {
	return r.Query[key]
}

// FormValue returns a POST form parameter.
func (r *Request) FormValue(key string) string {
	return r.Form[key]
}

// KeepAlive reports whether the client asked for the connection to be
// reused with "Connection: keep-alive". The header name is matched exactly,
// the value ignoring case.
func (r *Request) KeepAlive() bool {
	return strcomp.EqualFold(r.Headers[core.HeaderConnection], "keep-alive")
}
