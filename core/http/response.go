package http

import (
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"

	"github.com/searchktools/evhttp/core"
)

// Content types set by the response helpers
const (
	ContentTypeJSON  = "application/json; charset=UTF-8"
	ContentTypeText  = "text/plain; charset=UTF-8"
	ContentTypeBytes = "application/octet-stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is filled by a route handler and serialized once, when the
// connection first becomes writable.
type Response struct {
	Code    int
	Message string
	Headers map[string]string
	Body    []byte

	buf        []byte
	cursor     int
	serialized bool
}

// NewResponse creates a 200 OK response with no body.
func NewResponse() *Response {
	return &Response{
		Code:    StatusOK,
		Message: StatusText(StatusOK),
		Headers: make(map[string]string),
	}
}

// Status sets the status code with its standard reason phrase.
func (r *Response) Status(code int) *Response {
	r.Code = code
	r.Message = StatusText(code)
	return r
}

// SetStatus sets the status code with a custom reason phrase.
func (r *Response) SetStatus(code int, message string) *Response {
	r.Code = code
	r.Message = message
	return r
}

// SetHeader sets a header sent after the fixed ones. Server,
// Content-Length and Connection are always computed by the server.
func (r *Response) SetHeader(name, value string) *Response {
	r.Headers[name] = value
	return r
}

// String sends a text body.
func (r *Response) String(code int, s string) {
	r.Data(code, ContentTypeText, []byte(s))
}

// JSON sends v encoded as JSON. An encoding failure becomes a 500.
func (r *Response) JSON(code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.String(StatusInternalServerError, "JSON marshal error")
		return
	}
	r.Data(code, ContentTypeJSON, data)
}

// Data sends raw bytes with the given content type.
func (r *Response) Data(code int, contentType string, data []byte) {
	r.Status(code)
	r.Headers[core.HeaderContentType] = contentType
	r.Body = data
}

// Serialize renders the status line, headers and body into the send buffer.
// Only the first call has an effect. Headers with invalid names or values
// are dropped.
func (r *Response) Serialize(proto string, keepAlive bool, server string, log zerolog.Logger) {
	if r.serialized {
		return
	}
	r.serialized = true

	if proto == "" {
		proto = HTTP11
	}

	names := make([]string, 0, len(r.Headers))
	for name, value := range r.Headers {
		switch name {
		case core.HeaderServer, core.HeaderContentType, core.HeaderContentLength, core.HeaderConnection:
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			log.Warn().Str("header", name).Msg("dropping invalid response header")
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	contentType, ok := r.Headers[core.HeaderContentType]
	if !ok || !httpguts.ValidHeaderFieldValue(contentType) {
		contentType = ContentTypeJSON
	}

	size := len(proto) + len(r.Message) + len(server) + len(contentType) + len(r.Body) + 128
	for _, name := range names {
		size += len(name) + len(r.Headers[name]) + 4
	}
	b := make([]byte, 0, size)

	b = append(b, proto...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(r.Code), 10)
	b = append(b, ' ')
	b = append(b, r.Message...)
	b = append(b, "\r\n"...)

	b = appendHeader(b, core.HeaderServer, server)
	b = appendHeader(b, core.HeaderContentType, contentType)

	b = append(b, core.HeaderContentLength...)
	b = append(b, ": "...)
	b = strconv.AppendInt(b, int64(len(r.Body)), 10)
	b = append(b, "\r\n"...)

	if keepAlive {
		b = appendHeader(b, core.HeaderConnection, "keep-alive")
	} else {
		b = appendHeader(b, core.HeaderConnection, "close")
	}

	for _, name := range names {
		b = appendHeader(b, name, r.Headers[name])
	}

	b = append(b, "\r\n"...)
	b = append(b, r.Body...)

	r.buf = b
	r.cursor = 0
}

func appendHeader(b []byte, name, value string) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, "\r\n"...)
}

// Serialized reports whether Serialize ran.
func (r *Response) Serialized() bool {
	return r.serialized
}

// Bytes returns the whole serialized response.
func (r *Response) Bytes() []byte {
	return r.buf
}

// Next returns up to limit unsent bytes and marks them as sent. Bytes the
// socket did not accept must be handed back with Rollback.
func (r *Response) Next(limit int) []byte {
	end := r.cursor + limit
	if limit <= 0 || end > len(r.buf) {
		end = len(r.buf)
	}
	chunk := r.buf[r.cursor:end]
	r.cursor = end
	return chunk
}

// Rollback marks the last n bytes handed out by Next as unsent.
func (r *Response) Rollback(n int) {
	if n > r.cursor {
		n = r.cursor
	}
	r.cursor -= n
}

// Done reports whether every serialized byte was sent.
func (r *Response) Done() bool {
	return r.serialized && r.cursor >= len(r.buf)
}
