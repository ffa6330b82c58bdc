package http

import "github.com/searchktools/evhttp/core/pools"

// Exchange is the per-connection state of the HTTP protocol: the request
// being read, the response being written and the parser feeding the
// request. One exchange is in flight per connection at a time.
type Exchange struct {
	Request  *Request
	Response *Response

	parser  *Parser
	pool    *pools.BytePool
	maxSize int

	keepAlive bool
	// set on protocol errors: the connection closes after the response
	closeAfter bool
}

// NewExchange creates an exchange ready to read its first request.
func NewExchange(pool *pools.BytePool, maxSize int) *Exchange {
	x := &Exchange{pool: pool, maxSize: maxSize}
	x.Reset()
	return x
}

// Parser returns the parser of the current request.
func (x *Exchange) Parser() *Parser {
	return x.parser
}

// KeepAlive reports whether the connection is reused after the response.
func (x *Exchange) KeepAlive() bool {
	return x.keepAlive && !x.closeAfter
}

// Reset replaces the request, response and parser with fresh ones for the
// next exchange on a kept-alive connection.
func (x *Exchange) Reset() {
	if x.parser != nil {
		x.parser.Release()
	}

	x.Request = NewRequest()
	x.Response = NewResponse()
	x.parser = NewParser(x.Request, x.pool, x.maxSize)
	x.keepAlive = false
	x.closeAfter = false
}

// Release returns pooled buffers when the connection closes.
func (x *Exchange) Release() {
	if x.parser != nil {
		x.parser.Release()
		x.parser = nil
	}
	x.Request = nil
	x.Response = nil
}
