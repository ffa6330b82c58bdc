// Package middleware runs request filters ahead of route handlers.
package middleware

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/searchktools/evhttp/core"
	"github.com/searchktools/evhttp/core/http"
)

// Middleware inspects or decorates a request before its route handler.
// Returning false aborts the chain: resp then holds the final answer.
type Middleware func(req *http.Request, resp *http.Response) bool

// Pipeline is an ordered list of middlewares
type Pipeline struct {
	handlers []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]Middleware, 0, 8),
	}
}

// Use adds a middleware to the pipeline
func (p *Pipeline) Use(handler Middleware) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// Len returns the number of middlewares
func (p *Pipeline) Len() int {
	return len(p.handlers)
}

// Execute runs the middlewares in order, then final unless one aborted
func (p *Pipeline) Execute(req *http.Request, resp *http.Response, final http.HandlerFunc) {
	for _, handler := range p.handlers {
		if !handler(req, resp) {
			return
		}
	}
	final(req, resp)
}

// Then wraps final so that every call runs through the pipeline
func (p *Pipeline) Then(final http.HandlerFunc) http.HandlerFunc {
	return func(req *http.Request, resp *http.Response) {
		p.Execute(req, resp, final)
	}
}

// Common middleware implementations

// RequestID adds a sequential X-Request-ID response header
func RequestID() Middleware {
	var counter atomic.Uint64

	return func(_ *http.Request, resp *http.Response) bool {
		resp.SetHeader("X-Request-ID", strconv.FormatUint(counter.Add(1), 10))
		return true
	}
}

// CORS adds CORS headers for origin
func CORS(origin string) Middleware {
	methods := strings.Join([]string{http.MethodGet, http.MethodPost}, ", ")

	return func(_ *http.Request, resp *http.Response) bool {
		resp.SetHeader("Access-Control-Allow-Origin", origin)
		resp.SetHeader("Access-Control-Allow-Methods", methods)
		resp.SetHeader("Access-Control-Allow-Headers", core.HeaderContentType)
		return true
	}
}

// RateLimiter answers 429 once more than requestsPerSecond requests arrive
// within one second. now defaults to time.Now.
func RateLimiter(requestsPerSecond int, now func() time.Time) Middleware {
	if now == nil {
		now = time.Now
	}

	tokens := requestsPerSecond
	lastRefill := now()

	// handlers run on the reactor goroutine only, no locking needed
	return func(_ *http.Request, resp *http.Response) bool {
		if t := now(); t.Sub(lastRefill) >= time.Second {
			tokens = requestsPerSecond
			lastRefill = t
		}

		if tokens > 0 {
			tokens--
			return true
		}

		resp.SetHeader("Retry-After", "1")
		resp.JSON(http.StatusTooManyRequests, map[string]any{
			"error": http.StatusText(http.StatusTooManyRequests),
		})
		return false
	}
}
