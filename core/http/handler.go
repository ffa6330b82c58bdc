package http

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/searchktools/evhttp/core"
	"github.com/searchktools/evhttp/core/pools"
	"github.com/searchktools/evhttp/core/router"
	"github.com/searchktools/evhttp/core/stats"
)

// HandlerFunc serves one request by filling resp. It runs on the reactor
// goroutine and must not block.
type HandlerFunc func(req *Request, resp *Response)

// Options configures the protocol handler.
type Options struct {
	// ServerName is sent in the Server header.
	ServerName      string
	MaxRequestSize  int
	WriteBufferSize int
}

// DefaultServerName is sent when Options.ServerName is empty.
const DefaultServerName = "evhttp/0.1"

func (o *Options) applyDefaults() {
	if o.ServerName == "" {
		o.ServerName = DefaultServerName
	}
	if o.MaxRequestSize <= 0 {
		o.MaxRequestSize = core.DefaultMaxRequestSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = core.DefaultWriteBufferSize
	}
}

// Handler is the HTTP/1.x protocol driven by core.Engine. It owns the
// route table: routes are registered before the engine starts and the
// table is sealed by Seal.
type Handler struct {
	opts   Options
	routes *router.Table[HandlerFunc]
	log    zerolog.Logger
	stats  *stats.Counters
	pool   *pools.BytePool
}

var _ core.Handler[*Exchange] = (*Handler)(nil)

// NewHandler creates a handler with an empty route table. counters may be
// nil.
func NewHandler(opts Options, log zerolog.Logger, counters *stats.Counters) *Handler {
	opts.applyDefaults()
	if counters == nil {
		counters = stats.New()
	}

	return &Handler{
		opts:   opts,
		routes: router.NewTable[HandlerFunc](),
		log:    log,
		stats:  counters,
		pool:   pools.NewBytePool(),
	}
}

// Handle registers fn for method and path. It panics once the table is
// sealed.
func (h *Handler) Handle(method, path string, fn HandlerFunc) {
	if err := h.routes.Add(method, path, fn); err != nil {
		panic(fmt.Sprintf("http: register %s %s: %v", method, path, err))
	}
}

// GET registers a GET route.
func (h *Handler) GET(path string, fn HandlerFunc) {
	h.Handle(MethodGet, path, fn)
}

// POST registers a POST route.
func (h *Handler) POST(path string, fn HandlerFunc) {
	h.Handle(MethodPost, path, fn)
}

// RegisterHandler registers fn for both GET and POST on path.
func (h *Handler) RegisterHandler(path string, fn HandlerFunc) {
	h.GET(path, fn)
	h.POST(path, fn)
}

// Seal freezes the route table.
func (h *Handler) Seal() {
	h.routes.Seal()
}

// Routes returns the number of registered paths.
func (h *Handler) Routes() int {
	return h.routes.Len()
}

// OnAccept implements core.Handler.
func (h *Handler) OnAccept(core.Transport) (*Exchange, error) {
	return NewExchange(h.pool, h.opts.MaxRequestSize), nil
}

// OnReadable implements core.Handler.
func (h *Handler) OnReadable(t core.Transport, x *Exchange, data []byte) core.ReadStatus {
	switch x.parser.Feed(data) {
	case StatusContinue:
		return core.ReadContinue
	case StatusDone:
		h.stats.Request()
		h.dispatch(x)
		return core.ReadDone
	case StatusOversized:
		h.stats.Oversized()
		h.reject(t, x, StatusRequestTooLarge)
		return core.ReadDone
	default:
		h.stats.ParseError()
		h.reject(t, x, StatusBadRequest)
		return core.ReadDone
	}
}

// OnWriteable implements core.Handler. Each call performs one send of at
// most WriteBufferSize bytes; unaccepted bytes are rolled back and retried
// on the next writable event.
func (h *Handler) OnWriteable(t core.Transport, x *Exchange) core.WriteStatus {
	resp := x.Response
	if !resp.Serialized() {
		resp.Serialize(x.Request.Proto, x.KeepAlive(), h.opts.ServerName, h.log)
		h.stats.Response(resp.Code)
	}

	if !resp.Done() {
		chunk := resp.Next(h.opts.WriteBufferSize)
		n, err := t.Write(chunk)
		if err != nil {
			resp.Rollback(len(chunk))
			if errors.Is(err, core.ErrWouldBlock) {
				return core.WriteContinue
			}
			h.log.Debug().Err(err).Int("fd", t.FD()).Msg("send failed")
			return core.WriteError
		}
		resp.Rollback(len(chunk) - n)

		if !resp.Done() {
			return core.WriteContinue
		}
	}

	if !x.KeepAlive() {
		return core.WriteClose
	}

	h.stats.KeepAlive()
	x.Reset()
	return core.WriteAlive
}

// OnClose implements core.Handler.
func (h *Handler) OnClose(_ core.Transport, x *Exchange) {
	x.Release()
}

// dispatch routes a complete request and runs its handler.
func (h *Handler) dispatch(x *Exchange) {
	req, resp := x.Request, x.Response
	x.keepAlive = req.KeepAlive()

	fn, allow, result := h.routes.Find(req.Method, req.Path)
	switch result {
	case router.NotFound:
		resp.String(StatusNotFound, StatusText(StatusNotFound))
	case router.MethodNotAllowed:
		resp.String(StatusMethodNotAllowed, StatusText(StatusMethodNotAllowed))
		resp.SetHeader(core.HeaderAllow, allow)
	default:
		h.invoke(fn, x)
	}

	h.log.Debug().
		Str("method", req.Method).
		Str("target", req.RawTarget).
		Int("status", x.Response.Code).
		Bool("keep_alive", x.keepAlive).
		Msg("request")
}

// invoke runs fn and converts a panic into a 500 response.
func (h *Handler) invoke(fn HandlerFunc, x *Exchange) {
	defer func() {
		if r := recover(); r != nil {
			h.stats.HandlerPanic()
			h.log.Error().
				Interface("panic", r).
				Str("method", x.Request.Method).
				Str("path", x.Request.Path).
				Msg("handler panicked")

			x.Response = NewResponse()
			x.Response.String(StatusInternalServerError, StatusText(StatusInternalServerError))
		}
	}()

	fn(x.Request, x.Response)
}

// reject answers a malformed or oversized request and closes afterwards.
func (h *Handler) reject(t core.Transport, x *Exchange, code int) {
	h.log.Debug().
		Err(x.parser.Err()).
		Int("fd", t.FD()).
		Str("peer", t.RemoteAddr()).
		Int("status", code).
		Msg("rejecting request")

	x.closeAfter = true
	x.Response = NewResponse()
	x.Response.String(code, StatusText(code))
}
