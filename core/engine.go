//go:build linux || darwin

package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/evhttp/core/poller"
	"github.com/searchktools/evhttp/core/stats"
)

// Options configures an Engine.
type Options struct {
	Host string
	// Port 0 binds an ephemeral port, see Engine.Addr.
	Port    int
	Backlog int
	// MaxEvents caps the readiness events drained per loop iteration.
	MaxEvents      int
	ReadBufferSize int
	// IdleTimeout evicts connections without activity for longer than
	// this. Zero disables eviction and the loop blocks indefinitely.
	IdleTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Backlog <= 0 {
		o.Backlog = DefaultBacklog
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
}

type settings struct {
	log   zerolog.Logger
	stats *stats.Counters
}

// Option customizes the engine's collaborators.
type Option func(*settings)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) {
		s.log = log
	}
}

// WithStats sets the counters the engine reports to.
func WithStats(c *stats.Counters) Option {
	return func(s *settings) {
		s.stats = c
	}
}

// Engine is a single-threaded readiness reactor: it owns one listening
// socket and every connection accepted from it, and drives a Handler from
// epoll/kqueue notifications. Apart from Stop, none of its methods are safe
// for concurrent use.
type Engine[C any] struct {
	opts    Options
	handler Handler[C]
	log     zerolog.Logger
	stats   *stats.Counters

	lfd       int
	addr      string
	listening bool
	conns     map[int]*Conn[C]
	readBuf   []byte
	// descriptors torn down during the current batch; closed after it so
	// accept cannot hand out the same number while stale events remain
	closing   *queue.Queue
	lastSweep time.Time

	mu       sync.Mutex
	poller   poller.Poller
	stopping atomic.Bool
}

// New creates an engine serving handler.
func New[C any](handler Handler[C], opts Options, options ...Option) *Engine[C] {
	opts.applyDefaults()

	s := settings{log: zerolog.Nop()}
	for _, option := range options {
		option(&s)
	}
	if s.stats == nil {
		s.stats = stats.New()
	}

	return &Engine[C]{
		opts:    opts,
		handler: handler,
		log:     s.log,
		stats:   s.stats,
		lfd:     -1,
		conns:   make(map[int]*Conn[C], 1024),
		readBuf: make([]byte, opts.ReadBufferSize),
		closing: queue.New(),
	}
}

// Stats returns the counters the engine reports to.
func (e *Engine[C]) Stats() *stats.Counters {
	return e.stats
}

// Addr returns the bound address once Listen succeeded.
func (e *Engine[C]) Addr() string {
	return e.addr
}

// Listen binds the listening socket and prepares the poller. Any failure
// here is fatal for the server. A stopped engine cannot listen again.
func (e *Engine[C]) Listen() error {
	if e.stopping.Load() {
		return ErrEngineStopped
	}
	if e.listening {
		return nil
	}

	lfd, err := listenSocket(e.opts.Host, e.opts.Port, e.opts.Backlog)
	if err != nil {
		return err
	}

	p, err := poller.NewPoller(e.opts.MaxEvents)
	if err != nil {
		unix.Close(lfd)
		return err
	}

	// the listener stays level-triggered: one readiness report per
	// pending batch is enough because acceptConnections drains it
	if err := p.Add(lfd, poller.Readable); err != nil {
		p.Close()
		unix.Close(lfd)
		return err
	}

	if sa, err := unix.Getsockname(lfd); err == nil {
		e.addr = sockaddrString(sa)
	}

	e.mu.Lock()
	e.poller = p
	e.mu.Unlock()

	e.lfd = lfd
	e.listening = true
	e.log.Info().
		Str("addr", e.addr).
		Int("backlog", e.opts.Backlog).
		Int("max_events", e.opts.MaxEvents).
		Dur("idle_timeout", e.opts.IdleTimeout).
		Msg("listening")

	return nil
}

// Start listens and runs the event loop on the calling goroutine. It
// returns nil after Stop, or the error that made the loop unusable.
func (e *Engine[C]) Start() error {
	if err := e.Listen(); err != nil {
		return err
	}
	return e.Serve()
}

// Serve runs the event loop. Listen must have succeeded.
func (e *Engine[C]) Serve() error {
	if !e.listening {
		return ErrNotListening
	}
	defer e.shutdown()

	e.lastSweep = time.Now()
	timeout := e.waitTimeout()

	for !e.stopping.Load() {
		events, err := e.poller.Wait(timeout)
		if err != nil {
			e.log.Error().Err(err).Msg("poller wait failed")
			return err
		}

		for _, ev := range events {
			if ev.Fd == e.lfd {
				e.acceptConnections()
				continue
			}
			e.dispatch(ev)
		}

		if e.opts.IdleTimeout > 0 {
			e.evictIdle(time.Now())
		}
		e.flushClosing()
	}

	return nil
}

// Stop makes Serve return after the current iteration. Safe to call from
// any goroutine, any number of times.
func (e *Engine[C]) Stop() {
	if e.stopping.Swap(true) {
		return
	}

	e.mu.Lock()
	p := e.poller
	e.mu.Unlock()

	if p != nil {
		if err := p.Wake(); err != nil {
			e.log.Warn().Err(err).Msg("wake poller")
		}
	}
}

func (e *Engine[C]) waitTimeout() int {
	if e.opts.IdleTimeout <= 0 {
		return -1
	}

	interval := e.opts.IdleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}

	return int(interval / time.Millisecond)
}

// acceptConnections accepts every pending connection
func (e *Engine[C]) acceptConnections() {
	for {
		nfd, sa, err := acceptSocket(e.lfd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			}
			e.log.Error().Err(err).Msg("accept failed")
			return
		}

		setNoDelay(nfd)

		conn := &Conn[C]{
			fd:         nfd,
			peer:       sockaddrString(sa),
			lastActive: time.Now(),
		}

		ctx, err := e.handler.OnAccept(conn)
		if err != nil {
			e.log.Warn().Err(err).Str("peer", conn.peer).Msg("connection rejected")
			e.stats.Rejected()
			unix.Close(nfd)
			continue
		}
		conn.ctx = ctx

		if err := e.poller.Add(nfd, poller.Readable|poller.EdgeTriggered); err != nil {
			e.log.Error().Err(err).Int("fd", nfd).Msg("register connection")
			e.handler.OnClose(conn, ctx)
			unix.Close(nfd)
			continue
		}

		e.conns[nfd] = conn
		e.stats.Accepted()
		e.log.Debug().Int("fd", nfd).Str("peer", conn.peer).Msg("accepted")
	}
}

// dispatch routes one readiness event to the read or write path
func (e *Engine[C]) dispatch(ev poller.Event) {
	conn, ok := e.conns[ev.Fd]
	if !ok || conn.closed {
		return
	}

	conn.lastActive = time.Now()

	switch {
	case ev.Readable:
		e.handleRead(conn)
	case ev.Writable:
		e.handleWrite(conn)
	case ev.Hangup:
		e.closeConnection(conn, "hangup")
	}
}

// handleRead drains the socket: under edge triggering no further event
// arrives for bytes left unread.
func (e *Engine[C]) handleRead(conn *Conn[C]) {
	for {
		n, err := unix.Read(conn.fd, e.readBuf)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR:
				continue
			}
			e.log.Debug().Err(err).Int("fd", conn.fd).Msg("read failed")
			e.closeConnection(conn, "read error")
			return
		}

		if n == 0 {
			e.closeConnection(conn, "peer closed")
			return
		}
		e.stats.BytesRead(n)

		switch e.handler.OnReadable(conn, conn.ctx, e.readBuf[:n]) {
		case ReadContinue:
			continue
		case ReadDone:
			if err := e.poller.Modify(conn.fd, poller.Writable|poller.EdgeTriggered); err != nil {
				e.log.Error().Err(err).Int("fd", conn.fd).Msg("arm write")
				e.closeConnection(conn, "arm write failed")
			}
			return
		default:
			e.closeConnection(conn, "protocol error")
			return
		}
	}
}

func (e *Engine[C]) handleWrite(conn *Conn[C]) {
	before := conn.written
	status := e.handler.OnWriteable(conn, conn.ctx)
	e.stats.BytesWritten(int(conn.written - before))

	var err error
	switch status {
	case WriteContinue:
		err = e.poller.Modify(conn.fd, poller.Writable|poller.EdgeTriggered)
	case WriteAlive:
		err = e.poller.Modify(conn.fd, poller.Readable|poller.EdgeTriggered)
	case WriteClose:
		e.closeConnection(conn, "response complete")
		return
	default:
		e.closeConnection(conn, "write error")
		return
	}

	if err != nil {
		e.log.Error().Err(err).Int("fd", conn.fd).Stringer("status", status).Msg("re-arm connection")
		e.closeConnection(conn, "re-arm failed")
	}
}

// closeConnection tears a connection down; repeated calls are no-ops.
func (e *Engine[C]) closeConnection(conn *Conn[C], reason string) {
	if conn.closed {
		return
	}
	conn.closed = true

	// 1. Stop receiving events
	delete(e.conns, conn.fd)
	if err := e.poller.Remove(conn.fd); err != nil {
		e.log.Debug().Err(err).Int("fd", conn.fd).Msg("deregister connection")
	}

	// 2. Let the protocol release its state
	e.handler.OnClose(conn, conn.ctx)
	var zero C
	conn.ctx = zero

	// 3. Close the fd once the batch is done
	e.closing.Add(conn.fd)
	e.stats.Closed()
	e.log.Debug().Int("fd", conn.fd).Str("peer", conn.peer).Str("reason", reason).Msg("closed")
}

func (e *Engine[C]) flushClosing() {
	for e.closing.Length() > 0 {
		fd := e.closing.Remove().(int)
		if err := unix.Close(fd); err != nil {
			e.log.Debug().Err(err).Int("fd", fd).Msg("close descriptor")
		}
	}
}

// evictIdle removes connections idle for longer than IdleTimeout
func (e *Engine[C]) evictIdle(now time.Time) {
	if now.Sub(e.lastSweep) < time.Duration(e.waitTimeout())*time.Millisecond {
		return
	}
	e.lastSweep = now

	for _, conn := range e.conns {
		if now.Sub(conn.lastActive) > e.opts.IdleTimeout {
			e.stats.Evicted()
			e.closeConnection(conn, "idle timeout")
		}
	}
}

func (e *Engine[C]) shutdown() {
	for _, conn := range e.conns {
		e.closeConnection(conn, "shutdown")
	}
	e.flushClosing()

	if err := unix.Close(e.lfd); err != nil {
		e.log.Warn().Err(err).Msg("close listener")
	}

	e.mu.Lock()
	if err := e.poller.Close(); err != nil {
		e.log.Warn().Err(err).Msg("close poller")
	}
	e.poller = nil
	e.mu.Unlock()

	e.lfd = -1
	e.listening = false
	e.log.Info().Str("addr", e.addr).Msg("stopped")
}
