package app

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/searchktools/evhttp/config"
	"github.com/searchktools/evhttp/core"
	"github.com/searchktools/evhttp/core/http"
	"github.com/searchktools/evhttp/core/middleware"
	"github.com/searchktools/evhttp/core/stats"
)

// App wires configuration, logging, the reactor and the HTTP protocol
// together. Routes are registered before Start.
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	stats   *stats.Counters
	handler *http.Handler
	engine  *core.Engine[*http.Exchange]
	filters *middleware.Pipeline

	listenOnce sync.Once
	listenErr  error
}

// New creates an application instance logging as configured
func New(cfg *config.Config) *App {
	return NewWithLogger(cfg, NewLogger(cfg))
}

// NewWithLogger creates an application instance with a pre-configured logger
func NewWithLogger(cfg *config.Config, log zerolog.Logger) *App {
	counters := stats.New()

	handler := http.NewHandler(http.Options{
		ServerName:      cfg.ServerName,
		MaxRequestSize:  cfg.MaxRequestSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}, log.With().Str("component", "http").Logger(), counters)

	engine := core.New[*http.Exchange](handler, core.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Backlog:        cfg.Backlog,
		MaxEvents:      cfg.MaxEvents,
		ReadBufferSize: cfg.ReadBufferSize,
		IdleTimeout:    cfg.IdleTimeout,
	}, core.WithLogger(log.With().Str("component", "engine").Logger()), core.WithStats(counters))

	return &App{
		cfg:     cfg,
		log:     log,
		stats:   counters,
		handler: handler,
		engine:  engine,
		filters: middleware.NewPipeline(),
	}
}

// Config returns the configuration the app was built from
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the application logger
func (a *App) Logger() zerolog.Logger {
	return a.log
}

// Stats returns the server counters
func (a *App) Stats() *stats.Counters {
	return a.stats
}

// Use appends a middleware run ahead of every route handler, including
// routes registered earlier. Middlewares must be added before Start.
func (a *App) Use(m middleware.Middleware) {
	a.filters.Use(m)
}

// Handle registers fn for method and path
func (a *App) Handle(method, path string, fn http.HandlerFunc) {
	a.handler.Handle(method, path, a.filters.Then(fn))
}

// GET registers a GET route
func (a *App) GET(path string, fn http.HandlerFunc) {
	a.Handle(http.MethodGet, path, fn)
}

// POST registers a POST route
func (a *App) POST(path string, fn http.HandlerFunc) {
	a.Handle(http.MethodPost, path, fn)
}

// RegisterHandler registers fn for GET and POST on path
func (a *App) RegisterHandler(path string, fn http.HandlerFunc) {
	a.GET(path, fn)
	a.POST(path, fn)
}

// Listen freezes the routes and binds the listening socket.
func (a *App) Listen() error {
	a.listenOnce.Do(func() {
		if a.cfg.StatsPath != "" {
			a.handler.GET(a.cfg.StatsPath, a.serveStats)
		}
		a.handler.Seal()

		a.listenErr = a.engine.Listen()
	})
	return a.listenErr
}

// Serve runs the event loop on the calling goroutine until Stop.
func (a *App) Serve() error {
	return a.engine.Serve()
}

// Start listens and serves; it blocks until Stop.
func (a *App) Start() error {
	if err := a.Listen(); err != nil {
		return err
	}

	a.log.Info().
		Str("addr", a.engine.Addr()).
		Int("routes", a.handler.Routes()).
		Str("stats_path", a.cfg.StatsPath).
		Msg("server starting")

	return a.Serve()
}

// Stop makes Start return. Safe to call from any goroutine.
func (a *App) Stop() {
	a.engine.Stop()
}

// Addr returns the bound address once listening
func (a *App) Addr() string {
	return a.engine.Addr()
}

// Run starts the application and stops it on SIGINT or SIGTERM
func (a *App) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	done := make(chan struct{})
	defer close(done)

	go a.awaitSignal(quit, done)

	return a.Start()
}

func (a *App) awaitSignal(quit <-chan os.Signal, done <-chan struct{}) {
	select {
	case sig := <-quit:
		a.log.Info().Stringer("signal", sig).Msg("shutting down")
		a.Stop()
	case <-done:
	}
}

// serveStats encodes the counters as JSON or protobuf depending on Accept
func (a *App) serveStats(req *http.Request, resp *http.Response) {
	codec := stats.Negotiate(req.Header(core.HeaderAccept))

	data, err := codec.Encode(a.stats.Snapshot())
	if err != nil {
		a.log.Error().Err(err).Str("codec", codec.Name()).Msg("encode stats")
		resp.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	resp.Data(http.StatusOK, codec.ContentType(), data)
}
