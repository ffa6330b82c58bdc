package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvPrefix prefixes environment variables read by Load, e.g. EVHTTP_PORT.
const EnvPrefix = "EVHTTP"

// Config holds all application configuration.
type Config struct {
	Host      string `config:"host"`
	Port      int    `config:"port"`
	Backlog   int    `config:"backlog"`
	MaxEvents int    `config:"max_events"`

	ReadBufferSize  int `config:"read_buffer_size"`
	WriteBufferSize int `config:"write_buffer_size"`
	MaxRequestSize  int `config:"max_request_size"`
	// IdleTimeout of zero keeps idle connections forever.
	IdleTimeout time.Duration `config:"idle_timeout"`

	ServerName string `config:"server_name"`
	// StatsPath serves the server counters when not empty.
	StatsPath string `config:"stats_path"`

	LogLevel  string `config:"log_level"`
	LogFormat string `config:"log_format"`
	Env       string `config:"env"`

	values *Manager
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            8888,
		Backlog:         10,
		MaxEvents:       1000,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxRequestSize:  10 << 20,
		ServerName:      "evhttp/0.1",
		LogLevel:        "info",
		LogFormat:       "console",
		Env:             "development",
	}
}

// New loads configuration from command line flags, exiting on bad input
// the way flag.Parse does.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Load builds the configuration from, in increasing priority: the
// defaults, the JSON file named by -config, EVHTTP_* environment variables
// and the command line flags in args.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("evhttp", flag.ContinueOnError)
	file := fs.String("config", "", "JSON configuration file")
	fs.String("host", cfg.Host, "IPv4 address to listen on (empty for all)")
	fs.Int("port", cfg.Port, "HTTP server port")
	fs.Int("backlog", cfg.Backlog, "listen backlog")
	fs.Int("max-events", cfg.MaxEvents, "readiness events handled per loop iteration")
	fs.Int("read-buffer-size", cfg.ReadBufferSize, "bytes read per receive call")
	fs.Int("write-buffer-size", cfg.WriteBufferSize, "bytes sent per write call")
	fs.Int("max-request-size", cfg.MaxRequestSize, "largest accepted request in bytes")
	fs.Duration("idle-timeout", cfg.IdleTimeout, "close connections idle for this long (0 disables)")
	fs.String("server-name", cfg.ServerName, "value of the Server response header")
	fs.String("stats-path", cfg.StatsPath, "path serving server counters (empty disables)")
	fs.String("log-level", cfg.LogLevel, "log level (trace/debug/info/warn/error)")
	fs.String("log-format", cfg.LogFormat, "log format (console/json)")
	fs.String("env", cfg.Env, "Environment (development/production)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m := NewManager()
	if err := m.Marshal("", cfg); err != nil {
		return nil, err
	}
	if *file != "" {
		if err := m.LoadFromJSON(*file); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)

	// only flags given explicitly override the layers below
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		m.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// keep the effective values for lookups by key
	if err := m.Marshal("", cfg); err != nil {
		return nil, err
	}
	cfg.values = m

	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Backlog <= 0 || c.MaxEvents <= 0 {
		return errors.New("config: backlog and max_events must be positive")
	}
	if c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0 || c.MaxRequestSize <= 0 {
		return errors.New("config: buffer sizes must be positive")
	}
	if c.IdleTimeout < 0 {
		return errors.New("config: idle_timeout must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	if c.StatsPath != "" && !strings.HasPrefix(c.StatsPath, "/") {
		return fmt.Errorf("config: stats_path %q must start with /", c.StatsPath)
	}
	return nil
}

// Values returns the key/value view of the configuration. Keys from the
// JSON file that map to no field are kept as well.
func (c *Config) Values() *Manager {
	if c.values == nil {
		c.values = NewManager()
		_ = c.values.Marshal("", c)
	}
	return c.values
}
