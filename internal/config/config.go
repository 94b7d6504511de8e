// Package config loads server settings from command-line flags with
// environment variable fallbacks.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"collabcanvas/internal/hub"
	"collabcanvas/internal/oplog"
)

const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	ErrInvalidLogLevel  = errors.New("config: invalid log level")
	ErrInvalidLogFormat = errors.New("config: invalid log format")
)

// Config holds the server settings.
type Config struct {
	Addr        string
	StaticDir   string
	RedisAddr   string
	DatabaseURL string
	LogFormat   string

	HistorySize     int
	SendBuffer      int
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	MDNS        bool
	ShowVersion bool
}

// Load parses args (without the program name). Unset flags fall back to the
// environment read through getenv, then to defaults.
func Load(args []string, getenv func(string) string) (Config, error) {
	d, err := defaults(getenv)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg      Config
		logLevel string
	)
	fs := flag.NewFlagSet("collabcanvas", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Addr, "addr", d.Addr, "listen address")
	fs.StringVar(&cfg.StaticDir, "static", d.StaticDir, "directory with the web client, served at /")
	fs.IntVar(&cfg.HistorySize, "history", d.HistorySize, "operations kept per room")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", d.SendBuffer, "outbound frames queued per connection")
	fs.StringVar(&cfg.RedisAddr, "redis", d.RedisAddr, "redis address for the presence mirror (empty disables)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", d.DatabaseURL, "postgres URL for the activity journal (empty disables)")
	fs.BoolVar(&cfg.MDNS, "mdns", d.MDNS, "advertise the server over mDNS")
	fs.StringVar(&logLevel, "log-level", d.LogLevel.String(), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", d.LogFormat, "text or json")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", d.ShutdownTimeout, "grace period for open connections")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version information")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.LogLevel, err = parseLevel(logLevel); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults(getenv func(string) string) (Config, error) {
	cfg := Config{
		Addr:            DefaultAddr,
		HistorySize:     oplog.DefaultCapacity,
		SendBuffer:      hub.DefaultSendBuffer,
		LogFormat:       "text",
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: DefaultShutdownTimeout,
		StaticDir:       getenv("STATIC_DIR"),
		RedisAddr:       getenv("REDIS_ADDR"),
		DatabaseURL:     getenv("DATABASE_URL"),
	}

	if port := getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	if addr := getenv("ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	var err error
	if v := getenv("HISTORY_SIZE"); v != "" {
		if cfg.HistorySize, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("config: HISTORY_SIZE: %w", err)
		}
	}
	if v := getenv("SEND_BUFFER"); v != "" {
		if cfg.SendBuffer, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("config: SEND_BUFFER: %w", err)
		}
	}
	if v := getenv("MDNS"); v != "" {
		if cfg.MDNS, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("config: MDNS: %w", err)
		}
	}
	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if cfg.ShutdownTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("config: SHUTDOWN_TIMEOUT: %w", err)
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		if cfg.LogLevel, err = parseLevel(v); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
	return level, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.LogFormat)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("config: history size must be positive, got %d", c.HistorySize)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("config: send buffer must be positive, got %d", c.SendBuffer)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must not be negative, got %s", c.ShutdownTimeout)
	}
	return nil
}

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
