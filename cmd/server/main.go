package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"collabcanvas/internal/config"
	"collabcanvas/internal/discovery"
	"collabcanvas/internal/httpapi"
	"collabcanvas/internal/hub"
	"collabcanvas/internal/journal"
	"collabcanvas/internal/presence"
	"collabcanvas/internal/room"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "collabcanvas: %v\n", err)
		os.Exit(1)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "CollabCanvas Server\n")
	fmt.Fprintf(w, "Version:    %s\n", Version)
	fmt.Fprintf(w, "Build Date: %s\n", BuildDate)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
}

// integration is an optional backend that is torn down after the
// connections have drained.
type integration struct {
	name  string
	close func(ctx context.Context) error
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(args, getenv)
	if err != nil {
		return err
	}
	if cfg.ShowVersion {
		printVersion(stdout)
		return nil
	}

	logger := cfg.NewLogger(stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, _ := os.Hostname()
	instance := discovery.InstanceName(host)

	var (
		integrations []integration
		activity     httpapi.ActivityLog
		roomOpts     = []room.Option{
			room.WithLogger(logger),
			room.WithHistorySize(cfg.HistorySize),
		}
	)

	if cfg.RedisAddr != "" {
		if opt, in, ok := startPresence(ctx, cfg.RedisAddr, instance, logger); ok {
			roomOpts = append(roomOpts, opt)
			integrations = append(integrations, in...)
		}
	}
	if cfg.DatabaseURL != "" {
		if j, opt, in, ok := startJournal(ctx, cfg.DatabaseURL, logger); ok {
			activity = j
			roomOpts = append(roomOpts, opt)
			integrations = append(integrations, in...)
		}
	}

	registry := room.NewRegistry(roomOpts...)
	h := hub.New(registry,
		hub.WithLogger(logger),
		hub.WithSendBuffer(cfg.SendBuffer),
	)
	router := httpapi.NewRouter(httpapi.Config{
		Rooms:     registry,
		WebSocket: h,
		Logger:    logger,
		Activity:  activity,
		Version:   Version,
		StaticDir: cfg.StaticDir,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	logger.Info("collabcanvas server started",
		"addr", ln.Addr().String(),
		"version", Version,
		"history", cfg.HistorySize,
	)

	if cfg.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		if mdns, err := discovery.Advertise(instance, port, "/ws", Version); err != nil {
			logger.Warn("mDNS advertisement failed", slog.Any("error", err))
		} else {
			logger.Info("advertising over mDNS", "instance", instance, "service", discovery.ServiceType)
			defer mdns.Shutdown()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.Any("error", err))
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn("connections did not drain", slog.Any("error", err), "open", h.Len())
	}
	for i := len(integrations) - 1; i >= 0; i-- {
		if err := integrations[i].close(shutdownCtx); err != nil {
			logger.Warn("integration shutdown failed", "name", integrations[i].name, slog.Any("error", err))
		}
	}

	logger.Info("server stopped")
	return nil
}

// startPresence connects to Redis and mirrors room lifecycle into it. A
// Redis that cannot be reached disables the mirror instead of failing.
func startPresence(ctx context.Context, addr, instance string, logger *slog.Logger) (room.Option, []integration, bool) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, presence mirror disabled", "addr", addr, slog.Any("error", err))
		_ = rdb.Close()
		return nil, nil, false
	}
	logger.Info("connected to redis", "addr", addr)

	mirror := presence.NewMirror(rdb, instance, presence.WithLogger(logger))
	queue := room.NewQueue(mirror, room.DefaultQueueSize, logger)

	go func() {
		err := mirror.Watch(ctx, rdb, func(n presence.Notice) {
			logger.Debug("remote room activity",
				"instance", n.Instance,
				"room", n.RoomID,
				"kind", n.Kind,
				"participants", n.Participants,
			)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("presence watch stopped", slog.Any("error", err))
		}
	}()

	return room.WithObserver(queue), []integration{
		{name: "redis", close: func(context.Context) error { return rdb.Close() }},
		{name: "presence queue", close: queue.Close},
	}, true
}

// startJournal connects to PostgreSQL and journals room lifecycle. A
// database that cannot be reached disables the journal instead of failing.
func startJournal(ctx context.Context, url string, logger *slog.Logger) (*journal.Journal, room.Option, []integration, bool) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Warn("invalid database url, activity journal disabled", slog.Any("error", err))
		return nil, nil, nil, false
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres unavailable, activity journal disabled", slog.Any("error", err))
		pool.Close()
		return nil, nil, nil, false
	}

	j := journal.New(pool, logger)
	if err := j.Migrate(ctx); err != nil {
		logger.Warn("activity journal disabled", slog.Any("error", err))
		pool.Close()
		return nil, nil, nil, false
	}
	logger.Info("connected to postgres, activity journal enabled")

	queue := room.NewQueue(j, room.DefaultQueueSize, logger)
	return j, room.WithObserver(queue), []integration{
		{name: "postgres", close: func(context.Context) error { pool.Close(); return nil }},
		{name: "journal queue", close: queue.Close},
	}, true
}
