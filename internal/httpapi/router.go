package httpapi

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"collabcanvas/internal/httpapi/middleware"
)

// Config wires the router to the rest of the server.
type Config struct {
	Rooms     Directory
	WebSocket http.Handler
	Logger    *slog.Logger
	// Activity, when set, backs GET /api/rooms/{roomId}/activity.
	Activity ActivityLog
	Version  string
	// StaticDir, when set, is served at "/" for plain (non-upgrade) requests.
	StaticDir string
}

// NewRouter builds the server's HTTP handler.
func NewRouter(cfg Config) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := mux.NewRouter()
	r.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingWithSkip(logger, []string{"/health"}),
	)

	health := NewHealthHandler(cfg.Rooms, cfg.Version, logger)
	r.HandleFunc("/health", health.Health).Methods(http.MethodGet)

	rooms := NewRoomsHandler(cfg.Rooms, logger)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms", rooms.List).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}", rooms.Get).Methods(http.MethodGet)
	if cfg.Activity != nil {
		activity := NewActivityHandler(cfg.Activity, logger)
		api.HandleFunc("/rooms/{roomId}/activity", activity.Recent).Methods(http.MethodGet)
	}

	r.Handle("/ws", cfg.WebSocket)
	r.Handle("/", cfg.WebSocket).HeadersRegexp("Upgrade", "(?i)^websocket$")

	if cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir))).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}
