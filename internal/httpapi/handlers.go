// Package httpapi exposes the server's HTTP surface: health and room
// inspection endpoints plus the websocket entry points.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"collabcanvas/internal/room"
)

// Directory is the read side of the room registry.
type Directory interface {
	List() []room.Info
	Get(id string) (*room.Room, bool)
	Count() int
	Participants() int
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	Version      string    `json:"version,omitempty"`
	Rooms        int       `json:"rooms"`
	Participants int       `json:"participants"`
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	rooms   Directory
	logger  *slog.Logger
	now     func() time.Time
	version string
}

// NewHealthHandler creates a health handler reporting version.
func NewHealthHandler(rooms Directory, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{rooms: rooms, version: version, logger: logger, now: time.Now}
}

// Health reports liveness along with room and participant counts.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Timestamp:    h.now().UTC(),
		Version:      h.version,
		Rooms:        h.rooms.Count(),
		Participants: h.rooms.Participants(),
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// RoomsHandler serves the room inspection endpoints.
type RoomsHandler struct {
	rooms  Directory
	logger *slog.Logger
}

// NewRoomsHandler creates a rooms handler.
func NewRoomsHandler(rooms Directory, logger *slog.Logger) *RoomsHandler {
	return &RoomsHandler{rooms: rooms, logger: logger}
}

// List handles GET /api/rooms.
func (h *RoomsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rooms.List(), h.logger)
}

// Get handles GET /api/rooms/{roomId}.
func (h *RoomsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["roomId"]
	rm, ok := h.rooms.Get(id)
	if !ok || rm.Closed() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "room not found"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info(), h.logger)
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// ActivityLog is the read side of the activity journal.
type ActivityLog interface {
	Recent(ctx context.Context, roomID string, limit int) ([]room.Event, error)
}

// ActivityHandler serves GET /api/rooms/{roomId}/activity.
type ActivityHandler struct {
	journal ActivityLog
	logger  *slog.Logger
}

// NewActivityHandler creates an activity handler.
func NewActivityHandler(journal ActivityLog, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{journal: journal, logger: logger}
}

// Recent lists the newest lifecycle events of a room. The optional "limit"
// query parameter caps the result.
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"}, h.logger)
			return
		}
		limit = min(n, maxActivityLimit)
	}

	events, err := h.journal.Recent(r.Context(), mux.Vars(r)["roomId"], limit)
	if err != nil {
		h.logger.Error("failed to read activity", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "activity unavailable"}, h.logger)
		return
	}
	if events == nil {
		events = []room.Event{}
	}
	writeJSON(w, http.StatusOK, events, h.logger)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}
