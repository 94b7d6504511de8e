// Package hub accepts websocket connections and routes participant messages
// to their rooms.
package hub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabcanvas/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size.
	maxMessageSize = 16 * 1024

	// DefaultSendBuffer is how many outbound frames may queue per connection
	// before further frames to it are dropped.
	DefaultSendBuffer = 256
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithDefaultRoom sets the room used when neither the join message nor the
// upgrade request name one.
func WithDefaultRoom(id string) Option {
	return func(h *Hub) { h.defaultRoom = id }
}

// WithCheckOrigin overrides the upgrader origin check. All origins are
// accepted by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// Hub owns the live connections. Rooms and their state live in the registry.
type Hub struct {
	registry    *room.Registry
	logger      *slog.Logger
	conns       map[*conn]struct{}
	defaultRoom string
	upgrader    websocket.Upgrader
	wg          sync.WaitGroup
	sendBuffer  int
	mu          sync.Mutex
	closing     bool
}

// New creates a hub that places participants into rooms from registry.
func New(registry *room.Registry, opts ...Option) *Hub {
	h := &Hub{
		registry:    registry,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns:       make(map[*conn]struct{}),
		defaultRoom: room.DefaultRoomID,
		sendBuffer:  DefaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades the request to a websocket. The optional "room" query
// parameter picks the room used when the join message does not name one.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err), "remote_addr", r.RemoteAddr)
		return
	}

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = h.defaultRoom
	}
	c := newConn(h, ws, roomID)

	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	c.logger.Debug("connection opened", "remote_addr", r.RemoteAddr)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown stops accepting connections, asks every open connection to close
// and waits until their handlers have finished or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing connections", "count", len(conns))
	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
