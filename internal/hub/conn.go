package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabcanvas/internal/protocol"
	"collabcanvas/internal/room"
)

const (
	maxRoomIDLength = 128
	maxJoinAttempts = 3
)

// conn is one participant connection. readPump is the only goroutine that
// touches room, participantID and logger; writePump is the only one that
// writes to ws. Other goroutines log through base.
type conn struct {
	hub         *Hub
	ws          *websocket.Conn
	base        *slog.Logger
	logger      *slog.Logger
	send        chan []byte
	done        chan struct{}
	writerDone  chan struct{}
	room        *room.Room
	defaultRoom string

	participantID string
	closeOnce     sync.Once
}

func newConn(h *Hub, ws *websocket.Conn, defaultRoom string) *conn {
	logger := h.logger.With("conn", uuid.NewString())
	return &conn{
		hub:         h,
		ws:          ws,
		base:        logger,
		logger:      logger,
		send:        make(chan []byte, h.sendBuffer),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		defaultRoom: defaultRoom,
	}
}

// Send queues msg for the write pump. A full queue drops msg for this
// connection only.
func (c *conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.base.Debug("send buffer full, dropping message")
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads frames until the connection fails and handles each one
// synchronously. Whatever ends the connection, the participant leaves its
// room on the way out.
func (c *conn) readPump() {
	defer func() {
		c.leave()
		c.close()
		<-c.writerDone
		c.hub.unregister(c)
		c.logger.Debug("connection closed")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("connection lost", slog.Any("error", err))
			}
			return
		}
		c.handle(data)
	}
}

// writePump drains the send queue to the socket and keeps the peer alive
// with pings. On close it flushes what is queued and sends a close frame.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.base.Debug("write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = c.write(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
					return
				}
			}
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) handle(data []byte) {
	msg, err := protocol.DecodeInbound(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		c.logger.Warn("ignoring unknown message type", slog.Any("error", err))
		return
	case err != nil:
		c.logger.Warn("dropping malformed message", slog.Any("error", err))
		return
	}
	msg.Dispatch(c)
}

func (c *conn) HandleJoin(m protocol.Join) {
	roomID := m.RoomID
	if roomID == "" {
		roomID = c.defaultRoom
	}
	if len(roomID) > maxRoomIDLength {
		c.logger.Warn("dropping join with oversized room id", "length", len(roomID))
		return
	}

	p := room.Participant{ID: m.UserID, Name: m.UserName, Color: m.UserColor, Channel: c}
	if c.room != nil && c.room.ID() == roomID && c.rejoin(p) {
		return
	}
	c.leave()

	for range maxJoinAttempts {
		r := c.hub.registry.GetOrCreate(roomID)
		if _, err := r.Join(p); err != nil {
			// The room emptied between lookup and join; the next lookup
			// creates a fresh one.
			continue
		}
		c.bind(r, m.UserID)
		return
	}
	c.logger.Warn("failed to join room", "room", roomID)
}

// rejoin updates the participant record in the current room without ever
// leaving it empty. A changed user id drops the old one only after the new
// one is in.
func (c *conn) rejoin(p room.Participant) bool {
	r, prevID := c.room, c.participantID
	if _, err := r.Join(p); err != nil {
		return false
	}
	if prevID != p.ID {
		r.Leave(prevID, c)
	}
	c.bind(r, p.ID)
	return true
}

func (c *conn) bind(r *room.Room, participantID string) {
	c.room = r
	c.participantID = participantID
	c.logger = c.base.With("participant", participantID, "room", r.ID())
}

func (c *conn) seat() room.Seat {
	return c.room.Seat(c.participantID, c)
}

func (c *conn) HandleDraw(m protocol.Draw) {
	if c.room == nil {
		c.logger.Debug("ignoring draw before join")
		return
	}
	if !c.seat().Draw(m.Segment) {
		c.logger.Debug("ignoring draw from replaced participant")
	}
}

func (c *conn) HandleCursorMove(m protocol.CursorMove) {
	if c.room == nil {
		return
	}
	c.seat().MoveCursor(m.X, m.Y)
}

func (c *conn) HandleClear(protocol.Clear) {
	if c.room == nil {
		c.logger.Debug("ignoring clear before join")
		return
	}
	c.seat().Clear()
}

func (c *conn) HandleUndo(protocol.Undo) {
	if c.room == nil {
		return
	}
	c.seat().Undo()
}

func (c *conn) HandleRedo(protocol.Redo) {
	if c.room == nil {
		return
	}
	c.seat().Redo()
}

// leave detaches the connection from its room and evicts the room from the
// registry when it has become empty.
func (c *conn) leave() {
	if c.room == nil {
		return
	}
	r, id := c.room, c.participantID
	c.room, c.participantID = nil, ""

	if remaining, left := r.Leave(id, c); left && remaining == 0 {
		c.hub.registry.Evict(r)
	}
}
