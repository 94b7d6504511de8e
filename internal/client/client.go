// Package client is a participant-side connection to a canvas server. It
// joins a room, delivers decoded server messages to a handler and
// reconnects with exponential backoff when the connection drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"collabcanvas/internal/oplog"
	"collabcanvas/internal/protocol"
)

// DefaultMaxRetries is how many consecutive failed attempts Run tolerates.
const DefaultMaxRetries = 5

const writeWait = 10 * time.Second

var (
	// ErrNotConnected is returned by the send helpers between connections.
	ErrNotConnected = errors.New("client: not connected")
	// ErrGaveUp is returned by Run once the retry budget is exhausted.
	ErrGaveUp = errors.New("client: giving up after repeated connection failures")
)

// Handler receives every decoded server message, in arrival order, on the
// goroutine running Run.
type Handler func(protocol.Outbound)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMaxRetries caps consecutive failed attempts before Run gives up.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.newBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), n)
		}
	}
}

// WithBackOff replaces the retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = newBackOff }
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client keeps one participant connected to a server.
type Client struct {
	dialer     *websocket.Dialer
	handler    Handler
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
	ws         *websocket.Conn
	url        string
	identity   protocol.Join
	mu         sync.Mutex
}

// New creates a client that will join as identity on the server at url.
// A nil handler discards server messages.
func New(url string, identity protocol.Join, handler Handler, opts ...Option) *Client {
	if handler == nil {
		handler = func(protocol.Outbound) {}
	}
	c := &Client{
		url:      url,
		identity: identity,
		handler:  handler,
		dialer:   websocket.DefaultDialer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	WithMaxRetries(DefaultMaxRetries)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects, joins and processes server messages until ctx is done. A
// dropped connection is retried with backoff and the client re-joins with
// the same identity. Run returns nil when ctx ends and ErrGaveUp when the
// retry budget is spent.
func (c *Client) Run(ctx context.Context) error {
	b := c.newBackOff()
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errSessionEstablished) {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		c.logger.Warn("connection lost, retrying", slog.Any("error", err), "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

var errSessionEstablished = errors.New("client: connection dropped after join")

// session runs one connection from dial to disconnect. It wraps
// errSessionEstablished when the join went through, so Run can reset its
// backoff.
func (c *Client) session(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer ws.Close()

	c.setConn(ws)
	defer c.setConn(nil)

	if err := c.send(c.identity); err != nil {
		return err
	}
	c.logger.Info("joined", "url", c.url, "user", c.identity.UserID, "room", c.identity.RoomID)

	stop := context.AfterFunc(ctx, func() {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = ws.Close()
	})
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", errSessionEstablished, err)
		}
		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			c.logger.Warn("ignoring server message", slog.Any("error", err))
			continue
		}
		c.handler(msg)
	}
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Client) send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("client: send %s: %w", m.Type(), err)
	}
	return nil
}

// Draw sends one stroke segment.
func (c *Client) Draw(seg oplog.Segment) error {
	return c.send(protocol.Draw{Segment: seg})
}

// MoveCursor reports the pointer position.
func (c *Client) MoveCursor(x, y float64) error {
	return c.send(protocol.CursorMove{X: x, Y: y})
}

// Clear wipes the shared canvas.
func (c *Client) Clear() error {
	return c.send(protocol.Clear{})
}

// Undo steps the shared history back.
func (c *Client) Undo() error {
	return c.send(protocol.Undo{})
}

// Redo steps the shared history forward.
func (c *Client) Redo() error {
	return c.send(protocol.Redo{})
}
