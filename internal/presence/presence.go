// Package presence mirrors the room directory into Redis so other processes
// can see which rooms are live, and relays lifecycle notices between server
// instances over Redis pub/sub.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"collabcanvas/internal/room"
)

const (
	// KeyPrefix prefixes the per-room hash key.
	KeyPrefix = "collabcanvas:room:"
	// EventsChannel carries every lifecycle notice as JSON.
	EventsChannel = "collabcanvas:events"
	// DefaultTTL bounds how long a room hash outlives its last update.
	DefaultTTL = 10 * time.Minute

	opTimeout = 5 * time.Second
)

// Client is the subset of the Redis API the mirror writes with.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Subscriber opens pub/sub subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Notice is a lifecycle event tagged with the instance that produced it.
type Notice struct {
	room.Event
	Instance string `json:"instance"`
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) { m.logger = logger }
}

// WithTTL sets the expiry applied to room hashes on every update.
func WithTTL(ttl time.Duration) Option {
	return func(m *Mirror) { m.ttl = ttl }
}

// Mirror writes room lifecycle events to Redis. It is a room.Observer that
// performs network I/O, so it belongs behind a room.Queue.
type Mirror struct {
	client   Client
	logger   *slog.Logger
	instance string
	ttl      time.Duration
}

// NewMirror creates a mirror that tags its writes with instance.
func NewMirror(client Client, instance string, opts ...Option) *Mirror {
	m := &Mirror{
		client:   client,
		instance: instance,
		ttl:      DefaultTTL,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe applies e to Redis, logging failures.
func (m *Mirror) Observe(e room.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := m.Apply(ctx, e); err != nil {
		m.logger.Warn("presence update failed", slog.Any("error", err), "room", e.RoomID, "kind", e.Kind)
	}
}

// Apply updates the room hash for e and publishes the notice.
func (m *Mirror) Apply(ctx context.Context, e room.Event) error {
	key := KeyPrefix + e.RoomID
	if e.Kind == room.EventRoomDeleted {
		if err := m.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	} else {
		fields := []any{
			"userCount", e.Participants,
			"instance", m.instance,
			"updatedAt", e.At.UTC().Format(time.RFC3339Nano),
		}
		if e.Kind == room.EventRoomCreated {
			fields = append(fields, "createdAt", e.At.UTC().Format(time.RFC3339Nano))
		}
		if err := m.client.HSet(ctx, key, fields...).Err(); err != nil {
			return fmt.Errorf("hset %s: %w", key, err)
		}
		if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}

	payload, err := json.Marshal(Notice{Event: e, Instance: m.instance})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	if err := m.client.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Watch subscribes to EventsChannel and hands notices from other instances
// to handle until ctx is done.
func (m *Mirror) Watch(ctx context.Context, sub Subscriber, handle func(Notice)) error {
	pubsub := sub.Subscribe(ctx, EventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}
	m.Relay(ctx, pubsub.Channel(), handle)
	return nil
}

// Relay decodes notices from msgs until the channel closes or ctx is done.
// Notices this instance published itself are skipped.
func (m *Mirror) Relay(ctx context.Context, msgs <-chan *redis.Message, handle func(Notice)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var n Notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				m.logger.Warn("ignoring malformed presence notice", slog.Any("error", err))
				continue
			}
			if n.Instance == m.instance {
				continue
			}
			handle(n)
		}
	}
}
