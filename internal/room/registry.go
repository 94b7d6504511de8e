package room

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"collabcanvas/internal/oplog"
)

// DefaultRoomID is used when a participant does not ask for a room.
const DefaultRoomID = "default"

type settings struct {
	logger      *slog.Logger
	now         func() time.Time
	observers   observers
	logOptions  []oplog.Option
	historySize int
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		historySize: oplog.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a Registry and the rooms it creates.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithHistorySize sets the operation log capacity of each room.
func WithHistorySize(n int) Option {
	return func(s *settings) { s.historySize = n }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observers = append(s.observers, o) }
}

// WithClock overrides the time source for rooms and their logs.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
		s.logOptions = append(s.logOptions, oplog.WithClock(now))
	}
}

// Registry owns the set of live rooms. It is safe for concurrent use.
type Registry struct {
	logger *slog.Logger
	rooms  map[string]*Room
	opts   []Option
	s      settings
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	s := newSettings(opts)
	return &Registry{
		rooms:  make(map[string]*Room),
		opts:   opts,
		s:      s,
		logger: s.logger,
	}
}

// GetOrCreate returns the live room with the given id, creating it when it
// does not exist or when the existing one has already closed.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok && !r.Closed() {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		if !r.Closed() {
			return r
		}
		g.deleteLocked(r)
	}

	r = New(id, g.opts...)
	g.rooms[id] = r
	g.s.observers.Observe(Event{Kind: EventRoomCreated, RoomID: id, At: r.CreatedAt()})
	g.logger.Info("room created", "room", id, "rooms", len(g.rooms))
	return r
}

// Get returns the room with the given id.
func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// Delete removes a room unconditionally. Callers check emptiness first.
func (g *Registry) Delete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		g.deleteLocked(r)
	}
}

// Evict removes r only if it is still the room registered under its id, so
// a stale handle never deletes a newer room with the same id.
func (g *Registry) Evict(r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.rooms[r.ID()]; !ok || cur != r {
		return false
	}
	g.deleteLocked(r)
	return true
}

func (g *Registry) deleteLocked(r *Room) {
	delete(g.rooms, r.ID())
	g.s.observers.Observe(Event{Kind: EventRoomDeleted, RoomID: r.ID(), At: g.s.now()})
	g.logger.Info("room deleted", "room", r.ID(), "rooms", len(g.rooms))
}

// List returns a summary of every room ordered by id.
func (g *Registry) List() []Info {
	rooms := g.snapshot()
	infos := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RoomID < infos[j].RoomID })
	return infos
}

// Count returns the number of rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Participants returns the number of participants across all rooms.
func (g *Registry) Participants() int {
	total := 0
	for _, r := range g.snapshot() {
		total += r.Len()
	}
	return total
}

func (g *Registry) snapshot() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}
