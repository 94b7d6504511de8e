package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	g := NewRegistry()

	r1 := g.GetOrCreate("default")
	r2 := g.GetOrCreate("default")
	other := g.GetOrCreate("studio")

	assert.Same(t, r1, r2)
	assert.NotSame(t, r1, other)
	assert.Equal(t, 2, g.Count())

	got, ok := g.Get("default")
	require.True(t, ok)
	assert.Same(t, r1, got)

	_, ok = g.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_EmptyRoomIsEvicted(t *testing.T) {
	g := NewRegistry()
	r := g.GetOrCreate("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")

	remaining, left := r.Leave("a1", a)
	require.True(t, left)
	require.Zero(t, remaining)
	assert.True(t, g.Evict(r))

	_, ok := g.Get("default")
	assert.False(t, ok)
	assert.Zero(t, g.Count())
}

func TestRegistry_ClosedRoomIsReplaced(t *testing.T) {
	g := NewRegistry()
	old := g.GetOrCreate("default")
	a := joinRoom(t, old, "a1", "Alice", "#FF6B6B")
	old.Leave("a1", a)

	fresh := g.GetOrCreate("default")

	assert.NotSame(t, old, fresh)
	assert.False(t, fresh.Closed())
	assert.False(t, g.Evict(old), "stale handle must not evict the new room")
	got, ok := g.Get("default")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistry_Delete(t *testing.T) {
	g := NewRegistry()
	g.GetOrCreate("default")

	g.Delete("default")
	g.Delete("missing")

	_, ok := g.Get("default")
	assert.False(t, ok)
}

func TestRegistry_ListAndParticipants(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewRegistry(WithClock(func() time.Time { return at }))
	joinRoom(t, g.GetOrCreate("zeta"), "z1", "Zed", "#FF6B6B")
	alpha := g.GetOrCreate("alpha")
	joinRoom(t, alpha, "a1", "Alice", "#FF6B6B")
	joinRoom(t, alpha, "a2", "Ann", "#4ECDC4")

	infos := g.List()

	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].RoomID)
	assert.Equal(t, 2, infos[0].UserCount)
	assert.Equal(t, at, infos[0].CreatedAt)
	assert.Equal(t, "zeta", infos[1].RoomID)
	assert.Equal(t, 3, g.Participants())
}

func TestRegistry_Events(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	g := NewRegistry(WithObserver(ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	})))

	r := g.GetOrCreate("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	r.Leave("a1", a)
	g.Evict(r)

	assert.Equal(t, []EventKind{
		EventRoomCreated,
		EventParticipantJoined,
		EventParticipantLeft,
		EventRoomDeleted,
	}, kinds)
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	g := NewRegistry()
	var wg sync.WaitGroup

	for i := range 32 {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for range 20 {
				ch := &fakeChannel{}
				p := Participant{ID: id, Channel: ch}
				var r *Room
				for {
					r = g.GetOrCreate("default")
					if _, err := r.Join(p); err == nil {
						break
					}
				}
				r.Draw(id, segment(1))
				if remaining, left := r.Leave(id, ch); left && remaining == 0 {
					g.Evict(r)
				}
			}
		}(string(rune('A' + i)))
	}
	wg.Wait()

	assert.Zero(t, g.Participants())
	for _, info := range g.List() {
		assert.Zero(t, info.UserCount)
	}
}
