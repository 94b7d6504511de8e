package room

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/internal/oplog"
	"collabcanvas/internal/protocol"
)

type fakeChannel struct {
	msgs   [][]byte
	mu     sync.Mutex
	closed bool
}

func (c *fakeChannel) Send(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.msgs = append(c.msgs, b)
	return true
}

func (c *fakeChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) received(t *testing.T) []protocol.Outbound {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Outbound, 0, len(c.msgs))
	for _, b := range c.msgs {
		m, err := protocol.DecodeOutbound(b)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (c *fakeChannel) types(t *testing.T) []protocol.Type {
	t.Helper()
	var types []protocol.Type
	for _, m := range c.received(t) {
		types = append(types, m.Type())
	}
	return types
}

func (c *fakeChannel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

func joinRoom(t *testing.T, r *Room, id, name, color string) *fakeChannel {
	t.Helper()
	ch := &fakeChannel{}
	_, err := r.Join(Participant{ID: id, Name: name, Color: color, Channel: ch})
	require.NoError(t, err)
	return ch
}

func segment(x float64) oplog.Segment {
	return oplog.Segment{X0: x, Y0: x, X1: x + 10, Y1: x + 10, Tool: oplog.ToolBrush, Color: "#000000", StrokeWidth: 3}
}

func TestJoin_UsersListIncludesJoiner(t *testing.T) {
	r := New("default")

	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")

	got := a.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.UsersList{Users: []protocol.User{
		{UserID: "a1", UserName: "Alice", UserColor: "#FF6B6B"},
	}}, got[0])
}

func TestJoin_NotifiesOthersOnly(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	a.reset()

	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")

	assert.Equal(t, []protocol.Outbound{
		protocol.UserJoined{User: protocol.User{UserID: "b1", UserName: "Bob", UserColor: "#4ECDC4"}},
	}, a.received(t))
	assert.Equal(t, []protocol.Outbound{
		protocol.UsersList{Users: []protocol.User{
			{UserID: "a1", UserName: "Alice", UserColor: "#FF6B6B"},
			{UserID: "b1", UserName: "Bob", UserColor: "#4ECDC4"},
		}},
	}, b.received(t))
}

func TestJoin_AssignsMissingNameAndColor(t *testing.T) {
	r := New("default")

	users, err := r.Join(Participant{ID: "a1", Color: "red", Channel: &fakeChannel{}})
	require.NoError(t, err)

	require.Len(t, users, 1)
	assert.Regexp(t, `^User-\d+$`, users[0].UserName)
	assert.Contains(t, Palette, users[0].UserColor)
}

func TestJoin_LateJoinerReceivesCanvasState(t *testing.T) {
	r := New("default")
	joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	require.True(t, r.Draw("a1", segment(1)))
	require.True(t, r.Draw("a1", segment(2)))

	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")

	got := b.received(t)
	require.Len(t, got, 2)
	assert.Equal(t, protocol.TypeUsersList, got[0].Type())
	state, ok := got[1].(protocol.CanvasState)
	require.True(t, ok)
	assert.Equal(t, 1, state.NewIndex)
	assert.Len(t, state.Operations, 2)
}

func TestJoin_ClosedRoom(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	_, left := r.Leave("a1", a)
	require.True(t, left)

	_, err := r.Join(Participant{ID: "b1", Channel: &fakeChannel{}})

	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.ErrorIs(t, r.AddParticipant(Participant{ID: "b1"}), ErrRoomClosed)
	assert.True(t, r.Closed())
}

func TestDraw_BroadcastsToOthersOnly(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	c := joinRoom(t, r, "c1", "Carol", "#45B7D1")
	a.reset()
	b.reset()
	c.reset()

	require.True(t, r.Draw("a1", segment(10)))

	assert.Empty(t, a.received(t))
	want := []protocol.Outbound{protocol.Draw{Segment: segment(10)}}
	assert.Equal(t, want, b.received(t))
	assert.Equal(t, want, c.received(t))

	ops := r.ActiveOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, oplog.KindDraw, ops[0].Kind)
	assert.Equal(t, "a1", ops[0].AuthorID)
}

func TestDraw_UnknownAuthorIgnored(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	a.reset()

	assert.False(t, r.Draw("ghost", segment(1)))
	assert.False(t, r.Clear("ghost"))
	assert.False(t, r.UndoBy("ghost").Success)

	assert.Empty(t, a.received(t))
	assert.Empty(t, r.ActiveOperations())
}

func TestClear_RecordsAndNotifiesOthers(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	a.reset()
	b.reset()

	require.True(t, r.Clear("a1"))

	assert.Empty(t, a.received(t))
	assert.Equal(t, []protocol.Type{protocol.TypeRemoteClear}, b.types(t))
	info := r.Info()
	assert.Equal(t, 0, info.History.CurrentIndex)
	assert.Equal(t, oplog.KindClear, r.ActiveOperations()[0].Kind)
}

func TestMoveCursor(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	a.reset()
	b.reset()

	require.True(t, r.MoveCursor("a1", 50, 60))
	assert.False(t, r.MoveCursor("ghost", 1, 1))

	assert.Empty(t, a.received(t))
	assert.Equal(t, []protocol.Outbound{protocol.CursorUpdate{
		UserID: "a1", UserName: "Alice", UserColor: "#FF6B6B", X: 50, Y: 60,
	}}, b.received(t))
	assert.Empty(t, r.ActiveOperations())
}

func TestUndoRedo_BroadcastToEveryone(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	r.Draw("a1", segment(1))
	r.Draw("b1", segment(2))
	a.reset()
	b.reset()

	res := r.UndoBy("a1")
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Cursor)

	for _, ch := range []*fakeChannel{a, b} {
		got := ch.received(t)
		require.Len(t, got, 1)
		change, ok := got[0].(protocol.HistoryChange)
		require.True(t, ok)
		assert.Equal(t, protocol.TypeUndo, change.Action)
		assert.Equal(t, "a1", change.UserID)
		assert.Equal(t, 0, change.NewIndex)
		require.Len(t, change.Operations, 1)
		assert.Equal(t, "a1", change.Operations[0].AuthorID)
		ch.reset()
	}

	res = r.RedoBy("b1")
	require.True(t, res.Success)
	assert.Equal(t, []protocol.Type{protocol.TypeRedo}, a.types(t))
	assert.Equal(t, []protocol.Type{protocol.TypeRedo}, b.types(t))
}

func TestUndo_AtBoundaryIsSilent(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	a.reset()

	assert.False(t, r.UndoBy("a1").Success)
	assert.False(t, r.RedoBy("a1").Success)

	assert.Empty(t, a.received(t))
}

func TestBroadcast_SkipsClosedChannels(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	c := joinRoom(t, r, "c1", "Carol", "#45B7D1")
	b.close()
	a.reset()
	c.reset()

	r.Draw("a1", segment(1))

	assert.Empty(t, a.received(t))
	assert.Len(t, c.received(t), 1)
	assert.Len(t, r.ActiveOperations(), 1)
}

func TestSeat_IgnoredAfterTakeover(t *testing.T) {
	r := New("default")
	old := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	fresh := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	stale := r.Seat("a1", old)

	assert.False(t, stale.Draw(segment(1)))
	assert.False(t, stale.Clear())
	assert.False(t, stale.MoveCursor(1, 1))
	assert.False(t, stale.Undo().Success)
	assert.Empty(t, r.ActiveOperations())

	current := r.Seat("a1", fresh)
	require.True(t, current.Draw(segment(2)))
	assert.Len(t, r.ActiveOperations(), 1)
	assert.True(t, current.Undo().Success)
	assert.False(t, stale.Redo().Success)
	assert.True(t, current.Redo().Success)
}

func TestBroadcast_Exclude(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	a.reset()
	b.reset()

	r.Broadcast(protocol.RemoteClear{}, "")
	r.Broadcast(protocol.RemoteClear{}, "b1")

	assert.Len(t, a.received(t), 2)
	assert.Len(t, b.received(t), 1)
}

func TestLeave(t *testing.T) {
	r := New("default")
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	b := joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	b.reset()

	remaining, left := r.Leave("a1", &fakeChannel{})
	assert.False(t, left, "stale channel must not remove the participant")
	assert.Equal(t, 2, remaining)

	remaining, left = r.Leave("a1", a)
	assert.True(t, left)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, []protocol.Outbound{protocol.UserLeft{UserID: "a1"}}, b.received(t))
	assert.False(t, r.Closed())

	remaining, left = r.Leave("b1", b)
	assert.True(t, left)
	assert.Equal(t, 0, remaining)
	assert.True(t, r.Closed())
}

func TestRejoinWithSameIDReplacesChannel(t *testing.T) {
	r := New("default")
	old := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	fresh := joinRoom(t, r, "a1", "Alice", "#FF6B6B")

	_, left := r.Leave("a1", old)

	assert.False(t, left)
	p, ok := r.Participant("a1")
	require.True(t, ok)
	assert.Same(t, fresh, p.Channel)
	assert.Equal(t, 1, r.Len())
}

func TestPrimitives(t *testing.T) {
	r := New("default", WithHistorySize(2))
	require.NoError(t, r.AddParticipant(Participant{ID: "a1", Name: "Alice", Color: "#FF6B6B"}))

	r.RecordDraw("a1", segment(1))
	r.RecordClear("a1")
	r.RecordDraw("a1", segment(3))

	assert.Len(t, r.ActiveOperations(), 2)
	assert.Len(t, r.OperationsBy("a1"), 2)
	assert.True(t, r.Undo().Success)
	assert.True(t, r.Redo().Success)
	assert.Equal(t, []protocol.User{{UserID: "a1", UserName: "Alice", UserColor: "#FF6B6B"}}, r.UsersList())
	assert.Equal(t, 0, r.RemoveParticipant("a1"))
	assert.True(t, r.Closed())
}

func TestEvents(t *testing.T) {
	var events []Event
	r := New("studio", WithObserver(ObserverFunc(func(e Event) { events = append(events, e) })))
	a := joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	joinRoom(t, r, "b1", "Bob", "#4ECDC4")
	r.Draw("a1", segment(1))
	r.Leave("a1", a)

	require.Len(t, events, 3)
	assert.Equal(t, EventParticipantJoined, events[0].Kind)
	assert.Equal(t, 1, events[0].Participants)
	assert.Equal(t, "studio", events[0].RoomID)
	assert.Equal(t, EventParticipantJoined, events[1].Kind)
	assert.Equal(t, EventParticipantLeft, events[2].Kind)
	assert.Equal(t, "a1", events[2].ParticipantID)
	assert.Equal(t, 1, events[2].Participants)
}

func TestInfo_JSON(t *testing.T) {
	r := New("studio")
	joinRoom(t, r, "a1", "Alice", "#FF6B6B")
	r.Draw("a1", segment(1))

	b, err := json.Marshal(r.Info())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "studio", got["roomId"])
	assert.EqualValues(t, 1, got["userCount"])
	assert.Contains(t, got, "createdAt")
	assert.Equal(t, map[string]any{
		"totalOperations": float64(1), "currentIndex": float64(0), "canUndo": true, "canRedo": false,
	}, got["history"])
}

func TestConcurrentDrawsKeepLogAndBroadcastOrder(t *testing.T) {
	r := New("default")
	observer := joinRoom(t, r, "watcher", "Watcher", "#000000")
	const writers, perWriter = 8, 20
	for i := range writers {
		joinRoom(t, r, string(rune('a'+i)), "", "")
	}
	observer.reset()

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := range perWriter {
				r.Draw(id, segment(float64(j)))
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	ops := r.ActiveOperations()
	got := observer.received(t)
	require.Len(t, ops, writers*perWriter)
	require.Len(t, got, writers*perWriter)
	for i, op := range ops {
		assert.Equal(t, protocol.Draw{Segment: *op.Segment}, got[i])
	}
}
