package journal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcanvas/internal/oplog"
	"collabcanvas/internal/room"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu       sync.Mutex
	execs    []execCall
	execErr  error
	rows     *fakeRows
	queryErr error
	queried  []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.queried = args
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.rows, nil
}

func (f *fakeDB) calls() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.execs...)
}

// fakeRows serves rows of (kind, room_id, participant_id, participant_name,
// participants, occurred_at).
type fakeRows struct {
	data    [][]any
	pos     int
	closed  bool
	scanErr error
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.pos-1]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*string) = row[1].(string)
	*dest[2].(*string) = row[2].(string)
	*dest[3].(*string) = row[3].(string)
	*dest[4].(*int) = row[4].(int)
	*dest[5].(*time.Time) = row[5].(time.Time)
	return nil
}

var at = time.Date(2026, 10, 3, 17, 45, 0, 0, time.UTC)

func TestJournal_Migrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, New(db, nil).Migrate(context.Background()))

	calls := db.calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].sql, "CREATE TABLE IF NOT EXISTS canvas_activity"))
}

func TestJournal_MigrateError(t *testing.T) {
	boom := errors.New("permission denied")
	err := New(&fakeDB{execErr: boom}, nil).Migrate(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestJournal_Record(t *testing.T) {
	tests := []struct {
		name  string
		event room.Event
		want  []any
	}{
		{
			name:  "participant joined",
			event: room.Event{At: at, Kind: room.EventParticipantJoined, RoomID: "studio", ParticipantID: "a1", ParticipantName: "Alice", Participants: 2},
			want:  []any{"participant-joined", "studio", "a1", "Alice", 2, at},
		},
		{
			name:  "room created has no participant",
			event: room.Event{At: at, Kind: room.EventRoomCreated, RoomID: "studio"},
			want:  []any{"room-created", "studio", nil, nil, 0, at},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{}
			require.NoError(t, New(db, nil).Record(context.Background(), tt.event))

			calls := db.calls()
			require.Len(t, calls, 1)
			assert.Contains(t, calls[0].sql, "INSERT INTO canvas_activity")
			assert.Equal(t, tt.want, calls[0].args)
		})
	}
}

func TestJournal_ObserveSwallowsErrors(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset")}
	j := New(db, nil)

	assert.NotPanics(t, func() {
		j.Observe(room.Event{At: at, Kind: room.EventParticipantLeft, RoomID: "studio"})
	})
	assert.Len(t, db.calls(), 1)
}

func TestJournal_BehindRegistry(t *testing.T) {
	db := &fakeDB{}
	q := room.NewQueue(New(db, nil), 16, nil)
	g := room.NewRegistry(room.WithObserver(q))

	r := g.GetOrCreate("studio")
	r.Draw("nobody", oplog.Segment{X1: 1, Tool: oplog.ToolBrush})
	require.NoError(t, q.Close(context.Background()))

	calls := db.calls()
	require.Len(t, calls, 1, "drawing must not be journaled")
	assert.Equal(t, "room-created", calls[0].args[0])
}

func TestJournal_Recent(t *testing.T) {
	rows := &fakeRows{data: [][]any{
		{"participant-left", "studio", "a1", "Alice", 0, at.Add(time.Minute)},
		{"participant-joined", "studio", "a1", "Alice", 1, at},
	}}
	db := &fakeDB{rows: rows}

	events, err := New(db, nil).Recent(context.Background(), "studio", 10)
	require.NoError(t, err)

	assert.Equal(t, []any{"studio", 10}, db.queried)
	assert.True(t, rows.closed)
	assert.Equal(t, []room.Event{
		{At: at.Add(time.Minute), Kind: room.EventParticipantLeft, RoomID: "studio", ParticipantID: "a1", ParticipantName: "Alice"},
		{At: at, Kind: room.EventParticipantJoined, RoomID: "studio", ParticipantID: "a1", ParticipantName: "Alice", Participants: 1},
	}, events)
}

func TestJournal_RecentErrors(t *testing.T) {
	boom := errors.New("timeout")

	_, err := New(&fakeDB{queryErr: boom}, nil).Recent(context.Background(), "studio", 5)
	assert.ErrorIs(t, err, boom)

	_, err = New(&fakeDB{rows: &fakeRows{data: [][]any{{}}, scanErr: boom}}, nil).Recent(context.Background(), "studio", 5)
	assert.ErrorIs(t, err, boom)
}
