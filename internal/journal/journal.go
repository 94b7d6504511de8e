// Package journal records room lifecycle activity in PostgreSQL. Drawing
// operations are never written; the journal tracks who was in which room and
// when.
package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"collabcanvas/internal/room"
)

const schema = `CREATE TABLE IF NOT EXISTS canvas_activity (
	id               BIGSERIAL PRIMARY KEY,
	kind             TEXT        NOT NULL,
	room_id          TEXT        NOT NULL,
	participant_id   TEXT,
	participant_name TEXT,
	participants     INTEGER     NOT NULL,
	occurred_at      TIMESTAMPTZ NOT NULL
)`

const insertActivity = `INSERT INTO canvas_activity
	(kind, room_id, participant_id, participant_name, participants, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

const selectRecent = `SELECT kind, room_id, COALESCE(participant_id, ''),
	COALESCE(participant_name, ''), participants, occurred_at
	FROM canvas_activity WHERE room_id = $1
	ORDER BY id DESC LIMIT $2`

const writeTimeout = 5 * time.Second

// DB is the subset of pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Journal writes lifecycle events to the canvas_activity table. It is a
// room.Observer that blocks on the database, so it belongs behind a
// room.Queue.
type Journal struct {
	db     DB
	logger *slog.Logger
}

// New creates a journal. A nil logger discards.
func New(db DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Journal{db: db, logger: logger}
}

// Migrate creates the activity table when it does not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("journal: create table: %w", err)
	}
	return nil
}

// Observe writes e, logging failures.
func (j *Journal) Observe(e room.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.Record(ctx, e); err != nil {
		j.logger.Warn("journal write failed", slog.Any("error", err), "room", e.RoomID, "kind", e.Kind)
	}
}

// Record inserts one activity row for e.
func (j *Journal) Record(ctx context.Context, e room.Event) error {
	_, err := j.db.Exec(ctx, insertActivity,
		string(e.Kind),
		e.RoomID,
		nullable(e.ParticipantID),
		nullable(e.ParticipantName),
		e.Participants,
		e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", e.Kind, err)
	}
	return nil
}

// Recent returns up to limit events for roomID, newest first.
func (j *Journal) Recent(ctx context.Context, roomID string, limit int) ([]room.Event, error) {
	rows, err := j.db.Query(ctx, selectRecent, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query %s: %w", roomID, err)
	}
	defer rows.Close()

	var events []room.Event
	for rows.Next() {
		var (
			e    room.Event
			kind string
		)
		if err := rows.Scan(&kind, &e.RoomID, &e.ParticipantID, &e.ParticipantName, &e.Participants, &e.At); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Kind = room.EventKind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return events, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
