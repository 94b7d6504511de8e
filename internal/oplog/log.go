// Package oplog keeps the ordered drawing history of a single room and the
// cursor that undo and redo move through it.
package oplog

import (
	"time"

	"github.com/segmentio/ksuid"
)

// DefaultCapacity is how many operations a Log retains before it starts
// evicting the oldest one.
const DefaultCapacity = 200

// Result is returned by Undo and Redo. Cursor and Operations are only set when
// Success is true.
type Result struct {
	Operations []Operation
	Cursor     int
	Success    bool
}

// Stats summarises the history state of a log.
type Stats struct {
	TotalOperations int  `json:"totalOperations"`
	CurrentIndex    int  `json:"currentIndex"`
	CanUndo         bool `json:"canUndo"`
	CanRedo         bool `json:"canRedo"`
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source used to stamp appended operations.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithIDGenerator overrides how operation ids are produced.
func WithIDGenerator(newID func() string) Option {
	return func(l *Log) { l.newID = newID }
}

// Log is an append-only sequence of operations with a movable cursor.
// Entries after the cursor form the redo history and are discarded by the
// next Append.
//
// Log is not safe for concurrent use; the owning room serializes access.
type Log struct {
	now      func() time.Time
	newID    func() string
	entries  []Operation
	cursor   int
	capacity int
}

// New creates an empty log. A capacity <= 0 selects DefaultCapacity.
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		cursor:   -1,
		capacity: capacity,
		now:      time.Now,
		newID:    newOperationID,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newOperationID() string {
	return "op-" + ksuid.New().String()
}

// Append drops any redo history, stores op with a fresh id and timestamp and
// moves the cursor onto it. When the log is over capacity the oldest entry is
// evicted and the cursor shifts down with it.
func (l *Log) Append(op Operation) Operation {
	for i := l.cursor + 1; i < len(l.entries); i++ {
		l.entries[i] = Operation{}
	}
	l.entries = l.entries[:l.cursor+1]

	op.ID = l.newID()
	op.Timestamp = l.now()
	l.entries = append(l.entries, op)
	l.cursor = len(l.entries) - 1

	if len(l.entries) > l.capacity {
		l.entries[0] = Operation{}
		l.entries = l.entries[1:]
		l.cursor--
	}
	return op
}

// Undo steps the cursor back by one.
func (l *Log) Undo() Result {
	if l.cursor == -1 {
		return Result{}
	}
	l.cursor--
	return Result{Success: true, Cursor: l.cursor, Operations: l.Active()}
}

// Redo steps the cursor forward by one.
func (l *Log) Redo() Result {
	if l.cursor == len(l.entries)-1 {
		return Result{}
	}
	l.cursor++
	return Result{Success: true, Cursor: l.cursor, Operations: l.Active()}
}

// Active returns a copy of entries[0..cursor]. The result is never nil.
func (l *Log) Active() []Operation {
	active := make([]Operation, l.cursor+1)
	copy(active, l.entries[:l.cursor+1])
	return active
}

// Clear empties the log.
func (l *Log) Clear() {
	l.entries = nil
	l.cursor = -1
}

// Cursor returns the index of the last active operation, -1 if none.
func (l *Log) Cursor() int { return l.cursor }

// Len returns the number of retained entries, including redo history.
func (l *Log) Len() int { return len(l.entries) }

// Lookup finds a retained operation by id.
func (l *Log) Lookup(id string) (Operation, bool) {
	for _, op := range l.entries {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// ByAuthor returns the retained operations produced by authorID in log order.
func (l *Log) ByAuthor(authorID string) []Operation {
	var ops []Operation
	for _, op := range l.entries {
		if op.AuthorID == authorID {
			ops = append(ops, op)
		}
	}
	return ops
}

// Stats reports the current history position.
func (l *Log) Stats() Stats {
	return Stats{
		TotalOperations: len(l.entries),
		CurrentIndex:    l.cursor,
		CanUndo:         l.cursor > -1,
		CanRedo:         l.cursor < len(l.entries)-1,
	}
}
