// Package recorder stores the messages a participant receives in a local
// bbolt file, one bucket per session, so a canvas session can be inspected
// or replayed later.
package recorder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"collabcanvas/internal/protocol"
)

// ErrUnknownSession is returned when reading a session that was never recorded.
var ErrUnknownSession = errors.New("recorder: unknown session")

// Entry is one recorded message.
type Entry struct {
	At    time.Time       `json:"at"`
	Type  protocol.Type   `json:"type"`
	Frame json.RawMessage `json:"frame"`
	Seq   uint64          `json:"-"`
}

// Recorder appends entries to the bucket of its session.
type Recorder struct {
	db      *bbolt.DB
	now     func() time.Time
	session []byte
}

// Open opens (or creates) the database at path and starts recording under
// session. Recording into an existing session appends to it.
func Open(path, session string) (*Recorder, error) {
	if session == "" {
		return nil, errors.New("recorder: empty session name")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}

	r := &Recorder{db: db, session: []byte(session), now: time.Now}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(r.session)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: create session %s: %w", session, err)
	}
	return r, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record appends msg to the session.
func (r *Recorder) Record(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	return r.RecordFrame(msg.Type(), frame)
}

// RecordFrame appends an already encoded frame to the session.
func (r *Recorder) RecordFrame(typ protocol.Type, frame []byte) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.session)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("recorder: sequence: %w", err)
		}
		v, err := json.Marshal(Entry{At: r.now().UTC(), Type: typ, Frame: frame})
		if err != nil {
			return fmt.Errorf("recorder: encode entry: %w", err)
		}
		return b.Put(seqKey(seq), v)
	})
}

// Count returns the number of entries in the session.
func (r *Recorder) Count() (int, error) {
	var n int
	err := r.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(r.session).Stats().KeyN
		return nil
	})
	return n, err
}

// Each calls fn for every entry of session in recording order, stopping at
// the first error fn returns.
func (r *Recorder) Each(session string, fn func(Entry) error) error {
	return r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(session))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrUnknownSession, session)
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("recorder: decode entry %x: %w", k, err)
			}
			e.Seq = binary.BigEndian.Uint64(k)
			return fn(e)
		})
	})
}

// Sessions lists the recorded session names in key order.
func (r *Recorder) Sessions() ([]string, error) {
	var names []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
