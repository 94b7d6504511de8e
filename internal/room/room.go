// Package room holds the shared canvas state of each drawing room and the
// registry that creates and destroys rooms as participants come and go.
package room

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"collabcanvas/internal/oplog"
	"collabcanvas/internal/protocol"
)

var (
	// ErrRoomClosed is returned when joining a room whose last participant
	// has already left. The registry hands out a fresh room instead.
	ErrRoomClosed = errors.New("room closed")
)

// Info is the summary served by the room listing endpoint.
type Info struct {
	CreatedAt time.Time       `json:"createdAt"`
	RoomID    string          `json:"roomId"`
	Users     []protocol.User `json:"users"`
	History   oplog.Stats     `json:"history"`
	UserCount int             `json:"userCount"`
}

type member struct {
	Participant
	seq uint64
}

// Room is an isolated canvas shared by its participants. All methods are safe
// for concurrent use; each one runs under the room lock, so the order
// operations enter the log is the order their broadcasts are queued.
type Room struct {
	createdAt time.Time
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time
	id        string

	mu           sync.Mutex
	participants map[string]*member
	log          *oplog.Log
	seq          uint64
	closed       bool
}

// New creates an empty room. Rooms are normally obtained from a Registry.
func New(id string, opts ...Option) *Room {
	s := newSettings(opts)
	return &Room{
		id:           id,
		createdAt:    s.now(),
		logger:       s.logger.With("room", id),
		observer:     s.observers,
		now:          s.now,
		participants: make(map[string]*member),
		log:          oplog.New(s.historySize, s.logOptions...),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// CreatedAt returns when the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Closed reports whether the room has emptied and must not be joined again.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Len returns the number of participants.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Participant looks up a participant by id.
func (r *Room) Participant(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return m.Participant, true
}

// AddParticipant registers p without notifying anyone. A participant with the
// same id is replaced.
func (r *Room) AddParticipant(p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	p.normalize()
	r.addLocked(p)
	return nil
}

// RemoveParticipant drops a participant without notifying anyone and returns
// how many remain.
func (r *Room) RemoveParticipant(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.participants[id]; ok {
		r.removeLocked(m)
	}
	return len(r.participants)
}

// RecordDraw appends a draw operation to the log.
func (r *Room) RecordDraw(authorID string, seg oplog.Segment) oplog.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Append(oplog.Operation{Kind: oplog.KindDraw, AuthorID: authorID, Segment: &seg})
}

// RecordClear appends a clear operation to the log.
func (r *Room) RecordClear(authorID string) oplog.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Append(oplog.Operation{Kind: oplog.KindClear, AuthorID: authorID})
}

// Undo moves the shared cursor back without broadcasting.
func (r *Room) Undo() oplog.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Undo()
}

// Redo moves the shared cursor forward without broadcasting.
func (r *Room) Redo() oplog.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Redo()
}

// Broadcast sends msg to every participant except exclude. Pass "" to
// exclude nobody.
func (r *Room) Broadcast(msg protocol.Outbound, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg, exclude)
}

// UsersList returns the participants in join order.
func (r *Room) UsersList() []protocol.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersLocked()
}

// ActiveOperations returns the operations that make up the current canvas.
func (r *Room) ActiveOperations() []oplog.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Active()
}

// OperationsBy returns the retained operations authored by a participant.
func (r *Room) OperationsBy(authorID string) []oplog.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.ByAuthor(authorID)
}

// Info summarises the room.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		RoomID:    r.id,
		UserCount: len(r.participants),
		CreatedAt: r.createdAt,
		Users:     r.usersLocked(),
		History:   r.log.Stats(),
	}
}

// Join adds p, sends it the users list (itself included) and, when the
// canvas is not empty, the active operations. Everyone else is told about
// the newcomer.
func (r *Room) Join(p Participant) ([]protocol.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}

	p.normalize()
	r.addLocked(p)

	users := r.usersLocked()
	r.sendLocked(p, protocol.UsersList{Users: users})
	if r.log.Cursor() >= 0 {
		r.sendLocked(p, protocol.CanvasState{NewIndex: r.log.Cursor(), Operations: r.log.Active()})
	}
	r.broadcastLocked(protocol.UserJoined{User: p.user()}, p.ID)
	r.emitLocked(EventParticipantJoined, p)

	r.logger.Info("participant joined", "participant", p.ID, "name", p.Name, "participants", len(r.participants))
	return users, nil
}

// Leave removes participant id if it is still bound to ch and tells the rest
// of the room. The room closes when its last participant leaves. It returns
// the remaining participant count and whether anything was removed.
func (r *Room) Leave(id string, ch Channel) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.participants[id]
	if !ok || m.Channel != ch {
		return len(r.participants), false
	}
	r.removeLocked(m)
	r.broadcastLocked(protocol.UserLeft{UserID: id}, "")

	r.logger.Info("participant left", "participant", id, "participants", len(r.participants))
	return len(r.participants), true
}

// Draw records a segment and relays it to everyone but its author. It
// reports false when authorID is not in the room.
func (r *Room) Draw(authorID string, seg oplog.Segment) bool {
	return r.draw(authorID, nil, seg)
}

// Clear records a clear operation and tells everyone but its author.
func (r *Room) Clear(authorID string) bool {
	return r.clear(authorID, nil)
}

// MoveCursor relays a pointer position to everyone but the mover. Cursor
// moves are not recorded.
func (r *Room) MoveCursor(authorID string, x, y float64) bool {
	return r.moveCursor(authorID, nil, x, y)
}

// UndoBy undoes the last active operation on behalf of userID and, on
// success, sends the new history position to every participant.
func (r *Room) UndoBy(userID string) oplog.Result {
	return r.step(userID, nil, protocol.TypeUndo)
}

// RedoBy is the counterpart of UndoBy.
func (r *Room) RedoBy(userID string) oplog.Result {
	return r.step(userID, nil, protocol.TypeRedo)
}

// Seat binds participant id to the channel it joined with.
func (r *Room) Seat(id string, ch Channel) Seat {
	return Seat{room: r, id: id, ch: ch}
}

// Seat acts in a room on behalf of one participant connection. Once another
// channel takes over the participant id, every operation through the old
// seat is ignored.
type Seat struct {
	room *Room
	ch   Channel
	id   string
}

func (s Seat) Draw(seg oplog.Segment) bool { return s.room.draw(s.id, s.ch, seg) }

func (s Seat) Clear() bool { return s.room.clear(s.id, s.ch) }

func (s Seat) MoveCursor(x, y float64) bool { return s.room.moveCursor(s.id, s.ch, x, y) }

func (s Seat) Undo() oplog.Result { return s.room.step(s.id, s.ch, protocol.TypeUndo) }

func (s Seat) Redo() oplog.Result { return s.room.step(s.id, s.ch, protocol.TypeRedo) }

func (r *Room) draw(authorID string, ch Channel, seg oplog.Segment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memberLocked(authorID, ch); !ok {
		return false
	}
	r.log.Append(oplog.Operation{Kind: oplog.KindDraw, AuthorID: authorID, Segment: &seg})
	r.broadcastLocked(protocol.Draw{Segment: seg}, authorID)
	return true
}

func (r *Room) clear(authorID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memberLocked(authorID, ch); !ok {
		return false
	}
	r.log.Append(oplog.Operation{Kind: oplog.KindClear, AuthorID: authorID})
	r.broadcastLocked(protocol.RemoteClear{}, authorID)
	return true
}

func (r *Room) moveCursor(authorID string, ch Channel, x, y float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memberLocked(authorID, ch)
	if !ok {
		return false
	}
	r.broadcastLocked(protocol.CursorUpdate{
		UserID:    authorID,
		UserName:  m.Name,
		UserColor: m.Color,
		X:         x,
		Y:         y,
	}, authorID)
	return true
}

func (r *Room) step(userID string, ch Channel, action protocol.Type) oplog.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memberLocked(userID, ch); !ok {
		return oplog.Result{}
	}

	var res oplog.Result
	if action == protocol.TypeUndo {
		res = r.log.Undo()
	} else {
		res = r.log.Redo()
	}
	if !res.Success {
		r.logger.Debug("nothing to "+string(action), "participant", userID)
		return res
	}

	r.broadcastLocked(protocol.HistoryChange{
		Action:     action,
		UserID:     userID,
		NewIndex:   res.Cursor,
		Operations: res.Operations,
	}, "")
	return res
}

// memberLocked finds participant id. A non-nil ch must also match the
// channel the participant is bound to.
func (r *Room) memberLocked(id string, ch Channel) (*member, bool) {
	m, ok := r.participants[id]
	if !ok || (ch != nil && m.Channel != ch) {
		return nil, false
	}
	return m, true
}

func (r *Room) addLocked(p Participant) {
	r.seq++
	r.participants[p.ID] = &member{Participant: p, seq: r.seq}
}

func (r *Room) removeLocked(m *member) {
	delete(r.participants, m.ID)
	r.emitLocked(EventParticipantLeft, m.Participant)
	if len(r.participants) == 0 {
		r.closed = true
	}
}

func (r *Room) usersLocked() []protocol.User {
	members := make([]*member, 0, len(r.participants))
	for _, m := range r.participants {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	users := make([]protocol.User, 0, len(members))
	for _, m := range members {
		users = append(users, m.user())
	}
	return users
}

func (r *Room) sendLocked(p Participant, msg protocol.Outbound) {
	b, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("failed to encode message", slog.Any("error", err))
		return
	}
	if p.Channel != nil && !p.Channel.Send(b) {
		r.logger.Debug("message skipped", "participant", p.ID, "type", msg.Type())
	}
}

func (r *Room) broadcastLocked(msg protocol.Outbound, exclude string) {
	b, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("failed to encode broadcast", slog.Any("error", err))
		return
	}
	for id, m := range r.participants {
		if id == exclude || m.Channel == nil {
			continue
		}
		if !m.Channel.Send(b) {
			r.logger.Debug("broadcast skipped", "participant", id, "type", msg.Type())
		}
	}
}

func (r *Room) emitLocked(kind EventKind, p Participant) {
	if r.observer == nil {
		return
	}
	r.observer.Observe(Event{
		Kind:            kind,
		RoomID:          r.id,
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Participants:    len(r.participants),
		At:              r.now(),
	})
}
