package protocol

import (
	"fmt"

	"collabcanvas/internal/oplog"
)

// Outbound is a message sent from the server to participants.
type Outbound interface {
	Message
	outbound()
}

// User is the public view of a participant.
type User struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
}

// UsersList is sent once to a participant right after it joins. It includes
// the joiner itself.
type UsersList struct {
	Users []User `json:"users"`
}

// CanvasState follows UsersList when the room already has active operations,
// so a late joiner can rebuild the canvas.
type CanvasState struct {
	Operations []oplog.Operation `json:"operations"`
	NewIndex   int               `json:"newIndex"`
}

// UserJoined announces a new participant to the rest of the room.
type UserJoined struct {
	User
}

// UserLeft announces that a participant is gone.
type UserLeft struct {
	UserID string `json:"userId"`
}

// CursorUpdate relays a pointer position enriched with the mover's identity.
type CursorUpdate struct {
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	UserColor string  `json:"userColor"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// RemoteClear tells the other participants that the canvas was cleared.
type RemoteClear struct{}

// HistoryChange is the result of a successful undo or redo. It goes to every
// participant, the requester included, because the cursor is shared.
type HistoryChange struct {
	Action     Type              `json:"-"`
	UserID     string            `json:"userId"`
	Operations []oplog.Operation `json:"operations"`
	NewIndex   int               `json:"newIndex"`
}

func (UsersList) Type() Type      { return TypeUsersList }
func (CanvasState) Type() Type    { return TypeCanvasState }
func (UserJoined) Type() Type     { return TypeJoin }
func (UserLeft) Type() Type       { return TypeLeave }
func (CursorUpdate) Type() Type   { return TypeCursorMove }
func (RemoteClear) Type() Type    { return TypeRemoteClear }
func (m HistoryChange) Type() Type { return m.Action }

func (UsersList) outbound()     {}
func (CanvasState) outbound()   {}
func (UserJoined) outbound()    {}
func (UserLeft) outbound()      {}
func (Draw) outbound()          {}
func (CursorUpdate) outbound()  {}
func (RemoteClear) outbound()   {}
func (HistoryChange) outbound() {}

// DecodeOutbound parses a server frame. It is used by participant clients.
func DecodeOutbound(b []byte) (Outbound, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}

	var m Outbound
	switch env.Type {
	case TypeUsersList:
		var v UsersList
		err = decodeData(env, &v)
		m = v
	case TypeCanvasState:
		var v CanvasState
		err = decodeData(env, &v)
		m = v
	case TypeJoin:
		var v UserJoined
		err = decodeData(env, &v)
		m = v
	case TypeLeave:
		var v UserLeft
		err = decodeData(env, &v)
		m = v
	case TypeDraw:
		var v Draw
		err = decodeData(env, &v)
		m = v
	case TypeCursorMove:
		var v CursorUpdate
		err = decodeData(env, &v)
		m = v
	case TypeRemoteClear:
		m = RemoteClear{}
	case TypeUndo, TypeRedo:
		v := HistoryChange{Action: env.Type}
		err = decodeData(env, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
