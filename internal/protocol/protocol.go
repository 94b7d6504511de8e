// Package protocol defines the JSON messages exchanged between canvas
// participants and the server. Every frame is an envelope
// {"type": ..., "data": {...}}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the value of the envelope "type" field.
type Type string

const (
	TypeJoin        Type = "user-join"
	TypeJoinShort   Type = "join"
	TypeLeave       Type = "user-leave"
	TypeUsersList   Type = "users-list"
	TypeCanvasState Type = "canvas-state"
	TypeDraw        Type = "draw"
	TypeCursorMove  Type = "cursor-move"
	TypeClear       Type = "clear"
	TypeRemoteClear Type = "remote-clear"
	TypeUndo        Type = "undo"
	TypeRedo        Type = "redo"
)

var (
	// ErrMalformed is returned for frames that cannot be decoded into the
	// structure their type requires.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed envelopes with a type the
	// server does not handle.
	ErrUnknownType = errors.New("unknown message type")
)

// Message is anything that can be put in an envelope.
type Message interface {
	Type() Type
}

// Envelope is the on-the-wire frame.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Encode wraps m in an envelope and marshals it.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(outEnvelope{Type: m.Type(), Data: m})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
