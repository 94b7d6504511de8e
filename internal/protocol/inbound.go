package protocol

import (
	"fmt"
	"math"

	"collabcanvas/internal/oplog"
)

// InboundHandler receives decoded participant messages. Adding a message kind
// adds a method here, so every dispatcher has to handle it before it compiles.
type InboundHandler interface {
	HandleJoin(Join)
	HandleDraw(Draw)
	HandleCursorMove(CursorMove)
	HandleClear(Clear)
	HandleUndo(Undo)
	HandleRedo(Redo)
}

// Inbound is a message sent from a participant to the server.
type Inbound interface {
	Message
	Dispatch(h InboundHandler)
}

// Join registers the sender as a participant. RoomID is optional.
type Join struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
	RoomID    string `json:"roomId,omitempty"`
}

// Draw carries one stroke segment. The server relays it unchanged.
type Draw struct {
	oplog.Segment
}

// CursorMove reports the sender's pointer position.
type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type (
	Clear struct{}
	Undo  struct{}
	Redo  struct{}
)

func (Join) Type() Type       { return TypeJoin }
func (Draw) Type() Type       { return TypeDraw }
func (CursorMove) Type() Type { return TypeCursorMove }
func (Clear) Type() Type      { return TypeClear }
func (Undo) Type() Type       { return TypeUndo }
func (Redo) Type() Type       { return TypeRedo }

func (m Join) Dispatch(h InboundHandler)       { h.HandleJoin(m) }
func (m Draw) Dispatch(h InboundHandler)       { h.HandleDraw(m) }
func (m CursorMove) Dispatch(h InboundHandler) { h.HandleCursorMove(m) }
func (m Clear) Dispatch(h InboundHandler)      { h.HandleClear(m) }
func (m Undo) Dispatch(h InboundHandler)       { h.HandleUndo(m) }
func (m Redo) Dispatch(h InboundHandler)       { h.HandleRedo(m) }

// DecodeInbound parses a participant frame. The returned error wraps
// ErrMalformed or ErrUnknownType.
func DecodeInbound(b []byte) (Inbound, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoin, TypeJoinShort:
		var m Join
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if m.UserID == "" {
			return nil, fmt.Errorf("%w: join without userId", ErrMalformed)
		}
		return m, nil
	case TypeDraw:
		var m Draw
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		if err := validateSegment(&m.Segment); err != nil {
			return nil, err
		}
		return m, nil
	case TypeCursorMove:
		var m CursorMove
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeClear:
		return Clear{}, nil
	case TypeUndo:
		return Undo{}, nil
	case TypeRedo:
		return Redo{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// validateSegment rejects segments no canvas could paint. A missing tool
// defaults to the brush.
func validateSegment(s *oplog.Segment) error {
	switch s.Tool {
	case "":
		s.Tool = oplog.ToolBrush
	case oplog.ToolBrush, oplog.ToolEraser:
	default:
		return fmt.Errorf("%w: unknown tool %q", ErrMalformed, s.Tool)
	}
	if s.StrokeWidth < 0 || math.IsInf(s.StrokeWidth, 0) {
		return fmt.Errorf("%w: stroke width %v", ErrMalformed, s.StrokeWidth)
	}
	return nil
}
