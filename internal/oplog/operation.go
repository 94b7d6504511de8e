package oplog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies what an Operation does to the canvas.
type Kind string

const (
	KindDraw  Kind = "draw"
	KindClear Kind = "clear"
)

// Tool selects how a segment is painted.
type Tool string

const (
	ToolBrush  Tool = "brush"
	ToolEraser Tool = "eraser"
)

// Segment is a single line segment plus the style it was drawn with.
type Segment struct {
	X0          float64 `json:"x0"`
	Y0          float64 `json:"y0"`
	X1          float64 `json:"x1"`
	Y1          float64 `json:"y1"`
	Tool        Tool    `json:"tool"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// Operation is one atomic canvas mutation. Operations are never modified after
// they have been appended to a Log.
type Operation struct {
	Timestamp time.Time
	Segment   *Segment // nil for KindClear
	ID        string
	Kind      Kind
	AuthorID  string
}

// wireOperation is the JSON shape of an Operation inside undo/redo messages.
type wireOperation struct {
	ID        string          `json:"id"`
	Type      Kind            `json:"type"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

var emptyObject = json.RawMessage(`{}`)

// MarshalJSON encodes the operation with a Unix-millisecond timestamp. A clear
// operation carries an empty data object.
func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		ID:        op.ID,
		Type:      op.Kind,
		UserID:    op.AuthorID,
		Data:      emptyObject,
		Timestamp: op.Timestamp.UnixMilli(),
	}
	if op.Segment != nil {
		data, err := json.Marshal(op.Segment)
		if err != nil {
			return nil, fmt.Errorf("marshal segment: %w", err)
		}
		w.Data = data
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (op *Operation) UnmarshalJSON(b []byte) error {
	var w wireOperation
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*op = Operation{
		ID:        w.ID,
		Kind:      w.Type,
		AuthorID:  w.UserID,
		Timestamp: time.UnixMilli(w.Timestamp),
	}
	if w.Type == KindDraw && len(w.Data) > 0 {
		var seg Segment
		if err := json.Unmarshal(w.Data, &seg); err != nil {
			return fmt.Errorf("unmarshal segment: %w", err)
		}
		op.Segment = &seg
	}
	return nil
}
