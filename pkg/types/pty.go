package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResize is returned by DecodeResize for payloads that are not a
// valid resize event. Callers discard the event and keep the session running.
var ErrMalformedResize = errors.New("malformed resize payload")

// Default terminal size used when no size is known yet.
const (
	DefaultRows = 24
	DefaultCols = 80
)

// ResizeEvent is the payload of the resize channel.
type ResizeEvent struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

func (r ResizeEvent) String() string {
	return fmt.Sprintf("%dx%d", r.Cols, r.Rows)
}

// resizeWire uses wider, optional fields so that missing and out-of-range
// values can be told apart from valid ones.
type resizeWire struct {
	Rows *int `json:"rows"`
	Cols *int `json:"cols"`
}

// EncodeResize encodes a resize event as {"rows":R,"cols":C}.
func EncodeResize(r ResizeEvent) []byte {
	data, _ := json.Marshal(r)
	return data
}

// DecodeResize parses a resize payload. Rows and columns must both be present
// and in 1..65535.
func DecodeResize(data []byte) (ResizeEvent, error) {
	var w resizeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return ResizeEvent{}, fmt.Errorf("%w: %v", ErrMalformedResize, err)
	}
	if w.Rows == nil || w.Cols == nil {
		return ResizeEvent{}, fmt.Errorf("%w: rows and cols are required", ErrMalformedResize)
	}
	if !validDimension(*w.Rows) || !validDimension(*w.Cols) {
		return ResizeEvent{}, fmt.Errorf("%w: %dx%d out of range", ErrMalformedResize, *w.Cols, *w.Rows)
	}
	return ResizeEvent{Rows: uint16(*w.Rows), Cols: uint16(*w.Cols)}, nil
}

func validDimension(n int) bool {
	return n > 0 && n <= 0xFFFF
}
