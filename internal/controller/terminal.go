package controller

import (
	"io"
	"sync"

	"github.com/opensandbox/shellrelay/pkg/types"
)

// Terminal is the local terminal the bridge drives.
type Terminal interface {
	io.Writer

	// Read returns keyboard input. It returns 0, nil when nothing arrived
	// within its poll interval so callers can check for cancellation.
	Read(p []byte) (int, error)

	// Size reports the current window size.
	Size() (types.ResizeEvent, error)

	// MakeRaw saves the current mode and switches to raw mode. Restore puts
	// the saved mode back.
	MakeRaw() error
	Restore() error
}

// rawMode is the acquired raw-mode state of a Terminal. It is released at
// most once, whichever exit path gets there first.
type rawMode struct {
	term Terminal
	once sync.Once
	err  error
}

func acquireRaw(t Terminal) (*rawMode, error) {
	if err := t.MakeRaw(); err != nil {
		return nil, err
	}
	return &rawMode{term: t}, nil
}

func (r *rawMode) release() error {
	r.once.Do(func() {
		r.err = r.term.Restore()
	})
	return r.err
}
