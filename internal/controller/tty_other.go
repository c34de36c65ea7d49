//go:build !linux && !darwin

package controller

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/opensandbox/shellrelay/pkg/types"
)

// TTY is the process's controlling terminal on stdin/stdout.
type TTY struct {
	in    *os.File
	out   *os.File
	state *term.State
}

// OpenTTY returns the terminal on stdin and stdout. It fails when stdin is
// not a terminal.
func OpenTTY() (*TTY, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("stdin is not a terminal")
	}
	return &TTY{in: os.Stdin, out: os.Stdout}, nil
}

func (t *TTY) MakeRaw() error {
	state, err := term.MakeRaw(int(t.in.Fd()))
	if err != nil {
		return err
	}
	t.state = state
	return nil
}

func (t *TTY) Restore() error {
	if t.state == nil {
		return nil
	}
	return term.Restore(int(t.in.Fd()), t.state)
}

func (t *TTY) Size() (types.ResizeEvent, error) {
	cols, rows, err := term.GetSize(int(t.out.Fd()))
	if err != nil {
		return types.ResizeEvent{}, fmt.Errorf("get terminal size: %w", err)
	}
	if rows <= 0 || cols <= 0 || rows > 0xFFFF || cols > 0xFFFF {
		return types.ResizeEvent{}, fmt.Errorf("unusable terminal size %dx%d", cols, rows)
	}
	return types.ResizeEvent{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

// Read blocks; without poll support a detach is noticed on the next key.
func (t *TTY) Read(p []byte) (int, error) {
	return t.in.Read(p)
}

func (t *TTY) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// resizeSignals has no signal source here; the bridge's size poll covers it.
func resizeSignals() (<-chan os.Signal, func()) {
	return nil, func() {}
}
