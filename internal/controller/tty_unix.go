//go:build linux || darwin

package controller

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/opensandbox/shellrelay/pkg/types"
)

// Milliseconds Read waits for input before returning empty.
const pollTimeout = 100

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
		// stdout may be redirected; the size of stdin's terminal will do.
		if cols, rows, err = term.GetSize(int(t.in.Fd())); err != nil {
			return types.ResizeEvent{}, fmt.Errorf("get terminal size: %w", err)
		}
	}
	if rows <= 0 || cols <= 0 || rows > 0xFFFF || cols > 0xFFFF {
		return types.ResizeEvent{}, fmt.Errorf("unusable terminal size %dx%d", cols, rows)
	}
	return types.ResizeEvent{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

func (t *TTY) Read(p []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(t.in.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollTimeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("poll stdin: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if fds[0].Revents&unix.POLLIN == 0 && fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		return 0, io.EOF
	}
	return t.in.Read(p)
}

func (t *TTY) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

// resizeSignals delivers SIGWINCH until stop is called.
func resizeSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	return ch, func() { signal.Stop(ch) }
}
