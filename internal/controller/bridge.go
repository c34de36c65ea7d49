// Package controller attaches the local terminal to a remote shell relayed
// over a publish/subscribe transport.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/shellrelay/internal/keys"
	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/client"
)

var (
	// ErrAlreadyAttached is returned by Attach while a previous Attach is
	// still running.
	ErrAlreadyAttached = errors.New("bridge already attached")

	// ErrTransportFatal is returned by Attach when the transport gave up.
	// The terminal has been restored by the time it is returned.
	ErrTransportFatal = errors.New("transport failed")
)

// State is the bridge's attachment state.
type State int32

const (
	StateDetached State = iota
	StateAttaching
	StateAttached
	StateDetaching
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateDetaching:
		return "detaching"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultResizePoll   = time.Second
	DefaultResizeSettle = 50 * time.Millisecond

	initialResizeTimeout = 2 * time.Second
	flushTimeout         = time.Second
	inputQueue           = 64
	noticeQueue          = 16
	readBufferSize       = 4096
)

// Options configures a Bridge. Zero values select the defaults.
type Options struct {
	// ResizePoll is the interval of the size check backing up SIGWINCH.
	ResizePoll time.Duration
	// ResizeSettle is how long size notifications must be quiet before the
	// new size is published.
	ResizeSettle time.Duration
	// Resized, if set, is an extra source of size-change notifications.
	Resized <-chan struct{}
	// Quiet hides status and connectivity notices.
	Quiet bool
}

// Bridge connects a Terminal to the session under a channel prefix.
type Bridge struct {
	transport transport.Transport
	prefix    string
	term      Terminal
	opts      Options

	state   atomic.Int32
	current atomic.Pointer[attachment]
}

// attachment is the state of one Attach call.
type attachment struct {
	raw    *rawMode
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewBridge creates a detached bridge.
func NewBridge(t transport.Transport, prefix string, term Terminal, opts Options) *Bridge {
	if opts.ResizePoll <= 0 {
		opts.ResizePoll = DefaultResizePoll
	}
	if opts.ResizeSettle <= 0 {
		opts.ResizeSettle = DefaultResizeSettle
	}
	return &Bridge{
		transport: t,
		prefix:    prefix,
		term:      term,
		opts:      opts,
	}
}

// State returns the current attachment state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Attach publishes the local window size, puts the terminal in raw mode and
// relays until the user presses Ctrl+Q, Detach is called or ctx is
// cancelled; all of these return nil. The terminal is restored on every
// path before Attach returns. Recoverable transport trouble is shown as a
// notice and never ends the session; a fatal transport failure returns an
// error wrapping ErrTransportFatal.
func (b *Bridge) Attach(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateDetached), int32(StateAttaching)) {
		return ErrAlreadyAttached
	}
	defer b.state.Store(int32(StateDetached))

	sess, err := client.Open(ctx, b.transport, b.prefix)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	size, err := b.term.Size()
	if err != nil {
		return fmt.Errorf("query terminal size: %w", err)
	}
	rctx, rcancel := context.WithTimeout(ctx, initialResizeTimeout)
	if err := sess.Resize(rctx, size); err != nil {
		log.Printf("controller: publish initial size %s: %v", size, err)
	}
	rcancel()

	raw, err := acquireRaw(b.term)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	// Covers panics in the loops below; release is idempotent.
	defer raw.release()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := &attachment{raw: raw, cancel: cancel, done: make(chan struct{})}
	b.current.Store(a)
	defer b.current.Store(nil)
	b.state.Store(int32(StateAttached))
	log.Printf("controller: attached to %s at %s", b.prefix, size)

	g, gctx := errgroup.WithContext(loopCtx)
	input := make(chan []byte, inputQueue)
	notices := make(chan notice, noticeQueue)

	g.Go(func() error { return b.readKeys(gctx, a, input) })
	g.Go(func() error { return sendInput(gctx, sess, input) })
	g.Go(func() error { return b.writeOutput(gctx, sess, notices) })
	g.Go(func() error { return b.watchSize(gctx, sess, size) })
	g.Go(func() error { return b.watchStatus(gctx, a, sess, notices) })

	select {
	case <-a.done:
	case <-gctx.Done():
	}
	b.detach(a)
	err = g.Wait()
	log.Printf("controller: detached from %s", b.prefix)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Detach restores the terminal and ends the running Attach. It is safe to
// call any number of times, from any goroutine, attached or not.
func (b *Bridge) Detach() {
	if a := b.current.Load(); a != nil {
		b.detach(a)
	}
}

func (b *Bridge) detach(a *attachment) {
	a.once.Do(func() {
		b.state.Store(int32(StateDetaching))
		if err := a.raw.release(); err != nil {
			log.Printf("controller: restore terminal: %v", err)
		}
		a.cancel()
		close(a.done)
	})
}

// readKeys is the only reader of the terminal. Ctrl+Q detaches; everything
// before it in the same batch is still sent.
func (b *Bridge) readKeys(ctx context.Context, a *attachment, input chan<- []byte) error {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := b.term.Read(buf)
		if n > 0 {
			out, detach := keys.Translate(buf[:n])
			if len(out) > 0 {
				select {
				case input <- out:
				case <-ctx.Done():
					return nil
				}
			}
			if detach {
				b.detach(a)
				return nil
			}
		}
		if err != nil {
			b.detach(a)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read terminal: %w", err)
		}
	}
	return nil
}

// sendInput publishes key batches in order. Send retries on its own, so a
// broker outage queues keystrokes instead of losing them. Keys typed just
// before a detach are flushed with a short deadline.
func sendInput(ctx context.Context, sess *client.Session, input <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			flushInput(ctx, sess, nil, input)
			return nil
		case data := <-input:
			if err := sess.Send(ctx, data); err != nil {
				if ctx.Err() != nil {
					flushInput(ctx, sess, data, input)
					return nil
				}
				return fmt.Errorf("send input: %w", err)
			}
		}
	}
}

func flushInput(ctx context.Context, sess *client.Session, pending []byte, input <-chan []byte) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	for {
		if pending != nil {
			if err := sess.Send(fctx, pending); err != nil {
				log.Printf("controller: dropping input on detach: %v", err)
				return
			}
		}
		select {
		case pending = <-input:
		default:
			return
		}
	}
}

// writeOutput is the only writer of the terminal. Notices are interleaved
// between output chunks so they never split an escape sequence.
func (b *Bridge) writeOutput(ctx context.Context, sess *client.Session, notices <-chan notice) error {
	output := sess.Output()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-output:
			if !ok {
				return nil
			}
			if _, err := b.term.Write(data); err != nil {
				return fmt.Errorf("write terminal: %w", err)
			}
		case n := <-notices:
			if _, err := io.WriteString(b.term, n.render()); err != nil {
				return fmt.Errorf("write terminal: %w", err)
			}
		}
	}
}

// watchStatus turns agent status and transport events into notices. A
// fatal transport event detaches before the error is reported.
func (b *Bridge) watchStatus(ctx context.Context, a *attachment, sess *client.Session, notices chan<- notice) error {
	status := sess.Status()
	disconnected := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			log.Printf("controller: agent status %s", st)
			b.notify(notices, statusNotice(st))
		case ev := <-sess.Events():
			log.Printf("controller: transport %s", ev.Kind)
			switch ev.Kind {
			case transport.EventFatal:
				b.detach(a)
				return fmt.Errorf("%w: %v", ErrTransportFatal, ev.Err)
			case transport.EventDisconnected:
				disconnected = true
				b.notify(notices, eventNotice(ev))
			case transport.EventConnected:
				// The first connect happened before attaching.
				if disconnected {
					disconnected = false
					b.notify(notices, eventNotice(ev))
				}
			}
		}
	}
}

func (b *Bridge) notify(notices chan<- notice, n notice) {
	if b.opts.Quiet {
		return
	}
	select {
	case notices <- n:
	default:
	}
}
