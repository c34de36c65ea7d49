// Package client is the controller side of a shell relay session without a
// terminal attached. It publishes input and resize events and delivers the
// agent's output and status.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/types"
)

const (
	retryInitial = 100 * time.Millisecond
	retryMax     = 5 * time.Second

	statusBuffer = 32
)

// Session is one controller's view of the session under a channel prefix.
type Session struct {
	transport transport.Transport
	channels  transport.Channels

	output <-chan []byte
	status chan types.Status

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Open subscribes to the output and status channels under prefix. The
// transport stays owned by the caller and is not closed by Session.Close.
func Open(ctx context.Context, t transport.Transport, prefix string) (*Session, error) {
	channels := transport.NewChannels(prefix)
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	output, err := t.Subscribe(subCtx, channels.Output)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", channels.Output, err)
	}
	status, err := t.Subscribe(subCtx, channels.Status)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", channels.Status, err)
	}

	s := &Session{
		transport: t,
		channels:  channels,
		output:    output,
		status:    make(chan types.Status, statusBuffer),
		cancel:    cancel,
	}
	go s.decodeStatus(status)
	return s, nil
}

// Channels returns the topics of the session.
func (s *Session) Channels() transport.Channels {
	return s.channels
}

// Output delivers the shell's output bytes in order. The channel is closed
// when the session is closed.
func (s *Session) Output() <-chan []byte {
	return s.output
}

// Status delivers decoded status messages. Statuses are notifications: when
// the buffer is full new ones are dropped rather than holding up delivery of
// the other channels.
func (s *Session) Status() <-chan types.Status {
	return s.status
}

// Events reports the transport's connectivity changes.
func (s *Session) Events() <-chan transport.Event {
	return s.transport.Events()
}

// Send publishes data on the input channel. Transient publish failures are
// retried until ctx is done; keystrokes are never dropped silently.
func (s *Session) Send(ctx context.Context, data []byte) error {
	return s.publish(ctx, s.channels.Input, data)
}

// Resize publishes a window size on the resize channel.
func (s *Session) Resize(ctx context.Context, size types.ResizeEvent) error {
	return s.publish(ctx, s.channels.Resize, types.EncodeResize(size))
}

// Exec sends command as one line and copies the output to w until no output
// has arrived for idle. It returns ctx's error if ctx ends first.
func (s *Session) Exec(ctx context.Context, command string, w io.Writer, idle time.Duration) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	if err := s.Send(ctx, []byte(command)); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case data, ok := <-s.output:
			if !ok {
				return transport.ErrClosed
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			timer.Reset(idle)
		}
	}
}

// Close unsubscribes from the session's channels.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *Session) publish(ctx context.Context, topic string, payload []byte) error {
	delay := retryInitial
	for {
		err := s.transport.Publish(ctx, topic, payload)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, transport.ErrClosed) {
			return err
		}
		log.Printf("client: publish to %s failed, retrying in %s: %v", topic, delay, err)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		delay = min(delay*2, retryMax)
	}
}

func (s *Session) decodeStatus(in <-chan []byte) {
	defer close(s.status)
	for data := range in {
		st, err := types.DecodeStatus(data)
		if err != nil {
			log.Printf("client: ignoring status: %v", err)
			continue
		}
		select {
		case s.status <- st:
		default:
			log.Printf("client: status buffer full, dropping %s", st)
		}
	}
}
