// Package transport adapts publish/subscribe brokers (MQTT, NATS, Redis and an
// in-process broker) to the small interface the shell relay needs.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport publishes raw payloads to topics and delivers subscribed topics as
// channels. Implementations reconnect on their own and keep delivering live
// subscriptions after a reconnect.
type Transport interface {
	// Publish sends payload on topic. It blocks until the broker client has
	// accepted the payload or ctx is done.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every payload received on topic, in order. The
	// channel is closed once ctx is cancelled (which also unsubscribes) or
	// the transport is closed.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Events reports connectivity changes. Events are notifications only and
	// may be dropped when nobody reads them.
	Events() <-chan Event

	Close() error
}

// EventKind classifies connectivity notifications.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	// EventFatal means the transport gave up and will not reconnect.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFatal:
		return "fatal"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a connectivity notification.
type Event struct {
	Kind EventKind
	Err  error
}

// subscriptionBuffer bounds how many payloads a subscription holds before the
// delivering side blocks.
const subscriptionBuffer = 256

// eventSink is a small non-blocking notifier shared by the adapters.
type eventSink chan Event

func newEventSink() eventSink {
	return make(eventSink, 16)
}

func (s eventSink) emit(kind EventKind, err error) {
	select {
	case s <- Event{Kind: kind, Err: err}:
	default:
	}
}
