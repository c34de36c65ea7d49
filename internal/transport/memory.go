package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroker is an in-process broker. Every client attached to the same
// broker sees the others' publishes, in publish order per topic. It supports
// fault injection for tests.
type MemoryBroker struct {
	router *router

	mu         sync.Mutex
	clients    []*MemoryTransport
	publishErr error
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{router: newRouter()}
}

// Client attaches a new transport to the broker.
func (b *MemoryBroker) Client() *MemoryTransport {
	c := &MemoryTransport{
		broker: b,
		events: newEventSink(),
	}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	c.events.emit(EventConnected, nil)
	return c
}

// FailPublishes makes every Publish return err until called with nil.
func (b *MemoryBroker) FailPublishes(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Notify sends a connectivity event to every attached client.
func (b *MemoryBroker) Notify(kind EventKind, err error) {
	b.mu.Lock()
	clients := append([]*MemoryTransport(nil), b.clients...)
	b.mu.Unlock()
	for _, c := range clients {
		c.events.emit(kind, err)
	}
}

func (b *MemoryBroker) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishErr
}

// MemoryTransport is one client of a MemoryBroker.
type MemoryTransport struct {
	broker *MemoryBroker
	events eventSink

	closeOnce sync.Once
	closed    chan struct{}
	initOnce  sync.Once

	mu         sync.Mutex
	publishErr error
}

// FailPublishes makes this client's Publish return err until called with nil.
// Other clients of the broker are unaffected.
func (c *MemoryTransport) FailPublishes(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

func (c *MemoryTransport) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	return c.broker.failure()
}

func (c *MemoryTransport) done() chan struct{} {
	c.initOnce.Do(func() { c.closed = make(chan struct{}) })
	return c.closed
}

func (c *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-c.done():
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.failure(); err != nil {
		return err
	}
	c.broker.router.deliver(topic, append([]byte(nil), payload...))
	return nil
}

func (c *MemoryTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	select {
	case <-c.done():
		return nil, ErrClosed
	default:
	}
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.done():
			cancel()
		case <-subCtx.Done():
		}
	}()
	sub, _, err := c.broker.router.add(subCtx, topic)
	if err != nil {
		cancel()
		return nil, err
	}
	c.broker.router.watch(topic, sub, nil)
	return sub.ch, nil
}

func (c *MemoryTransport) Events() <-chan Event {
	return c.events
}

// Close detaches the client. Its subscriptions end; other clients of the
// broker are unaffected.
func (c *MemoryTransport) Close() error {
	c.closeOnce.Do(func() {
		close(c.done())
	})
	return nil
}

// ErrInjected is a convenience error for fault injection in tests.
var ErrInjected = errors.New("injected transport failure")
