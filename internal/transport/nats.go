package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// natsTransport maps topics to subjects ("shell/in" -> "shell.in"). The
// client keeps subscriptions across reconnects, so nothing is replayed here.
type natsTransport struct {
	nc     *nats.Conn
	router *router
	events eventSink

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	closeOnce sync.Once
}

func dialNATS(opts Options, address string) (Transport, error) {
	t := &natsTransport{
		router: newRouter(),
		events: newEventSink(),
		subs:   make(map[string]*nats.Subscription),
	}

	natsOpts := []nats.Option{
		nats.Name(opts.ClientID),
		nats.Timeout(opts.ConnectTimeout),
		nats.PingInterval(opts.KeepAlive),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
			t.events.emit(EventDisconnected, err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
			t.events.emit(EventConnected, nil)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			t.events.emit(EventFatal, ErrClosed)
		}),
	}
	if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	nc, err := nats.Connect(address, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t.nc = nc
	log.Printf("nats: connected to %s as %s", nc.ConnectedUrl(), opts.ClientID)
	t.events.emit(EventConnected, nil)
	return t, nil
}

func (t *natsTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// While reconnecting the client buffers publishes up to its
	// reconnect buffer size and returns an error beyond that.
	if err := t.nc.Publish(natsSubject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (t *natsTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub, first, err := t.router.add(ctx, topic)
	if err != nil {
		return nil, err
	}
	if first {
		ns, err := t.nc.Subscribe(natsSubject(topic), func(msg *nats.Msg) {
			t.router.deliver(topic, msg.Data)
		})
		if err != nil {
			t.router.remove(topic, sub)
			return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
		}
		t.mu.Lock()
		t.subs[topic] = ns
		t.mu.Unlock()
	}
	t.router.watch(topic, sub, func() {
		t.mu.Lock()
		ns := t.subs[topic]
		delete(t.subs, topic)
		t.mu.Unlock()
		if ns != nil {
			ns.Unsubscribe()
		}
	})
	return sub.ch, nil
}

func (t *natsTransport) Events() <-chan Event {
	return t.events
}

func (t *natsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.router.closeAll()
		t.nc.Close()
	})
	return nil
}
