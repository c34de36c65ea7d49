package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingInterval = 5 * time.Second

// redisTransport uses Redis PUBLISH/SUBSCRIBE. go-redis re-subscribes a
// PubSub after reconnecting; a ping loop turns connection health into events.
type redisTransport struct {
	rdb    *redis.Client
	router *router
	events eventSink

	mu    sync.Mutex
	pumps map[string]chan struct{}

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func dialRedis(ctx context.Context, opts Options, address string) (Transport, error) {
	redisOpts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	redisOpts.ClientName = opts.ClientID
	redisOpts.DialTimeout = opts.ConnectTimeout
	if opts.Username != "" {
		redisOpts.Username = opts.Username
		redisOpts.Password = opts.Password
	}

	rdb := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	t := &redisTransport{
		rdb:    rdb,
		router: newRouter(),
		events: newEventSink(),
		pumps:  make(map[string]chan struct{}),
		stop:   make(chan struct{}),
	}
	t.events.emit(EventConnected, nil)
	log.Printf("redis: connected to %s as %s", redisOpts.Addr, opts.ClientID)

	t.wg.Add(1)
	go t.watchHealth()
	return t, nil
}

func (t *redisTransport) watchHealth() {
	defer t.wg.Done()
	ticker := time.NewTicker(redisPingInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), redisPingInterval)
			err := t.rdb.Ping(ctx).Err()
			cancel()
			switch {
			case err != nil && healthy:
				healthy = false
				log.Printf("redis: connection lost: %v", err)
				t.events.emit(EventDisconnected, err)
			case err == nil && !healthy:
				healthy = true
				log.Println("redis: connection restored")
				t.events.emit(EventConnected, nil)
			}
		case <-t.stop:
			return
		}
	}
}

func (t *redisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (t *redisTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub, first, err := t.router.add(ctx, topic)
	if err != nil {
		return nil, err
	}
	if first {
		ps := t.rdb.Subscribe(ctx, topic)
		// Wait for the subscription confirmation so that nothing published
		// after Subscribe returns is missed.
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			t.router.remove(topic, sub)
			return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
		done := make(chan struct{})
		t.mu.Lock()
		t.pumps[topic] = done
		t.mu.Unlock()
		t.wg.Add(1)
		go t.pump(topic, ps, done)
	}
	t.router.watch(topic, sub, func() {
		t.mu.Lock()
		done := t.pumps[topic]
		delete(t.pumps, topic)
		t.mu.Unlock()
		if done != nil {
			close(done)
		}
	})
	return sub.ch, nil
}

// pump forwards one Redis subscription to the router until the topic has no
// local subscribers left or the transport closes.
func (t *redisTransport) pump(topic string, ps *redis.PubSub, done <-chan struct{}) {
	defer t.wg.Done()
	defer ps.Close()

	messages := ps.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			t.router.deliver(topic, []byte(msg.Payload))
		case <-done:
			return
		case <-t.stop:
			return
		}
	}
}

func (t *redisTransport) Events() <-chan Event {
	return t.events
}

func (t *redisTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.router.closeAll()
		t.wg.Wait()
		t.rdb.Close()
	})
	return nil
}
