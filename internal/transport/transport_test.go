package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewChannels(t *testing.T) {
	ch := NewChannels("shell")
	if ch.Input != "shell/in" || ch.Output != "shell/out" || ch.Resize != "shell/resize" || ch.Status != "shell/status" {
		t.Errorf("unexpected channels: %+v", ch)
	}
	if got := NewChannels("lab/box1/").Input; got != "lab/box1/in" {
		t.Errorf("expected trailing slash to be trimmed, got %s", got)
	}
	if got := natsSubject("lab/box1/in"); got != "lab.box1.in" {
		t.Errorf("expected NATS subject lab.box1.in, got %s", got)
	}
}

func TestSplitBroker(t *testing.T) {
	cases := []struct {
		broker, scheme, address string
	}{
		{"localhost:1883", "tcp", "tcp://localhost:1883"},
		{"tcp://broker:1883", "tcp", "tcp://broker:1883"},
		{"mqtt://broker:1883", "mqtt", "tcp://broker:1883"},
		{"mqtts://broker:8883", "mqtts", "ssl://broker:8883"},
		{"ws://broker:9001/mqtt", "ws", "ws://broker:9001/mqtt"},
		{"nats://broker:4222", "nats", "nats://broker:4222"},
		{"redis://broker:6379/0", "redis", "redis://broker:6379/0"},
	}
	for _, tc := range cases {
		scheme, address := splitBroker(tc.broker)
		if scheme != tc.scheme || address != tc.address {
			t.Errorf("splitBroker(%q) = %q, %q; expected %q, %q", tc.broker, scheme, address, tc.scheme, tc.address)
		}
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), Options{Broker: "gopher://broker:70"})
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
	return nil
}

func TestMemoryBrokerFIFO(t *testing.T) {
	broker := NewMemoryBroker()
	pub := broker.Client()
	sub := broker.Client()
	ctx := context.Background()

	ch, err := sub.Subscribe(ctx, "shell/out")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	want := []string{"a", "bb", "ccc", "\x1b[A", "\x00\xff"}
	for _, p := range want {
		if err := pub.Publish(ctx, "shell/out", []byte(p)); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	for _, p := range want {
		if got := string(receive(t, ch)); got != p {
			t.Errorf("expected %q, got %q", p, got)
		}
	}
}

func TestMemoryBrokerTopicIsolation(t *testing.T) {
	broker := NewMemoryBroker()
	c := broker.Client()
	ctx := context.Background()

	in, _ := c.Subscribe(ctx, "a/in")
	out, _ := c.Subscribe(ctx, "b/in")

	c.Publish(ctx, "b/in", []byte("for b"))
	if got := string(receive(t, out)); got != "for b" {
		t.Errorf("expected payload on b/in, got %q", got)
	}
	select {
	case p := <-in:
		t.Errorf("unexpected payload on a/in: %q", p)
	default:
	}
}

func TestMemoryBrokerUnsubscribeOnCancel(t *testing.T) {
	broker := NewMemoryBroker()
	c := broker.Client()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Subscribe(ctx, "shell/status")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}

	// Publishing to a topic without subscribers must not block.
	if err := c.Publish(context.Background(), "shell/status", []byte("x")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
}

func TestMemoryBrokerClose(t *testing.T) {
	broker := NewMemoryBroker()
	c := broker.Client()
	other := broker.Client()

	ch, _ := c.Subscribe(context.Background(), "t")
	otherCh, _ := other.Subscribe(context.Background(), "t")
	c.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after Close")
	}

	if err := c.Publish(context.Background(), "t", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	other.Publish(context.Background(), "t", []byte("still here"))
	if got := string(receive(t, otherCh)); got != "still here" {
		t.Errorf("expected other client unaffected, got %q", got)
	}
}

func TestMemoryBrokerFaultInjection(t *testing.T) {
	broker := NewMemoryBroker()
	c := broker.Client()

	// Drain the initial connected event.
	if ev := <-c.Events(); ev.Kind != EventConnected {
		t.Fatalf("expected connected event, got %v", ev.Kind)
	}

	broker.FailPublishes(ErrInjected)
	if err := c.Publish(context.Background(), "t", []byte("x")); !errors.Is(err, ErrInjected) {
		t.Errorf("expected injected error, got %v", err)
	}
	broker.FailPublishes(nil)
	if err := c.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Errorf("expected publish to recover, got %v", err)
	}

	broker.Notify(EventDisconnected, ErrInjected)
	ev := <-c.Events()
	if ev.Kind != EventDisconnected || !errors.Is(ev.Err, ErrInjected) {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestMemoryTransportFaultInjectionIsPerClient(t *testing.T) {
	broker := NewMemoryBroker()
	failing := broker.Client()
	healthy := broker.Client()

	failing.FailPublishes(ErrInjected)
	if err := failing.Publish(context.Background(), "t", []byte("x")); !errors.Is(err, ErrInjected) {
		t.Errorf("expected injected error, got %v", err)
	}
	if err := healthy.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Errorf("expected other client to publish, got %v", err)
	}
	failing.FailPublishes(nil)
	if err := failing.Publish(context.Background(), "t", []byte("x")); err != nil {
		t.Errorf("expected publish to recover, got %v", err)
	}
}
