package transport

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Options configures Dial.
type Options struct {
	Broker   string
	ClientID string // empty = "<role>-<random>"
	Role     string // "agent" or "controller", used in generated client ids
	Username string
	Password string

	QoS       byte // MQTT only
	KeepAlive time.Duration

	// ConnectAttempts bounds the startup connection attempts.
	ConnectAttempts int
	ConnectTimeout  time.Duration
}

const (
	connectBackoffInitial = time.Second
	connectBackoffMax     = 30 * time.Second
)

// Dial connects to the broker named by opts.Broker. The scheme selects the
// adapter: nats:// uses NATS, redis:// and rediss:// use Redis pub/sub,
// anything else (including a bare host:port) is MQTT.
func Dial(ctx context.Context, opts Options) (Transport, error) {
	if opts.ClientID == "" {
		role := opts.Role
		if role == "" {
			role = "shellrelay"
		}
		opts.ClientID = fmt.Sprintf("%s-%s", role, uuid.New().String()[:8])
	}
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 5 * time.Second
	}

	scheme, address := splitBroker(opts.Broker)

	var dial func() (Transport, error)
	switch scheme {
	case "nats":
		dial = func() (Transport, error) { return dialNATS(opts, address) }
	case "redis", "rediss":
		dial = func() (Transport, error) { return dialRedis(ctx, opts, address) }
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		dial = func() (Transport, error) { return dialMQTT(opts, address) }
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", scheme)
	}

	var lastErr error
	delay := connectBackoffInitial
	for attempt := 1; attempt <= opts.ConnectAttempts; attempt++ {
		t, err := dial()
		if err == nil {
			return t, nil
		}
		lastErr = err
		if attempt == opts.ConnectAttempts {
			break
		}
		log.Printf("transport: connect to %s failed (attempt %d/%d): %v, retrying in %s",
			opts.Broker, attempt, opts.ConnectAttempts, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = min(delay*2, connectBackoffMax)
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", opts.Broker, opts.ConnectAttempts, lastErr)
}

// splitBroker returns the adapter scheme and the address handed to it. A
// bare host:port is treated as MQTT over TCP.
func splitBroker(broker string) (scheme, address string) {
	if !strings.Contains(broker, "://") {
		return "tcp", "tcp://" + broker
	}
	u, err := url.Parse(broker)
	if err != nil {
		return "", broker
	}
	scheme = strings.ToLower(u.Scheme)
	switch scheme {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts":
		u.Scheme = "ssl"
	}
	return scheme, u.String()
}
