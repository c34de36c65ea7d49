package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttTransport is the default adapter. The session is clean, so the broker
// forgets subscriptions on disconnect; the on-connect handler replays them.
type mqttTransport struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	router  *router
	events  eventSink

	closeOnce sync.Once
}

func dialMQTT(opts Options, address string) (Transport, error) {
	t := &mqttTransport{
		qos:     opts.QoS,
		timeout: opts.ConnectTimeout,
		router:  newRouter(),
		events:  newEventSink(),
	}

	co := mqtt.NewClientOptions().
		AddBroker(address).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(connectBackoffMax).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
			t.events.emit(EventDisconnected, err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			log.Printf("mqtt: reconnecting to %s", address)
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", address, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", address, err)
	}
	t.client = client
	log.Printf("mqtt: connected to %s as %s", address, opts.ClientID)
	return t, nil
}

func (t *mqttTransport) onConnect(c mqtt.Client) {
	t.events.emit(EventConnected, nil)
	for _, topic := range t.router.topics() {
		topic := topic
		token := c.Subscribe(topic, t.qos, t.handler(topic))
		go func() {
			if token.WaitTimeout(t.timeout) && token.Error() != nil {
				log.Printf("mqtt: resubscribe %s failed: %v", topic, token.Error())
			}
		}()
	}
}

func (t *mqttTransport) handler(topic string) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		payload := append([]byte(nil), m.Payload()...)
		t.router.deliver(topic, payload)
	}
}

func (t *mqttTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	token := t.client.Publish(topic, t.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *mqttTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub, first, err := t.router.add(ctx, topic)
	if err != nil {
		return nil, err
	}
	if first {
		if t.client.IsConnectionOpen() {
			token := t.client.Subscribe(topic, t.qos, t.handler(topic))
			if !token.WaitTimeout(t.timeout) {
				t.router.remove(topic, sub)
				return nil, fmt.Errorf("mqtt subscribe %s: timed out", topic)
			}
			if err := token.Error(); err != nil {
				t.router.remove(topic, sub)
				return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, err)
			}
		} else {
			log.Printf("mqtt: not connected, %s will be subscribed on reconnect", topic)
		}
	}
	t.router.watch(topic, sub, func() {
		if t.client.IsConnectionOpen() {
			t.client.Unsubscribe(topic)
		}
	})
	return sub.ch, nil
}

func (t *mqttTransport) Events() <-chan Event {
	return t.events
}

func (t *mqttTransport) Close() error {
	t.closeOnce.Do(func() {
		t.router.closeAll()
		t.client.Disconnect(250)
	})
	return nil
}
