package transport

import (
	"context"
	"sync"
)

// subscription is one Subscribe call. ch is closed exactly once, under mu, so
// that a delivery in flight never sends on a closed channel.
type subscription struct {
	ctx    context.Context
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// router fans broker deliveries out to local subscriptions. Adapters use it
// so that several local subscribers can share one broker subscription and so
// that the live topic set can be replayed after a reconnect.
type router struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	done   chan struct{}
	closed bool
}

func newRouter() *router {
	return &router{
		subs: make(map[string]map[*subscription]struct{}),
		done: make(chan struct{}),
	}
}

// add registers a subscription for topic. first reports whether this is the
// only subscriber, i.e. whether the broker subscription must be created.
func (r *router) add(ctx context.Context, topic string) (sub *subscription, first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	sub = &subscription{ctx: ctx, ch: make(chan []byte, subscriptionBuffer)}
	set, ok := r.subs[topic]
	if !ok {
		set = make(map[*subscription]struct{})
		r.subs[topic] = set
	}
	set[sub] = struct{}{}
	return sub, len(set) == 1, nil
}

// remove drops sub and closes its channel. last reports whether topic has no
// subscribers left.
func (r *router) remove(topic string, sub *subscription) (last bool) {
	r.mu.Lock()
	set := r.subs[topic]
	delete(set, sub)
	last = len(set) == 0
	if last {
		delete(r.subs, topic)
	}
	r.mu.Unlock()

	sub.close()
	return last
}

// watch removes sub once its context is done. onLast runs when the topic
// lost its final subscriber.
func (r *router) watch(topic string, sub *subscription, onLast func()) {
	go func() {
		select {
		case <-sub.ctx.Done():
		case <-r.done:
			return
		}
		if r.remove(topic, sub) && onLast != nil {
			onLast()
		}
	}()
}

// deliver hands payload to every subscriber of topic, blocking while a
// subscriber's buffer is full.
func (r *router) deliver(topic string, payload []byte) {
	r.mu.Lock()
	set := r.subs[topic]
	targets := make([]*subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		sub.mu.Lock()
		if !sub.closed {
			select {
			case sub.ch <- payload:
			case <-sub.ctx.Done():
			case <-r.done:
			}
		}
		sub.mu.Unlock()
	}
}

// topics returns the topics that currently have subscribers.
func (r *router) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for topic := range r.subs {
		out = append(out, topic)
	}
	return out
}

// closeAll closes every subscription. Further adds fail with ErrClosed.
func (r *router) closeAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	var all []*subscription
	for _, set := range r.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	r.subs = make(map[string]map[*subscription]struct{})
	r.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
