package realtime

import (
	"context"
	"sync"

	"ugchub/internal/domain"
)

const subscriberBuffer = 64

// Hub is an in-process broker. A subscriber that falls a full buffer behind
// is dropped and must catch up by polling.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*hubSub]struct{}{}}
}

type hubSub struct {
	hub   *Hub
	topic string
	ch    chan domain.Event
	done  chan struct{}
	once  sync.Once
}

func (s *hubSub) C() <-chan domain.Event { return s.ch }
func (s *hubSub) Done() <-chan struct{}  { return s.done }

func (s *hubSub) Close() error {
	s.hub.remove(s)
	return nil
}

func (s *hubSub) drop() {
	s.once.Do(func() { close(s.done) })
}

func (h *Hub) Publish(_ context.Context, topic string, evt domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.subs[topic] {
		select {
		case s.ch <- evt:
		default:
			delete(h.subs[topic], s)
			s.drop()
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSub{hub: h, topic: topic, ch: make(chan domain.Event, subscriberBuffer), done: make(chan struct{})}
	if h.subs[topic] == nil {
		h.subs[topic] = map[*hubSub]struct{}{}
	}
	h.subs[topic][s] = struct{}{}
	return s, nil
}

// Disconnect drops every subscriber of topic.
func (h *Hub) Disconnect(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[topic] {
		s.drop()
	}
	delete(h.subs, topic)
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[s.topic]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.topic)
		}
	}
	s.drop()
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for topic, set := range h.subs {
		for s := range set {
			s.drop()
		}
		delete(h.subs, topic)
	}
	return nil
}
