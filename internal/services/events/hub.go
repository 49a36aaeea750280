package events

import (
	"context"
	"sync"
)

// Hub is the in-process Publisher/Subscriber used when no Redis is
// configured. Slow subscribers drop events rather than block publishers.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[channelName(event.User, event.SaveID)] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, user, saveID string) (<-chan Event, func(), error) {
	name := channelName(user, saveID)
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[name] == nil {
		h.subs[name] = make(map[int]chan Event)
	}
	h.subs[name][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[name], id)
			if len(h.subs[name]) == 0 {
				delete(h.subs, name)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
