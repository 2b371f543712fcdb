package events

import (
	"sync"

	"dilag/internal/types"
)

const subscriberBufferSize = 256

type subscriber struct {
	sessionID string
	ch        chan types.Event
}

// Hub fans events out to subscribers. A full subscriber buffer drops the
// event for that subscriber only.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	onDrop func(sessionID string, event types.Event)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Add registers a subscriber. An empty sessionID receives every event.
func (h *Hub) Add(sessionID string) (<-chan types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan types.Event, subscriberBufferSize)
	h.subs[id] = &subscriber{sessionID: sessionID, ch: ch}
	cancel := func() {
		h.mu.Lock()
		sub, ok := h.subs[id]
		if ok {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		if ok {
			close(sub.ch)
		}
	}
	return ch, cancel
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Broadcast(event types.Event) {
	sessionID := event.SessionID()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.sessionID != "" && sub.sessionID != sessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if h.onDrop != nil {
				h.onDrop(sub.sessionID, event)
			}
		}
	}
}

// CloseAll closes every subscriber channel.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}
