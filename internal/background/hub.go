package background

import (
	"log"
	"sync"
)

const noticeBuffer = 16

// Hub fans notices out to subscribed detectors
type Hub struct {
	mu     sync.Mutex
	subs   map[string]chan Notice
	logger *log.Logger
}

// NewHub creates a hub without subscribers
func NewHub(logger *log.Logger) *Hub {
	return &Hub{subs: make(map[string]chan Notice), logger: logger}
}

// Subscribe registers id. The returned func unsubscribes and closes the
// channel. Subscribing an id twice replaces the first subscription.
func (h *Hub) Subscribe(id string) (<-chan Notice, func()) {
	ch := make(chan Notice, noticeBuffer)
	h.mu.Lock()
	if old, ok := h.subs[id]; ok {
		close(old)
	}
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.subs[id] == ch {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

// Broadcast delivers n to every subscriber but except. Subscribers that
// are not keeping up miss the notice. It returns the number of deliveries.
func (h *Hub) Broadcast(n Notice, except string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for id, ch := range h.subs {
		if id == except {
			continue
		}
		select {
		case ch <- n:
			delivered++
		default:
			if h.logger != nil {
				h.logger.Printf("Hub: dropped %s notice for %s", n.Action, id)
			}
		}
	}
	return delivered
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
