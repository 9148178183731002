// Package notify fans task refresh events out to the websocket subscribers of a user.
package notify

import (
	"strings"
	"sync"

	"github.com/antoniostano/taskpilot/internal/observability"
	"github.com/antoniostano/taskpilot/internal/protocol"
)

const defaultBuffer = 64

// Hub keeps per-user subscriber channels. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan any
	nextSubID   int
	buffer      int
	closed      bool
	metrics     *observability.Metrics
}

func NewHub(buffer int, metrics *observability.Metrics) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subscribers: make(map[string]map[int]chan any),
		buffer:      buffer,
		metrics:     metrics,
	}
}

// Subscribe registers a channel for userID. The returned cancel func closes the
// channel and is safe to call more than once.
func (h *Hub) Subscribe(userID string) (<-chan any, func()) {
	userID = strings.TrimSpace(userID)
	h.mu.Lock()
	if userID == "" || h.closed {
		h.mu.Unlock()
		ch := make(chan any)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan any, h.buffer)
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subscribers[userID]; !ok {
		h.subscribers[userID] = make(map[int]chan any)
	}
	h.subscribers[userID][id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[userID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
}

// Publish delivers evt to every subscriber of userID and returns how many received it.
func (h *Hub) Publish(userID string, evt any) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[strings.TrimSpace(userID)]
	if len(subs) == 0 {
		h.observe(evt, "no_subscribers")
		return 0
	}
	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- evt:
			delivered++
			h.observe(evt, "delivered")
		default:
			h.observe(evt, "drop_full")
		}
	}
	return delivered
}

func (h *Hub) SubscriberCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[strings.TrimSpace(userID)])
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, subs := range h.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subscribers, userID)
	}
}

func (h *Hub) observe(evt any, result string) {
	if h.metrics == nil {
		return
	}
	typ, ok := protocol.TypeOf(evt)
	if !ok {
		typ = "unknown"
	}
	h.metrics.RefreshEvents.WithLabelValues(string(typ), result).Inc()
}
