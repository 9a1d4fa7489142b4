package instrument

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op distinguishes how a property value was obtained.
type Op string

// Event operations.
const (
	OpGet Op = "get"
	OpSet Op = "set"
)

// Event describes an observed or programmed property value.
type Event struct {
	ID     string    `json:"id"`
	Driver string    `json:"driver"`
	Path   string    `json:"path"`
	Op     Op        `json:"op"`
	Value  any       `json:"value"`
	At     time.Time `json:"at"`
}

// Hub fans property events out to subscribers.
//
// Publishing never blocks; a subscriber that cannot keep up loses events
// rather than stalling the property pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewHub creates an event hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer.
// The returned cancel function removes the subscription and closes the
// channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Event, buffer)
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) publish(driver, path string, op Op, value any) {
	evt := Event{
		ID:     uuid.NewString(),
		Driver: driver,
		Path:   path,
		Op:     op,
		Value:  value,
		At:     time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
