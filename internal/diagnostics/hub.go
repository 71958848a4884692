// Package diagnostics aggregates connectivity, queue, and sync-cycle
// events into one bounded, ordered stream.
package diagnostics

import (
	"sync"

	"github.com/minaksy/photonest/internal/models"
)

// DefaultCapacity is the ring buffer size used when none is configured.
const DefaultCapacity = 50

// Hub holds the most recent diagnostic events in a fixed-capacity ring
// buffer and fans them out to subscribers.
type Hub struct {
	mu       sync.Mutex
	events   []models.DiagnosticEvent
	start    int // index of the oldest event
	count    int
	nextSub  int
	subs     map[int]func(models.DiagnosticEvent)
}

// NewHub creates a Hub with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		events: make([]models.DiagnosticEvent, capacity),
		subs:   make(map[int]func(models.DiagnosticEvent)),
	}
}

// Append records an event, dropping the oldest when the buffer is full,
// and notifies subscribers.
func (h *Hub) Append(event models.DiagnosticEvent) {
	h.mu.Lock()
	capacity := len(h.events)
	if h.count == capacity {
		h.events[h.start] = event
		h.start = (h.start + 1) % capacity
	} else {
		h.events[(h.start+h.count)%capacity] = event
		h.count++
	}
	subs := make([]func(models.DiagnosticEvent), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may call back into
	// the hub.
	for _, fn := range subs {
		fn(event)
	}
}

// Subscribe registers a callback for every future event and returns an
// unsubscribe handle.
func (h *Hub) Subscribe(fn func(models.DiagnosticEvent)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Recent returns up to limit of the most recent events, oldest first.
// A non-positive limit returns everything buffered.
func (h *Hub) Recent(limit int) []models.DiagnosticEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]models.DiagnosticEvent, 0, n)
	capacity := len(h.events)
	for i := h.count - n; i < h.count; i++ {
		out = append(out, h.events[(h.start+i)%capacity])
	}
	return out
}

// Len returns the number of buffered events.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
