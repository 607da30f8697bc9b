// Package api publishes per-package update progress to websocket
// subscribers of the server mode.
package api

import (
	"sync"

	"github.com/gofiber/websocket/v2"
)

// Event is one progress notification for a package update attempt.
type Event struct {
	Path       string `json:"path"`
	Pname      string `json:"pname,omitempty"`
	Status     string `json:"status"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Event statuses.
const (
	StatusUpdated   = "updated"
	StatusUpToDate  = "up-to-date"
	StatusSkipped   = "skipped"
	StatusCommitted = "committed"
)

// Hub fans update events out to any number of subscribers. Slow
// subscribers drop events rather than stalling the workers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener. The returned cancel function must
// be called when the listener goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// ProgressHandler streams hub events over a websocket connection until
// the client disconnects.
func ProgressHandler(hub *Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		events, cancel := hub.Subscribe()
		defer cancel()
		for event := range events {
			if err := c.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
