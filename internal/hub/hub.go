package hub

import (
	"log/slog"
	"sync"

	"github.com/nfrund/pulse/internal/presence"
)

// Hub maintains the set of active, authenticated connections and broadcasts
// frames to them. A connection whose queue is full is dropped by its own
// Enqueue; the hub never waits on a subscriber.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]presence.Handle
	logger  *slog.Logger
}

// NewHub creates and returns a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]presence.Handle),
		logger:  slog.Default().With("service", "hub"),
	}
}

// Add registers a connection for broadcasts.
func (h *Hub) Add(c presence.Handle) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("New subscriber registered", "conn_id", c.ID(), "total_subscribers", total)
}

// Remove unregisters a connection. It reports whether the connection was present.
func (h *Hub) Remove(c presence.Handle) bool {
	h.mu.Lock()
	_, ok := h.clients[c.ID()]
	delete(h.clients, c.ID())
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("Subscriber unregistered", "conn_id", c.ID(), "total_subscribers", total)
	}
	return ok
}

// Broadcast enqueues frame on every connection except the listed connection ids.
// It returns how many connections accepted the frame.
func (h *Hub) Broadcast(frame []byte, except ...string) int {
	targets := h.Snapshot()

	delivered := 0
	for _, c := range targets {
		if contains(except, c.ID()) {
			continue
		}
		if err := c.Enqueue(frame); err != nil {
			h.logger.Debug("Broadcast skipped subscriber", "conn_id", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	h.logger.Debug("Broadcasting message", "recipient_count", delivered)
	return delivered
}

// Snapshot returns the current connections.
func (h *Hub) Snapshot() []presence.Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]presence.Handle, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
