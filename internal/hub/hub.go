// Package hub maps room ids to live subscriber connections and fans accepted
// messages out to them. The registry is a cache of liveness, not a source of
// truth: room existence stays with the store.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/metrics"
	"github.com/emberchat/ember/internal/models"
)

// Hub is the in-process connection registry. All methods are safe for
// concurrent use by arbitrary connection goroutines.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger zerolog.Logger
}

// New creates an empty hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Subscribe registers a client under its room. The client stays in catch-up
// mode until DeliverSnapshot is called on it.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.roomID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.roomID] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	h.logger.Debug().
		Str("room_id", c.roomID).
		Str("user", c.username).
		Msg("client subscribed")
}

// Unsubscribe removes a client and closes it. Removing the last client drops
// the room's registry entry. Idempotent.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.roomID]
	if ok {
		if _, present := clients[c]; present {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, c.roomID)
			}
		} else {
			ok = false
		}
	}
	h.mu.Unlock()

	c.Close()
	if ok {
		metrics.ConnectionsActive.Dec()
		h.logger.Debug().
			Str("room_id", c.roomID).
			Str("user", c.username).
			Msg("client unsubscribed")
	}
}

// Broadcast delivers an accepted message to every current subscriber of the
// room. Delivery is best-effort: an unwritable connection is skipped and
// never blocks or fails delivery to the others.
func (h *Hub) Broadcast(roomID string, msg models.Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	frame := marshalMessage(msg)
	for _, c := range clients {
		if c.deliver(msg, frame) {
			metrics.BroadcastDelivered.Inc()
		} else {
			metrics.BroadcastSkipped.Inc()
		}
	}
}

// Subscribers returns the number of live connections for a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseAll closes every client and empties the registry, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.rooms {
		for c := range clients {
			c.Close()
			metrics.ConnectionsActive.Dec()
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
}
