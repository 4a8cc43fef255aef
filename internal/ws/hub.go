package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pagecrowd/pagecrowd/internal/model"
)

// ─────────────────────────────────────────────
// Hub: manages connected dashboard clients
// ─────────────────────────────────────────────

// Hub maintains the set of active dashboard connections and broadcasts
// status snapshots to all of them. The feed is one-way; clients only
// listen.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("[hub] dashboard client connected (total: %d)", h.ClientCount())
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	log.Printf("[hub] dashboard client disconnected (total: %d)", h.ClientCount())
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastStatusSnapshot pushes the current per-status page counts to all
// connected dashboards.
func (h *Hub) BroadcastStatusSnapshot(counts []model.StatusCount) {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	env := model.Envelope{
		Type: model.MsgTypeStatusSnapshot,
		Payload: model.StatusSnapshot{
			Counts:     counts,
			TotalPages: total,
			At:         time.Now(),
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[hub] marshal snapshot error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[hub] send buffer full for dashboard client, dropping")
		}
	}
}
