// Package observer is the companion's local surface: a loopback HTTP and
// WebSocket listener that sheet panels and table overlays attach to for
// live command effects and status.
package observer

import (
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ViewEvent is one message fanned out to attached views.
type ViewEvent struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// ViewConn represents one attached view
type ViewConn struct {
	ID        string
	Conn      *websocket.Conn
	SendChan  chan ViewEvent
	CreatedAt time.Time
}

// Hub manages all attached views
type Hub struct {
	views map[string]*ViewConn
	mutex sync.RWMutex
}

// NewHub creates a new view hub
func NewHub() *Hub {
	return &Hub{
		views: make(map[string]*ViewConn),
	}
}

// Add adds a new view
func (h *Hub) Add(view *ViewConn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.views[view.ID] = view
	log.Printf("✅ View attached: %s (Total: %d)", view.ID, len(h.views))
}

// Remove removes a view
func (h *Hub) Remove(viewID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if view, exists := h.views[viewID]; exists {
		close(view.SendChan)
		delete(h.views, viewID)
		log.Printf("❌ View detached: %s (Total: %d)", viewID, len(h.views))
	}
}

// Count returns the number of attached views
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.views)
}

// Broadcast fans one event out to every attached view, best effort. Views
// whose send buffer is full miss the event rather than stall the caller.
// Returns how many views got it.
func (h *Hub) Broadcast(event string, payload interface{}) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	delivered := 0
	for _, view := range h.views {
		select {
		case view.SendChan <- ViewEvent{Event: event, Payload: payload}:
			delivered++
		default:
			log.Printf("⚠️ [HUB] View %s is lagging, dropping %s", view.ID, event)
		}
	}
	return delivered
}
