package notify

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tigasatu/wa-inbox/internal/core"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected inbox browser tab.
type client struct {
	id     string
	userID string // empty for global/admin listeners
	send   chan Event
}

// Hub pushes events over websockets: assigned agents get their own
// sessions, elevated listeners attach to the global channel and see
// everything, unassigned sessions included.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Publish enqueues the event for the assigned user's connections and for
// every global listener. Full client buffers are skipped, not waited on.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.userID != "" {
			if ev.Session.AssignedUserID == nil || *ev.Session.AssignedUserID != c.userID {
				continue
			}
		}
		select {
		case c.send <- ev:
		default:
			log.Printf("hub: dropping event for slow client %s", c.id)
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the peer
// goes away. A user_id query attaches a per-user channel; elevated roles
// omit it to listen globally.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	role := r.Header.Get("X-User-Role")
	if userID == "" && !core.ElevatedRole(role) {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{id: uuid.NewString(), userID: userID, send: make(chan Event, 64)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	// Reader: only to detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
