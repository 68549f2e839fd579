package dashboard

import (
	"context"
	"sync"
	"time"

	"calling-agent/internal/clients/kafka"
	"calling-agent/internal/observability"

	"github.com/gorilla/websocket"
)

// broadcastWriteWait bounds each subscriber write. Broadcast runs from the
// persistence workers under the hub mutex, so a stalled subscriber must not
// be allowed to block it.
const broadcastWriteWait = 2 * time.Second

// Hub fans published call events out to live WebSocket subscribers. It
// implements events.Sink.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]bool
	logger *observability.Logger
}

func NewHub(logger *observability.Logger) *Hub {
	return &Hub{
		conns:  make(map[*websocket.Conn]bool),
		logger: logger,
	}
}

// Register adds a subscriber connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

// Unregister removes and closes a subscriber connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn] {
		delete(h.conns, conn)
		conn.Close()
	}
}

// Broadcast sends the event to every subscriber, dropping connections whose
// writes fail.
func (h *Hub) Broadcast(event kafka.EventMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(broadcastWriteWait))
		if err := conn.WriteJSON(event); err != nil {
			h.logger.InfoWithError(context.Background(), "dropping dead live-feed subscriber", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}
