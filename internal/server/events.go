package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scenehub/internal/logging"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventBufferSize   = 32
)

// StreamEvent is one entry on the ops event stream: scene lifecycle changes,
// broadcast batches, and notification outcomes.
type StreamEvent struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// EventHub fans StreamEvents out to connected websocket clients. A client
// that cannot keep up is dropped rather than allowed to stall the hub.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
	logger  logging.Logger
}

// NewEventHub constructs an empty hub.
func NewEventHub(logger logging.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]chan []byte),
		logger:  logging.OrNop(logger),
	}
}

// Publish delivers ev to every connected client. Marshal failures are logged
// and dropped; Publish never blocks on a slow client.
func (h *EventHub) Publish(ev StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("event stream: marshal %s event: %v", ev.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			// Client is not draining; cut it loose.
			h.logger.Warn("event stream: dropping slow client %s", conn.RemoteAddr())
			close(send)
			delete(h.clients, conn)
		}
	}
}

// Attach registers conn and services its outbound queue until the hub closes
// or the client goes away. Attach blocks; callers run it per connection.
func (h *EventHub) Attach(conn *websocket.Conn) {
	send := make(chan []byte, eventBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[conn] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			close(send)
			delete(h.clients, conn)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}()

	// Reader goroutine notices client-side close.
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
		case data, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Close disconnects every client and rejects future attachments.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, send := range h.clients {
		close(send)
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

// ClientCount reports the number of attached clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
