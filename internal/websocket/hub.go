package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"netwatch/internal/cache"
	"netwatch/internal/logger"
)

// Message is one event forwarded to every connected client, tagged with
// the cache channel it arrived on (device:update, interface:update,
// wireless:update, alert:flapping, system:status).
type Message struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	log        *logger.Logger
	mu         sync.RWMutex
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

// Run starts the hub loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("WebSocket hub shutting down")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info("WS client connected, total %d", len(h.clients))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a channel-tagged message to all connected clients.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.broadcast <- Message{Channel: channel, Payload: payload}
}

// SubscribeCache drains a Cache subscription and forwards each event to
// every connected client verbatim, tagged with its channel, until ctx is
// cancelled.
func (h *Hub) SubscribeCache(ctx context.Context, c cache.Cache, channels ...string) {
	events := c.Subscribe(ctx, channels...)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(evt.Channel, evt.Payload)
		}
	}
}
