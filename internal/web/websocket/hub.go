package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
)

// Message types pushed to panel clients
const (
	TypeProgress = "progress"
	TypeStatus   = "status"
)

// Client represents a WebSocket client connection
type Client struct {
	ID        string
	Send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *logger.ComponentLogger

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logger.NewComponentLogger(log, "websocket"),
	}
}

// Run handles registrations and broadcasts until ctx is cancelled, then drops every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"client": client.ID, "total": total}).Info("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.WithFields(logrus.Fields{"client": client.ID, "total": len(h.clients)}).Info("Client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow reader, let it reconnect
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.closeOnce.Do(func() { close(client.Send) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every client. It never blocks the caller; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.log.Entry().Warn("Broadcast queue full, message dropped")
	}
}

// BroadcastJSON marshals v and broadcasts it
func (h *Hub) BroadcastJSON(v any) {
	message, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}
	h.Broadcast(message)
}

// BroadcastStatus sends a short status line to all clients
func (h *Hub) BroadcastStatus(message, status string) {
	h.BroadcastJSON(map[string]any{
		"type":    TypeStatus,
		"message": message,
		"status":  status,
	})
}

// Report pushes scrape progress to all clients
func (h *Hub) Report(p models.Progress) {
	h.BroadcastJSON(map[string]any{
		"type":     TypeProgress,
		"status":   p.Status,
		"data":     p,
		"fraction": p.PageFraction(),
	})
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
