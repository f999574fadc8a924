package websocket

import (
	"context"
	"encoding/json"

	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// OutputSetter stages channel writes requested by clients.
type OutputSetter interface {
	SetOutput(addr ur20.Address, val ur20.ChannelValue) error
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients *xsync.MapOf[*Client, struct{}]

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	logger *zap.Logger

	// Target of set_output requests (optional)
	outputs OutputSetter
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, outputs OutputSetter) *Hub {
	return &Hub{
		clients:    xsync.NewMapOf[*Client, struct{}](),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		outputs:    outputs,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.clients.Store(client, struct{}{})
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", h.clients.Size()))

		case client := <-h.unregister:
			if _, ok := h.clients.LoadAndDelete(client); ok {
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.conn.RemoteAddr().String()),
					zap.Int("total_clients", h.clients.Size()))
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.clients.Range(func(client *Client, _ struct{}) bool {
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					h.clients.Delete(client)
					close(client.send)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.conn.RemoteAddr().String()))
				}
				return true
			})
		}
	}
}

func (h *Hub) closeAll() {
	h.clients.Range(func(client *Client, _ struct{}) bool {
		h.clients.Delete(client)
		close(client.send)
		return true
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

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	return h.clients.Size()
}
