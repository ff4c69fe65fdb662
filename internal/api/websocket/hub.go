package websocket

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	count   atomic.Int64
	dropped atomic.Int64
	log     *slog.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Debug("client connected", "remote", client.remote, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.log.Debug("client disconnected", "remote", client.remote, "clients", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					h.remove(client)
					h.log.Warn("dropping slow client", "remote", client.remote)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
}

// Register adds a client. It reports false if the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every client. Messages are dropped when the
// queue is full or the hub has stopped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case <-h.done:
		h.dropped.Add(1)
		return
	default:
	}

	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// Dropped returns the number of broadcasts discarded.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }
