// Package websocket streams room snapshots and location changes to browser
// clients and accepts their live position updates.
package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
)

// Hub maintains the set of active clients. It runs as a supervised service
// and disconnects every client when it stops.
type Hub struct {
	// Registered clients
	clients map[*Client]struct{}

	// Register requests from the handler
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stopped  chan struct{}
	stopOnce sync.Once
	count    atomic.Int64
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Serve runs the hub until ctx is done.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Add(1)
			metrics.WSConnections.Inc()
		case client := <-h.unregister:
			h.drop(client)
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.stopped) })
			for client := range h.clients {
				h.drop(client)
			}
			logging.Info().Msg("WebSocket hub stopped")
			return ctx.Err()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Register adds client to the hub. It fails once the hub has stopped.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.stopped:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes client and closes it. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.count.Add(-1)
	metrics.WSConnections.Dec()
	client.close()
}
