// Package wsevents is an additive, observability-only websocket push
// channel over internal/events.Bus. It is not part of the wire protocol
// in spec.md §6 — subscribe-events/next-event (long-poll) is the
// contractual way to consume events; this package exists only so a
// dashboard or CLI can watch a queue live instead of polling. Grounded
// on the teacher's internal/api/websocket/{hub,client,handler}.go, with
// the Redis-backed Hub/Publisher generalized to the in-process Bus.
package wsevents

import (
	"context"
	"sync"

	"github.com/infinity086/labtasker/internal/events"
	"github.com/infinity086/labtasker/internal/labtasklog"
	"github.com/infinity086/labtasker/internal/metrics"
)

// Hub fans events.Bus notifications out to connected websocket clients.
// Unlike the teacher's Hub, it holds no publisher of its own: each client
// owns one bus subscription, scoped to the queue it authenticated against.
type Hub struct {
	bus *events.Bus

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub builds a hub over bus. Call Run to start its membership loop and
// Stop to shut it down; each client's event pump is started by ServeWS.
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// Run processes register/unregister notifications until ctx is cancelled
// or Stop is called. Each client pumps its own bus subscription in its
// own goroutine (see Client.EventPump), so Run's loop only tracks
// membership.
func (h *Hub) Run(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				labtasklog.Debug().Str("client_id", client.ID).Msg("websocket client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.stop()
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				labtasklog.Debug().Str("client_id", client.ID).Msg("websocket client unregistered")
			}
		}
	}()
	labtasklog.Info().Msg("websocket hub started")
}

// Stop shuts the hub down and waits for its goroutine to exit.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	labtasklog.Info().Msg("websocket hub stopped")
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.stop()
		close(client.send)
		delete(h.clients, client)
	}
}
