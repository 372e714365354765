// Package hub implements the server-push side of the sync and notification
// channels: one Hub instance per channel, each broadcasting JSON envelopes
// to every connected websocket client.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wb-go/wbf/zlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Auth is the shared token checked by the API layer before the
		// upgrade; origin is not a trust boundary here.
		return true
	},
}

// Hub maintains active client connections and broadcasts messages. The
// sync and notification channels run separate Hub instances so alert
// back-pressure never blocks task sync.
type Hub struct {
	name           string
	heartbeatEvery time.Duration

	// connectedEnvelope builds the greeting sent to a client right after
	// registration; heartbeatEnvelope builds the periodic liveness signal.
	connectedEnvelope func(connectionID string) interface{}
	heartbeatEnvelope func() interface{}

	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
}

// New creates a hub. The envelope callbacks let each channel keep its own
// wire shape (PushEnvelope vs NotificationEvent).
func New(
	name string,
	heartbeatEvery time.Duration,
	connectedEnvelope func(connectionID string) interface{},
	heartbeatEnvelope func() interface{},
) *Hub {
	return &Hub{
		name:              name,
		heartbeatEvery:    heartbeatEvery,
		connectedEnvelope: connectedEnvelope,
		heartbeatEnvelope: heartbeatEnvelope,
		clients:           make(map[string]*client),
		register:          make(chan *client),
		unregister:        make(chan *client),
		broadcast:         make(chan []byte, 256),
		done:              make(chan struct{}),
	}
}

// Run manages client registration and fan-out until ctx is cancelled.
// Closing done on exit unblocks pumps and upgrades that would otherwise
// sit on the register and unregister channels forever.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	heartbeat := time.NewTicker(h.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			zlog.Logger.Info().Str("hub", h.name).Msg("hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			zlog.Logger.Info().Str("hub", h.name).Str("client", c.id).Int("total", total).Msg("client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			zlog.Logger.Info().Str("hub", h.name).Str("client", c.id).Int("total", total).Msg("client disconnected")

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-heartbeat.C:
			if body, err := json.Marshal(h.heartbeatEnvelope()); err == nil {
				h.fanOut(body)
			}
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		select {
		case c.send <- message:
		default:
			// Client send buffer is full; drop the connection rather
			// than block every other subscriber.
			close(c.send)
			delete(h.clients, id)
		}
	}
}

// Broadcast marshals v and queues it for every connected client.
func (h *Hub) Broadcast(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	h.broadcast <- body
	return nil
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleUpgrade upgrades an authenticated HTTP request to a websocket,
// registers the client and greets it with the channel's connected envelope.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return fmt.Errorf("hub %s is stopped", h.name)
	}

	if body, err := json.Marshal(h.connectedEnvelope(c.id)); err == nil {
		c.send <- body
	}

	go c.writePump()
	go c.readPump()

	return nil
}
