// Package broadcast fans bus events out to websocket clients. Connections
// are keyed by an opaque client id; an optional wallet identity scopes which
// events a connection receives.
package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trading-service/internal/events"
)

// envelope is the wire frame sent to clients.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	id       string
	identity string
	conn     *websocket.Conn
	send     chan []byte
	lastSeen time.Time
}

// Hub tracks live connections and relays bus events to them.
type Hub struct {
	bus       *events.Bus
	heartbeat time.Duration
	deadAfter time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub builds a hub. heartbeat is the server frame interval; deadAfter is
// how long a client may stay silent before it is dropped.
func NewHub(bus *events.Bus, heartbeat, deadAfter time.Duration) *Hub {
	return &Hub{
		bus:       bus,
		heartbeat: heartbeat,
		deadAfter: deadAfter,
		clients:   make(map[string]*client),
	}
}

// wireTopics are the bus topics relayed to websocket clients. Session and
// token lifecycle events stay process-internal.
var wireTopics = map[events.Topic]bool{
	events.TopicQuoteUpdate:     true,
	events.TopicTradeStatus:     true,
	events.TopicExecutionUpdate: true,
}

// Run bridges the bus to connected clients and drives the heartbeat/sweep
// loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	stream, unsub := h.bus.SubscribeAll(256)
	defer unsub()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if !wireTopics[msg.Topic] {
				continue
			}
			h.Send(string(msg.Topic), msg.Data, msg.Identity)
		case <-ticker.C:
			h.Send("heartbeat", map[string]any{"ts": time.Now().UnixMilli()}, "")
			h.sweepDead()
		}
	}
}

// Send fans a frame out to every connection matching identity, or to all
// connections when identity is empty. Scoped frames go only to connections
// carrying that exact identity; anonymous connections never see them. A slow
// or broken connection only loses its own frames.
func (h *Hub) Send(eventType string, payload any, identity string) {
	frame, err := json.Marshal(envelope{Type: eventType, Data: payload})
	if err != nil {
		log.Printf("broadcast: marshal %s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if identity != "" && c.identity != identity {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Buffer full; the client is not keeping up. Drop the frame,
			// the sweep will evict it if it stays silent.
		}
	}
}

// HandleConnection registers an upgraded connection and blocks on its read
// loop until the peer goes away.
func (h *Hub) HandleConnection(conn *websocket.Conn, identity string) {
	c := &client{
		id:       uuid.New().String(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, 64),
		lastSeen: time.Now(),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	log.Printf("broadcast: client %s connected (identity=%q, total=%d)", c.id, identity, h.ClientCount())

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("broadcast: write to %s: %v", c.id, err)
			h.remove(c.id)
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c.id)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		h.mu.Lock()
		c.lastSeen = time.Now()
		h.mu.Unlock()

		var in struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &in) == nil && in.Type == "ping" {
			h.reply(c, envelope{Type: "pong", Data: map[string]any{"ts": time.Now().UnixMilli()}})
		}
	}
}

// reply queues a frame to one client. The registry check under the read lock
// keeps the send ordered before remove's channel close.
func (h *Hub) reply(c *client, env envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// remove unregisters a client and releases its connection. Idempotent.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		close(c.send)
		c.conn.Close()
		log.Printf("broadcast: client %s disconnected (total=%d)", id, h.ClientCount())
	}
}

// sweepDead drops clients that have been silent past the dead-peer window.
func (h *Hub) sweepDead() {
	cutoff := time.Now().Add(-h.deadAfter)

	h.mu.RLock()
	var stale []string
	for id, c := range h.clients {
		if c.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		log.Printf("broadcast: evicting idle client %s", id)
		h.remove(id)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		c.conn.Close()
	}
}

// ClientCount reports live connections, for the status endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
