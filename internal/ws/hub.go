package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"energy_billing/internal/metrics"
)

const (
	sendBuffer = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Client is one stream subscriber. Its send channel is closed by the hub
// when the client leaves or is evicted.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub fans ingest events out to every client and routes bill replies to
// the client that asked. A client whose buffer is full is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetStreamClients(n)
	h.log.Debug("stream client connected", zap.String("remote", c.remote), zap.Int("clients", n))
}

// Unregister removes c and closes its send channel. Repeated calls are
// no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.SetStreamClients(n)
		h.log.Debug("stream client disconnected", zap.String("remote", c.remote), zap.Int("clients", n))
	}
}

// Broadcast queues msg for every registered client.
func (h *Hub) Broadcast(msg []byte) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.evict(slow...)
}

// Send queues msg for c alone. Unregistered clients are ignored.
func (h *Hub) Send(c *Client, msg []byte) {
	h.mu.RLock()
	_, registered := h.clients[c]
	full := registered && !c.enqueue(msg)
	h.mu.RUnlock()
	if full {
		h.evict(c)
	}
}

func (h *Hub) evict(clients ...*Client) {
	for _, c := range clients {
		h.log.Warn("stream client too slow, disconnecting", zap.String("remote", c.remote))
		metrics.IncStreamEvicted()
		h.Unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump drains the send channel onto the connection and keeps it alive
// with pings. A closed channel ends the connection with a close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
