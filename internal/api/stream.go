// WebSocket position feed: one JSON frame per published tick to every
// connected renderer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/talgya/disaster-abm/internal/agents"
	"github.com/talgya/disaster-abm/internal/engine"
)

const (
	maxStreamConns = 16
	clientBuffer   = 8
	writeWait      = 10 * time.Second
)

// Frame is one message on the stream.
type Frame struct {
	Tick      uint64            `json:"tick"`
	Time      string            `json:"time"`
	Detonated bool              `json:"detonated"`
	Positions []agents.Position `json:"positions"`
}

// Client is one connected renderer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans snapshots out to every client.
type Hub struct {
	sim  *engine.Simulation
	Poll time.Duration // how often the snapshot tick is checked

	mu       sync.Mutex
	clients  map[*Client]struct{}
	lastTick uint64
	done     chan struct{}
	once     sync.Once
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// NewHub creates a hub over sim's published snapshots.
func NewHub(sim *engine.Simulation) *Hub {
	return &Hub{
		sim:      sim,
		Poll:     250 * time.Millisecond,
		clients:  make(map[*Client]struct{}),
		lastTick: sim.CurrentTick(),
		done:     make(chan struct{}),
	}
}

// Run broadcasts a frame whenever a new snapshot is published. Blocks until
// Close.
func (h *Hub) Run() {
	t := time.NewTicker(h.Poll)
	defer t.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-t.C:
			snap := h.sim.Snapshot()
			if snap.Tick == h.lastTick {
				continue
			}
			h.lastTick = snap.Tick
			msg, err := json.Marshal(frameOf(snap))
			if err != nil {
				slog.Error("encode frame", "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func frameOf(s engine.Snapshot) Frame {
	return Frame{Tick: s.Tick, Time: s.Time, Detonated: s.Detonated, Positions: s.Positions}
}

// broadcast queues msg for every client. Clients that cannot keep up are
// dropped.
func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			slog.Info("stream client dropped", "client", c.id)
		}
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxStreamConns {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams frames until the client leaves.
// The current snapshot is sent first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.Clients() >= maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Client{id: uuid.New().String(), conn: conn, send: make(chan []byte, clientBuffer)}

	first, err := json.Marshal(frameOf(h.sim.Snapshot()))
	if err != nil {
		conn.Close()
		return
	}
	c.send <- first
	if !h.register(c) {
		conn.Close()
		return
	}
	slog.Info("stream client connected", "client", c.id)

	go c.writer()
	c.reader()
	h.unregister(c)
	slog.Info("stream client disconnected", "client", c.id)
}

// reader discards incoming messages and returns when the connection closes.
func (c *Client) reader() {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writer() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.conn.Close()
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}
