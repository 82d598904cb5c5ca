package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultBuffer is the per-client outgoing message buffer depth.
	DefaultBuffer = 16
)

// errSlowClient is returned by Deliver when a client's send buffer is full.
var errSlowClient = errors.New("ws: client send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Snapshotter provides the view sent to a client when it connects.
type Snapshotter interface {
	Snapshot() store.View
}

// Hub accepts WebSocket observers and registers them for broadcast batches.
type Hub struct {
	registry *broadcast.Registry
	table    Snapshotter
	bufSize  int

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client is one connected WebSocket observer.
type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// New creates a Hub. A non-positive bufSize uses DefaultBuffer.
func New(reg *broadcast.Registry, table Snapshotter, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	return &Hub{
		registry: reg,
		table:    table,
		bufSize:  bufSize,
		clients:  make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection, registers the client for batches and
// sends the current snapshot ahead of them. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.bufSize),
	}
	h.track(c)
	defer h.untrack(c)

	// Register before taking the snapshot: every delta is then either in the
	// snapshot or in a later batch, possibly both. Batches wait in c.send
	// until writePump starts, so the snapshot is always the first message.
	h.registry.Connect(c)
	data, err := store.EncodeSnapshotMessage(h.table.Snapshot())
	if err != nil {
		slog.Error("ws: encode snapshot failed", "err", err)
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return
	}
	slog.Debug("ws: observer connected", "observer", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) track(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) untrack(c *client) {
	h.registry.Disconnect(c)
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	slog.Debug("ws: observer disconnected", "observer", c.id)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.registry.Disconnect(c)
		c.close()
	}
}

// ID implements broadcast.Observer.
func (c *client) ID() string { return c.id }

// Deliver implements broadcast.Observer. It never blocks: a full buffer
// closes the client and reports errSlowClient.
func (c *client) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broadcast.ErrObserverClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeLocked()
		return errSlowClient
	}
}

func (c *client) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send channel to the connection and sends periodic
// pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client pruned).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames to process control messages and detect disconnects.
// Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
