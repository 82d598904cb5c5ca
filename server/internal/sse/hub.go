package sse

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

const (
	// DefaultBuffer is the per-client event buffer depth.
	DefaultBuffer = 16

	// DefaultHeartbeat is how often an idle stream receives a comment line.
	DefaultHeartbeat = 15 * time.Second
)

var errSlowClient = errors.New("sse: client event buffer full")

// Snapshotter provides the view sent to a client when it connects.
type Snapshotter interface {
	Snapshot() store.View
}

// Hub streams broadcast batches to SSE clients.
type Hub struct {
	registry  *broadcast.Registry
	table     Snapshotter
	bufSize   int
	heartbeat time.Duration

	nextID atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeat sets the idle heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// New creates a Hub. A non-positive bufSize uses DefaultBuffer.
func New(reg *broadcast.Registry, table Snapshotter, bufSize int, opts ...Option) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	h := &Hub{
		registry:  reg,
		table:     table,
		bufSize:   bufSize,
		heartbeat: DefaultHeartbeat,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP streams events until the client goes away or is pruned.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	c := &client{id: uuid.NewString(), events: make(chan []byte, h.bufSize)}
	defer c.close()

	// Register before taking the snapshot: every delta is then either in the
	// snapshot or in a later batch, possibly both. Batches queue in c.events
	// until the snapshot has been written.
	h.registry.Connect(c)
	defer h.registry.Disconnect(c)

	data, err := store.EncodeSnapshotMessage(h.table.Snapshot())
	if err != nil {
		slog.Error("sse: encode snapshot failed", "err", err)
		return
	}
	if err := h.writeEvent(w, "snapshot", data); err != nil {
		return
	}
	flusher.Flush()
	slog.Debug("sse: observer connected", "observer", c.id, "remote", r.RemoteAddr)

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("sse: observer disconnected", "observer", c.id)
			return
		case msg, ok := <-c.events:
			if !ok {
				slog.Debug("sse: observer pruned", "observer", c.id)
				return
			}
			if err := h.writeEvent(w, "batch", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Hub) writeEvent(w http.ResponseWriter, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", h.nextID.Add(1), event, data)
	return err
}

// client is one SSE observer.
type client struct {
	id string

	mu     sync.Mutex
	events chan []byte
	closed bool
}

func (c *client) ID() string { return c.id }

func (c *client) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broadcast.ErrObserverClosed
	}
	select {
	case c.events <- payload:
		return nil
	default:
		c.closed = true
		close(c.events)
		return errSlowClient
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}
