package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
)

const (
	// DefaultTimeout bounds one POST when none is configured.
	DefaultTimeout = 10 * time.Second

	// DefaultBuffer is how many batches may wait for delivery.
	DefaultBuffer = 16

	// maxFailures consecutive failed POSTs close the hook.
	maxFailures = 3
)

var errBacklog = errors.New("webhook: delivery backlog full")

// Hook is a broadcast.Observer that POSTs every batch to one URL.
//
// Deliver only queues the payload; Run does the HTTP work so a slow
// endpoint never stalls the fan-out tick. A hook that falls DefaultBuffer
// batches behind or fails maxFailures POSTs in a row closes itself and is
// pruned on the next tick.
type Hook struct {
	name   string
	url    string
	client *http.Client

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// New creates a Hook. A non-positive timeout uses DefaultTimeout.
func New(name, url string, timeout time.Duration) *Hook {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Hook{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		send:   make(chan []byte, DefaultBuffer),
	}
}

// ID implements broadcast.Observer.
func (h *Hook) ID() string { return "webhook:" + h.name }

// Deliver implements broadcast.Observer.
func (h *Hook) Deliver(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return broadcast.ErrObserverClosed
	}
	select {
	case h.send <- payload:
		return nil
	default:
		h.closeLocked()
		return errBacklog
	}
}

// Run posts queued batches until ctx is cancelled or the hook closes.
func (h *Hook) Run(ctx context.Context) {
	defer h.close()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-h.send:
			if !ok {
				return
			}
			if err := h.post(ctx, payload); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				slog.Error("webhook: delivery failed",
					"name", h.name,
					"failures", failures,
					"err", err,
				)
				if failures >= maxFailures {
					slog.Warn("webhook: giving up", "name", h.name)
					return
				}
				continue
			}
			failures = 0
			slog.Debug("webhook: delivered", "name", h.name, "bytes", len(payload))
		}
	}
}

func (h *Hook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (h *Hook) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *Hook) closeLocked() {
	if !h.closed {
		h.closed = true
		close(h.send)
	}
}
