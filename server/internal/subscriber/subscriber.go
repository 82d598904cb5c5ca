package subscriber

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/rntiview/server/internal/receiver"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	dialTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second

	// pingPeriod keeps a quiet upstream inside the Pump read deadline.
	pingPeriod = (receiver.PongWait * 9) / 10
)

// Subscriber connects out to an upstream publisher and feeds every message
// it receives into an Inbox. It reconnects with exponential backoff when the
// connection drops.
type Subscriber struct {
	endpoint string
	header   http.Header
	inbox    *receiver.Inbox
	maxBytes int64
	dialFn   dialFunc // injectable for tests
	ping     time.Duration
}

// dialFunc opens a WebSocket connection to endpoint.
type dialFunc func(ctx context.Context, endpoint string, header http.Header) (*websocket.Conn, error)

// New creates a Subscriber for endpoint (ws:// or wss://). header is sent
// on every dial and may carry credentials.
func New(endpoint string, header http.Header, inbox *receiver.Inbox, maxBytes int64) *Subscriber {
	if maxBytes <= 0 {
		maxBytes = receiver.DefaultMaxFrameBytes
	}
	return &Subscriber{
		endpoint: endpoint,
		header:   header,
		inbox:    inbox,
		maxBytes: maxBytes,
		dialFn:   defaultDial,
		ping:     pingPeriod,
	}
}

// Run keeps a connection to the publisher open until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.endpoint, s.header)
		if err != nil {
			wait := bo.next()
			slog.Error("subscriber: dial failed, will retry",
				"endpoint", s.endpoint,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("subscriber: connected", "endpoint", s.endpoint)
		bo.reset()

		n, err := s.consume(ctx, conn)

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("subscriber: connection lost, will reconnect",
			"endpoint", s.endpoint,
			"frames", n,
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// consume pumps frames until the connection fails or ctx is cancelled. It
// pings the publisher every s.ping; the pong refreshes the read deadline.
func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) (int, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(s.ping)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					slog.Debug("subscriber: ping failed", "endpoint", s.endpoint, "err", err)
					conn.Close()
					return
				}
			}
		}
	}()
	defer conn.Close()

	return receiver.Pump(conn, s.inbox, s.maxBytes)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func defaultDial(ctx context.Context, endpoint string, header http.Header) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := d.DialContext(ctx, endpoint, header)
	return conn, err
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
