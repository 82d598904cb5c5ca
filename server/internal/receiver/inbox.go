package receiver

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/obsidianstack/rntiview/server/internal/delta"
)

// DefaultInboxSize is the inbound high-water mark.
const DefaultInboxSize = 100000

// frame is one inbound message. Raw frames are decoded when consumed;
// frames accepted over HTTP arrive already decoded.
type frame struct {
	data    []byte
	format  delta.Format
	decoded *delta.Delta
}

// Inbox buffers inbound frames between the transports and the ingest loop.
// Push never blocks: when the inbox is full the oldest frame is evicted.
type Inbox struct {
	buf chan frame

	received atomic.Int64
	dropped  atomic.Int64
	rejected atomic.Int64
}

// NewInbox creates an Inbox holding up to size frames.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{buf: make(chan frame, size)}
}

// Push enqueues a raw frame for decoding by Next.
func (ib *Inbox) Push(data []byte, f delta.Format) {
	ib.put(frame{data: data, format: f})
}

// PushDelta enqueues an already validated delta.
func (ib *Inbox) PushDelta(d delta.Delta) {
	ib.put(frame{decoded: &d})
}

func (ib *Inbox) put(fr frame) {
	ib.received.Add(1)
	for {
		select {
		case ib.buf <- fr:
			return
		default:
		}
		// Full: drop the oldest frame, keep the newest.
		select {
		case <-ib.buf:
			if n := ib.dropped.Add(1); n == 1 || n%1000 == 0 {
				slog.Warn("receiver: inbox full, evicted oldest frame",
					"dropped_total", n, "capacity", cap(ib.buf))
			}
		default:
		}
	}
}

// Next blocks until a frame is available or ctx is done. A frame that does
// not decode yields a nil delta and a nil error.
func (ib *Inbox) Next(ctx context.Context) (*delta.Delta, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case fr := <-ib.buf:
		if fr.decoded != nil {
			return fr.decoded, nil
		}
		d, err := delta.Decode(fr.data, fr.format)
		if err != nil {
			ib.rejected.Add(1)
			slog.Debug("receiver: frame rejected", "format", fr.format, "bytes", len(fr.data), "err", err)
			return nil, nil
		}
		return &d, nil
	}
}

// Len returns the number of buffered frames.
func (ib *Inbox) Len() int { return len(ib.buf) }

// InboxStats are cumulative inbox counters.
type InboxStats struct {
	Depth    int   `json:"depth"`
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Rejected int64 `json:"rejected"`
}

// Stats returns the current counters.
func (ib *Inbox) Stats() InboxStats {
	return InboxStats{
		Depth:    ib.Len(),
		Received: ib.received.Load(),
		Dropped:  ib.dropped.Load(),
		Rejected: ib.rejected.Load(),
	}
}
