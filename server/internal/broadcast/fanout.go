package broadcast

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/rntiview/server/internal/delta"
)

// DefaultInterval is the broadcast cadence used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Stats are cumulative fan-out counters.
type Stats struct {
	Observers  int   `json:"observers"`
	QueueDepth int   `json:"queue_depth"`
	Batches    int64 `json:"batches"`
	Items      int64 `json:"items"`
	Deliveries int64 `json:"deliveries"`
	Pruned     int64 `json:"pruned"`
}

// Fanout drains a Queue on a fixed cadence and delivers each batch to every
// observer in a Registry.
type Fanout struct {
	queue    *Queue
	registry *Registry
	interval time.Duration

	batches    atomic.Int64
	items      atomic.Int64
	deliveries atomic.Int64
	pruned     atomic.Int64
}

// NewFanout creates a Fanout. A non-positive interval uses DefaultInterval.
func NewFanout(q *Queue, reg *Registry, interval time.Duration) *Fanout {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Fanout{queue: q, registry: reg, interval: interval}
}

// Run calls Tick every interval until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	t := time.NewTicker(f.interval)
	defer t.Stop()

	slog.Info("fanout: started", "interval", f.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.Tick()
		}
	}
}

// Tick performs one drain-encode-deliver cycle and returns the batch size.
func (f *Fanout) Tick() int {
	items := f.queue.Drain()
	if len(items) == 0 {
		return 0
	}

	payload, err := delta.EncodeBatch(items)
	if err != nil {
		slog.Error("fanout: encode batch failed, dropping", "items", len(items), "err", err)
		return 0
	}
	f.batches.Add(1)
	f.items.Add(int64(len(items)))

	for _, o := range f.registry.List() {
		if err := o.Deliver(payload); err != nil {
			if f.registry.Disconnect(o) {
				f.pruned.Add(1)
			}
			slog.Debug("fanout: observer pruned", "observer", o.ID(), "err", err)
			continue
		}
		f.deliveries.Add(1)
	}
	return len(items)
}

// Stats returns the current counters.
func (f *Fanout) Stats() Stats {
	return Stats{
		Observers:  f.registry.Count(),
		QueueDepth: f.queue.Len(),
		Batches:    f.batches.Load(),
		Items:      f.items.Load(),
		Deliveries: f.deliveries.Load(),
		Pruned:     f.pruned.Load(),
	}
}
