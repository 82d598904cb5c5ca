package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/rntiview/server/internal/delta"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

// minSweepInterval bounds the sweep cadence for very small TTLs.
const minSweepInterval = 10 * time.Millisecond

// Sink receives deltas for broadcast. broadcast.Queue satisfies it.
type Sink interface {
	Enqueue(delta.Delta)
}

// Sweeper periodically evicts entries whose last_seen is older than the
// table TTL and emits an expire delta for each one.
type Sweeper struct {
	table    *store.Table
	sink     Sink
	interval time.Duration
	now      func() time.Time // injectable for deterministic tests

	expired atomic.Int64
}

// NewSweeper creates a Sweeper that runs every ttl/4.
func NewSweeper(t *store.Table, sink Sink) *Sweeper {
	interval := t.TTL() / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return &Sweeper{
		table:    t,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

// Interval returns the sweep cadence.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Expired returns the number of evictions this sweeper has performed.
func (s *Sweeper) Expired() int64 { return s.expired.Load() }

// Run sweeps once immediately, then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	slog.Info("sweeper: started", "ttl", s.table.TTL(), "interval", s.interval)
	s.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

// Sweep evicts every due entry and returns how many were evicted.
// An id that is already gone by the time it is marked is skipped.
func (s *Sweeper) Sweep() int {
	now := store.Seconds(s.now())
	n := 0
	for _, id := range s.table.ExpireDue(now) {
		snap, ok := s.table.MarkExpired(id, now)
		if !ok {
			continue
		}
		snap.Status = delta.StatusInactive
		s.sink.Enqueue(delta.Delta{Kind: delta.KindExpire, Snapshot: snap})
		n++
	}
	if n > 0 {
		s.expired.Add(int64(n))
		slog.Debug("sweeper: expired entries", "count", n)
	}
	return n
}
