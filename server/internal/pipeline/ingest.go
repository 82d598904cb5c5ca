package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/obsidianstack/rntiview/server/internal/delta"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

// Source yields decoded deltas one at a time. Next blocks until a frame is
// available or ctx is done. A nil delta with a nil error means the frame did
// not decode and should be skipped.
type Source interface {
	Next(ctx context.Context) (*delta.Delta, error)
}

// Ingest applies deltas from a Source to the table and forwards them.
type Ingest struct {
	src   Source
	table *store.Table
	sink  Sink

	applied atomic.Int64
	skipped atomic.Int64
}

// NewIngest creates an Ingest loop.
func NewIngest(src Source, t *store.Table, sink Sink) *Ingest {
	return &Ingest{src: src, table: t, sink: sink}
}

// Run consumes the source until ctx is cancelled or the source fails.
// It returns nil on cancellation.
func (in *Ingest) Run(ctx context.Context) error {
	slog.Info("ingest: started")
	for {
		d, err := in.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: next: %w", err)
		}
		if d == nil {
			in.skipped.Add(1)
			continue
		}
		in.Apply(*d)
	}
}

// Apply upserts d and forwards it to the sink. The forwarded delta keeps the
// producer-declared kind and carries the snapshot as stored. The kind
// computed by the table is returned.
func (in *Ingest) Apply(d delta.Delta) delta.Kind {
	kind, stored := in.table.Upsert(d)
	if kind != d.Kind {
		slog.Debug("ingest: producer kind differs from table",
			"rnti", d.Snapshot.ID, "declared", d.Kind, "computed", kind)
	}
	in.sink.Enqueue(delta.Delta{Kind: d.Kind, Snapshot: stored})
	in.applied.Add(1)
	return kind
}

// Applied returns the number of deltas applied.
func (in *Ingest) Applied() int64 { return in.applied.Load() }

// Skipped returns the number of frames that did not decode.
func (in *Ingest) Skipped() int64 { return in.skipped.Load() }
