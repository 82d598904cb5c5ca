package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
)

// Run starts the ingest loop, the sweeper and the fan-out and blocks until
// ctx is cancelled or ingest fails. Either way all three are stopped before
// Run returns. The ingest error, if any, is returned.
func Run(ctx context.Context, in *Ingest, sw *Sweeper, f *broadcast.Fanout) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		ingErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := in.Run(ctx); err != nil {
			slog.Error("pipeline: ingest stopped", "err", err)
			ingErr = err
		}
	}()
	go func() {
		defer wg.Done()
		sw.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		f.Run(ctx)
	}()

	wg.Wait()
	slog.Info("pipeline: stopped")
	return ingErr
}
