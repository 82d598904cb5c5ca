// Package broadcast buffers deltas and fans them out to observers in batches.
//
// Queue is an unbounded FIFO written by the ingest loop and the expiry
// sweeper and drained only by Fanout. Registry holds the current observers;
// Fanout iterates a copy of it on every tick, so Connect and Disconnect may
// run concurrently with delivery.
//
// On each tick Fanout drains the queue into one ordered batch, encodes it
// once as
//
//	{"type": "batch", "items": [{"event": ..., "snapshot": {...}}, ...]}
//
// and hands the same bytes to every observer. An observer whose Deliver
// returns an error is removed from the registry and never retried. An empty
// drain does no work.
package broadcast
