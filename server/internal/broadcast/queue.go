package broadcast

import (
	"sync"

	"github.com/obsidianstack/rntiview/server/internal/delta"
)

// Queue is an unbounded multi-producer FIFO of deltas.
type Queue struct {
	mu    sync.Mutex
	items []delta.Delta
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends d. It never blocks beyond the lock.
func (q *Queue) Enqueue(d delta.Delta) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
}

// Drain removes and returns every queued delta in arrival order.
// It returns nil when the queue is empty.
func (q *Queue) Drain() []delta.Delta {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued deltas.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
