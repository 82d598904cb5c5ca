package store

import "github.com/obsidianstack/rntiview/server/internal/delta"

// ring is a fixed-capacity FIFO of expired records. When full, push
// overwrites the oldest entry. Not safe for concurrent use; Table guards it.
type ring struct {
	buf   []delta.ExpiredRecord
	head  int // index of the oldest record
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]delta.ExpiredRecord, capacity)}
}

func (r *ring) push(rec delta.ExpiredRecord) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = rec
		r.count++
		return
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int { return r.count }

// last returns a copy of the newest n records, oldest first.
func (r *ring) last(n int) []delta.ExpiredRecord {
	if n > r.count {
		n = r.count
	}
	out := make([]delta.ExpiredRecord, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
