package store

import (
	"sync"
	"time"

	"github.com/obsidianstack/rntiview/server/internal/delta"
)

// Default retention for the recently-expired ring.
const (
	DefaultExpiredCapacity = 1024
	DefaultRecentLimit     = 128
)

// Stats are aggregate counters for the table.
type Stats struct {
	ActiveCount  int   `json:"active_count"`
	TotalSeen    int64 `json:"total_seen"`
	ExpiredTotal int64 `json:"expired_total"`
}

// View is a consistent copy of the table taken under one lock acquisition.
type View struct {
	Now             float64               `json:"now"`
	Active          []delta.Snapshot      `json:"active"`
	RecentlyExpired []delta.ExpiredRecord `json:"recently_expired"`
	Stats           Stats                 `json:"stats"`
}

// Table is the authoritative set of active RNTIs.
//
// Every method takes mu for the duration of its map/ring access and never
// calls another method while holding it. Callers only ever receive copies.
type Table struct {
	mu           sync.RWMutex
	active       map[int64]delta.Snapshot
	expired      *ring
	totalSeen    int64
	expiredTotal int64
	ttl          time.Duration
	recentLimit  int
	now          func() time.Time // injectable for deterministic tests
}

// Option configures a Table.
type Option func(*Table)

// WithExpiredCapacity sets the ring size for recently-expired records.
func WithExpiredCapacity(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.expired = newRing(n)
		}
	}
}

// WithRecentLimit sets how many expired records Snapshot returns.
func WithRecentLimit(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.recentLimit = n
		}
	}
}

// New creates an empty Table with the given TTL.
func New(ttl time.Duration, opts ...Option) *Table {
	t := &Table{
		active:      make(map[int64]delta.Snapshot),
		expired:     newRing(DefaultExpiredCapacity),
		ttl:         ttl,
		recentLimit: DefaultRecentLimit,
		now:         time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TTL returns the configured time-to-live.
func (t *Table) TTL() time.Duration { return t.ttl }

// Upsert inserts or refreshes the snapshot carried by d and returns the
// computed kind (new or update) together with the stored copy.
//
// On insert the incoming first_seen is kept as given (delta.Decode defaults
// it to t_seconds), capped at the observation time. On refresh the stored
// first_seen is kept unconditionally, even for an older observation.
// last_seen is set to the incoming observation time and status is forced
// to active.
func (t *Table) Upsert(d delta.Delta) (delta.Kind, delta.Snapshot) {
	snap := d.Snapshot
	observed := snap.ObservedAt

	t.mu.Lock()
	defer t.mu.Unlock()

	kind := delta.KindNew
	if prev, ok := t.active[snap.ID]; ok {
		kind = delta.KindUpdate
		snap.FirstSeen = prev.FirstSeen
	} else {
		t.totalSeen++
		if snap.FirstSeen > observed {
			snap.FirstSeen = observed
		}
	}
	snap.LastSeen = observed
	snap.Status = delta.StatusActive
	t.active[snap.ID] = snap
	return kind, snap
}

// ExpireDue returns every active id whose last_seen is at least TTL older
// than now. It does not modify the table.
func (t *Table) ExpireDue(now float64) []int64 {
	ttl := t.ttl.Seconds()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var due []int64
	for id, s := range t.active {
		if now-s.LastSeen >= ttl {
			due = append(due, id)
		}
	}
	return due
}

// MarkExpired removes id from the active set and records it in the expired
// ring. It returns the removed snapshot, or false if id was not active.
// Calling it twice for the same id is harmless.
func (t *Table) MarkExpired(id int64, when float64) (delta.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.active[id]
	if !ok {
		return delta.Snapshot{}, false
	}
	delete(t.active, id)
	t.expiredTotal++
	t.expired.push(delta.ExpiredRecord{
		ID:        id,
		ExpiredAt: when,
		LastSeen:  snap.LastSeen,
		CellID:    snap.CellID,
	})
	return snap, true
}

// Snapshot returns a copy of the active set (unordered), the most recent
// expired records (oldest first) and aggregate stats.
func (t *Table) Snapshot() View {
	now := Seconds(t.now())

	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]delta.Snapshot, 0, len(t.active))
	for _, s := range t.active {
		active = append(active, s)
	}
	return View{
		Now:             now,
		Active:          active,
		RecentlyExpired: t.expired.last(t.recentLimit),
		Stats:           t.statsLocked(),
	}
}

// Lookup returns a copy of the active snapshot for id.
func (t *Table) Lookup(id int64) (delta.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.active[id]
	return s, ok
}

// Stats returns the aggregate counters.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statsLocked()
}

func (t *Table) statsLocked() Stats {
	return Stats{
		ActiveCount:  len(t.active),
		TotalSeen:    t.totalSeen,
		ExpiredTotal: t.expiredTotal,
	}
}

// Seconds converts a wall-clock time to the float seconds used on the wire.
func Seconds(ts time.Time) float64 {
	return float64(ts.UnixNano()) / float64(time.Second)
}
