package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/rntiview/server/internal/delta"
)

type recorder struct {
	id string

	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func newRecorder(id string) *recorder { return &recorder{id: id} }

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrObserverClosed
	}
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recorder) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func (r *recorder) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.payloads...)
}

func mk(id int64, kind delta.Kind) delta.Delta {
	return delta.Delta{Kind: kind, Snapshot: delta.Snapshot{ID: id, ObservedAt: float64(id), Status: delta.StatusActive}}
}

func decodeBatch(t *testing.T, p []byte) delta.Batch {
	t.Helper()
	var b delta.Batch
	require.NoError(t, json.Unmarshal(p, &b))
	return b
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	assert.Nil(t, q.Drain())

	for i := int64(1); i <= 3; i++ {
		q.Enqueue(mk(i, delta.KindUpdate))
	}
	assert.Equal(t, 3, q.Len())

	got := q.Drain()
	require.Len(t, got, 3)
	for i, d := range got {
		assert.Equal(t, int64(i+1), d.Snapshot.ID)
	}
	assert.Zero(t, q.Len())
	assert.Nil(t, q.Drain())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(mk(int64(p*1000+i), delta.KindUpdate))
			}
		}(p)
	}
	wg.Wait()

	got := q.Drain()
	require.Len(t, got, 800)

	// Per-producer order is preserved.
	last := map[int64]int64{}
	for _, d := range got {
		p := d.Snapshot.ID / 1000
		if prev, ok := last[p]; ok {
			assert.Greater(t, d.Snapshot.ID, prev)
		}
		last[p] = d.Snapshot.ID
	}
}

func TestRegistry_ConnectDisconnect(t *testing.T) {
	reg := NewRegistry()
	a, b := newRecorder("a"), newRecorder("b")
	reg.Connect(a)
	reg.Connect(b)
	assert.Equal(t, 2, reg.Count())

	assert.True(t, reg.Disconnect(a))
	assert.False(t, reg.Disconnect(a))
	assert.Equal(t, 1, reg.Count())

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID())
}

func TestFanout_ThreeObserversFiveDeltas(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, time.Hour)

	obs := []*recorder{newRecorder("a"), newRecorder("b"), newRecorder("c")}
	for _, o := range obs {
		reg.Connect(o)
	}
	kinds := []delta.Kind{delta.KindNew, delta.KindUpdate, delta.KindUpdate, delta.KindExpire, delta.KindNew}
	for i, k := range kinds {
		q.Enqueue(mk(int64(i+1), k))
	}

	assert.Equal(t, 5, f.Tick())

	for _, o := range obs {
		got := o.received()
		require.Len(t, got, 1, "observer %s", o.id)
		b := decodeBatch(t, got[0])
		assert.Equal(t, "batch", b.Type)
		require.Len(t, b.Items, 5)
		for i, item := range b.Items {
			assert.Equal(t, int64(i+1), item.Snapshot.ID)
			assert.Equal(t, kinds[i], item.Kind)
		}
	}

	st := f.Stats()
	assert.Equal(t, int64(1), st.Batches)
	assert.Equal(t, int64(5), st.Items)
	assert.Equal(t, int64(3), st.Deliveries)
	assert.Zero(t, st.QueueDepth)
}

func TestFanout_SameBytesToEveryObserver(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, time.Hour)
	a, b := newRecorder("a"), newRecorder("b")
	reg.Connect(a)
	reg.Connect(b)
	q.Enqueue(mk(1, delta.KindNew))

	f.Tick()
	assert.Equal(t, a.received()[0], b.received()[0])
}

func TestFanout_FailingObserverPruned(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, time.Hour)

	good1, bad, good2 := newRecorder("good1"), newRecorder("bad"), newRecorder("good2")
	bad.setFail(true)
	reg.Connect(good1)
	reg.Connect(bad)
	reg.Connect(good2)

	q.Enqueue(mk(1, delta.KindNew))
	f.Tick()

	assert.Equal(t, 2, reg.Count())
	assert.Len(t, good1.received(), 1)
	assert.Len(t, good2.received(), 1)
	assert.Equal(t, int64(1), f.Stats().Pruned)

	// Recovering does not bring it back.
	bad.setFail(false)
	q.Enqueue(mk(2, delta.KindUpdate))
	f.Tick()

	assert.Empty(t, bad.received())
	assert.Len(t, good1.received(), 2)
	assert.Len(t, good2.received(), 2)
}

func TestFanout_EmptyTickDoesNothing(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, time.Hour)
	o := newRecorder("a")
	reg.Connect(o)

	assert.Zero(t, f.Tick())
	assert.Empty(t, o.received())
	assert.Zero(t, f.Stats().Batches)
}

func TestFanout_NoObserversStillDrains(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, time.Hour)
	q.Enqueue(mk(1, delta.KindNew))

	assert.Equal(t, 1, f.Tick())
	assert.Zero(t, q.Len())
}

func TestFanout_DefaultInterval(t *testing.T) {
	f := NewFanout(NewQueue(), NewRegistry(), 0)
	assert.Equal(t, DefaultInterval, f.interval)
}

func TestFanout_RunDeliversOnTicker(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, 10*time.Millisecond)
	o := newRecorder("a")
	reg.Connect(o)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	q.Enqueue(mk(1, delta.KindNew))
	q.Enqueue(mk(2, delta.KindNew))

	require.Eventually(t, func() bool { return len(o.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	b := decodeBatch(t, o.received()[0])
	assert.Len(t, b.Items, 2)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFanout_ConcurrentRegistration(t *testing.T) {
	q, reg := NewQueue(), NewRegistry()
	f := NewFanout(q, reg, time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			o := newRecorder(fmt.Sprintf("o%d", i))
			reg.Connect(o)
			if i%2 == 0 {
				reg.Disconnect(o)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			q.Enqueue(mk(int64(i), delta.KindUpdate))
			f.Tick()
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, reg.Count())
	assert.Equal(t, int64(200), f.Stats().Items)
}
