package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/delta"
	"github.com/obsidianstack/rntiview/server/internal/store"
	wsHub "github.com/obsidianstack/rntiview/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

func newTable(ids ...int64) *store.Table {
	tb := store.New(5 * time.Minute)
	for _, id := range ids {
		tb.Upsert(delta.Delta{
			Kind:     delta.KindNew,
			Snapshot: delta.Snapshot{ID: id, ObservedAt: 1, Status: delta.StatusActive},
		})
	}
	return tb
}

type env struct {
	url    string
	hub    *wsHub.Hub
	reg    *broadcast.Registry
	queue  *broadcast.Queue
	fanout *broadcast.Fanout
	cancel func()
}

// startHub serves the hub from a test server. The fan-out is driven manually
// with Tick so tests do not depend on timing.
func startHub(t *testing.T, tb *store.Table) *env {
	t.Helper()

	reg := broadcast.NewRegistry()
	q := broadcast.NewQueue()
	hub := wsHub.New(reg, tb, 0)
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(hub)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &env{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		hub:    hub,
		reg:    reg,
		queue:  q,
		fanout: broadcast.NewFanout(q, reg, time.Hour),
		cancel: cancel,
	}
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSON reads one text message from conn with a short deadline.
func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesSnapshotFirst(t *testing.T) {
	e := startHub(t, newTable(7, 8))

	m := readJSON(t, dial(t, e.url))
	if m["type"] != "snapshot" {
		t.Errorf("type: got %v, want snapshot", m["type"])
	}
	active, ok := m["active"].([]interface{})
	if !ok {
		t.Fatal("active: missing or wrong type")
	}
	if len(active) != 2 {
		t.Errorf("active: got %d, want 2", len(active))
	}
	stats := m["stats"].(map[string]interface{})
	if stats["total_seen"] != float64(2) {
		t.Errorf("stats.total_seen: got %v, want 2", stats["total_seen"])
	}
	if _, ok := m["recently_expired"].([]interface{}); !ok {
		t.Error("recently_expired: missing or wrong type")
	}
}

// countingSnapshotter records how many observers were registered when the
// snapshot was taken.
type countingSnapshotter struct {
	tb   *store.Table
	reg  *broadcast.Registry
	seen chan int
}

func (s *countingSnapshotter) Snapshot() store.View {
	s.seen <- s.reg.Count()
	return s.tb.Snapshot()
}

func TestHub_RegistersBeforeSnapshot(t *testing.T) {
	reg := broadcast.NewRegistry()
	q := broadcast.NewQueue()
	f := broadcast.NewFanout(q, reg, time.Hour)
	snap := &countingSnapshotter{tb: newTable(), reg: reg, seen: make(chan int, 1)}
	srv := httptest.NewServer(wsHub.New(reg, snap, 0))
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	select {
	case n := <-snap.seen:
		if n != 1 {
			t.Errorf("observers at snapshot time: got %d, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot never taken")
	}

	// A batch ticked straight after registration still follows the snapshot.
	q.Enqueue(delta.Delta{Kind: delta.KindNew, Snapshot: delta.Snapshot{ID: 9}})
	if n := f.Tick(); n != 1 {
		t.Fatalf("Tick: got %d, want 1", n)
	}
	if m := readJSON(t, conn); m["type"] != "snapshot" {
		t.Errorf("first message type: got %v, want snapshot", m["type"])
	}
	if m := readJSON(t, conn); m["type"] != "batch" {
		t.Errorf("second message type: got %v, want batch", m["type"])
	}
}

func TestHub_EmptyTable_EmptyActive(t *testing.T) {
	e := startHub(t, newTable())
	m := readJSON(t, dial(t, e.url))
	if active := m["active"].([]interface{}); len(active) != 0 {
		t.Errorf("active: got %d, want 0", len(active))
	}
}

func TestHub_RegistersObservers(t *testing.T) {
	e := startHub(t, newTable())

	for i := 0; i < 3; i++ {
		readJSON(t, dial(t, e.url)) // consume initial snapshot
	}

	waitFor(t, "3 observers", func() bool { return e.reg.Count() == 3 })
	if n := e.hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}
}

func TestHub_DisconnectRemovesObserver(t *testing.T) {
	e := startHub(t, newTable())

	conn := dial(t, e.url)
	readJSON(t, conn)
	waitFor(t, "registration", func() bool { return e.reg.Count() == 1 })

	conn.Close()
	waitFor(t, "deregistration", func() bool { return e.reg.Count() == 0 && e.hub.Count() == 0 })
}

func TestHub_AllClientsReceiveBatch(t *testing.T) {
	e := startHub(t, newTable())

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, e.url)
		readJSON(t, conns[i])
	}
	waitFor(t, "3 observers", func() bool { return e.reg.Count() == 3 })

	for i := int64(1); i <= 5; i++ {
		e.queue.Enqueue(delta.Delta{Kind: delta.KindUpdate, Snapshot: delta.Snapshot{ID: i, Status: delta.StatusActive}})
	}
	if n := e.fanout.Tick(); n != 5 {
		t.Fatalf("Tick: got %d, want 5", n)
	}

	for i, conn := range conns {
		m := readJSON(t, conn)
		if m["type"] != "batch" {
			t.Errorf("client %d: type: got %v, want batch", i, m["type"])
			continue
		}
		items := m["items"].([]interface{})
		if len(items) != 5 {
			t.Errorf("client %d: items: got %d, want 5", i, len(items))
			continue
		}
		first := items[0].(map[string]interface{})
		if first["event"] != "update" {
			t.Errorf("client %d: event: got %v, want update", i, first["event"])
		}
		snap := first["snapshot"].(map[string]interface{})
		if snap["rnti"] != float64(1) {
			t.Errorf("client %d: first rnti: got %v, want 1", i, snap["rnti"])
		}
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	e := startHub(t, newTable())

	conn := dial(t, e.url)
	readJSON(t, conn)
	waitFor(t, "registration", func() bool { return e.reg.Count() == 1 })

	e.cancel()

	waitFor(t, "shutdown", func() bool { return e.hub.Count() == 0 && e.reg.Count() == 0 })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage after shutdown: expected error")
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(broadcast.NewRegistry(), newTable(), 0)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// Plain HTTP GET without upgrade headers -> 400
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
