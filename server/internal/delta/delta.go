package delta

import "encoding/json"

// Kind tags what happened to an entity.
type Kind string

const (
	KindNew    Kind = "new"
	KindUpdate Kind = "update"
	KindExpire Kind = "expire"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNew, KindUpdate, KindExpire:
		return true
	}
	return false
}

// Status is the lifecycle state carried on a snapshot.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Snapshot is the latest known state of one tracked RNTI.
//
// Timestamps are producer seconds (the sniffer clock), not wall time.
// Classifier attributes are optional and never interpreted by the table.
// Pointer fields are treated as immutable once decoded; copies of a Snapshot
// may share them.
type Snapshot struct {
	ID           int64   `json:"rnti"`
	CellID       *int64  `json:"cell_id"`
	ScramblingID *int64  `json:"scrambling_id"`
	CoresetID    *int64  `json:"coreset_id"`
	ObservedAt   float64 `json:"t_seconds"`
	SampleIndex  *int64  `json:"sample_index"`
	SeenCount    int64   `json:"seen_count"`
	Revivals     int64   `json:"revivals"`
	Status       Status  `json:"status"`
	LastSeen     float64 `json:"last_seen"`
	FirstSeen    float64 `json:"first_seen"`
}

// ExpiredRecord is the compact summary kept after an entity is evicted.
type ExpiredRecord struct {
	ID        int64   `json:"rnti"`
	ExpiredAt float64 `json:"expired_at"`
	LastSeen  float64 `json:"last_seen"`
	CellID    *int64  `json:"cell_id"`
}

// Delta is one state change. It is passed by value between actors.
type Delta struct {
	Kind     Kind     `json:"event"`
	Snapshot Snapshot `json:"snapshot"`
}

// Batch is the payload handed to every observer on a broadcast tick.
type Batch struct {
	Type  string  `json:"type"`
	Items []Delta `json:"items"`
}

// EncodeBatch serialises items into a single "batch" message.
func EncodeBatch(items []Delta) ([]byte, error) {
	if items == nil {
		items = []Delta{}
	}
	return json.Marshal(Batch{Type: "batch", Items: items})
}
