package store

import "encoding/json"

// snapshotMessage is the first message an observer receives on connect.
type snapshotMessage struct {
	Type string `json:"type"`
	View
}

// EncodeSnapshotMessage serialises v as {"type":"snapshot", ...view fields}.
func EncodeSnapshotMessage(v View) ([]byte, error) {
	return json.Marshal(snapshotMessage{Type: "snapshot", View: v})
}
