// Package ws serves broadcast observers over WebSocket.
//
// Each connection becomes a broadcast.Observer with its own buffered send
// channel drained by a write pump. The first message on a new connection is
// the current table view:
//
//	{"type": "snapshot", "now": ..., "active": [...], "recently_expired": [...], "stats": {...}}
//
// followed by every batch the fan-out produces:
//
//	{"type": "batch", "items": [{"event": "new", "snapshot": {...}}, ...]}
//
// A client whose buffer fills is closed and pruned rather than blocking the
// fan-out. The upgrader accepts all origins. The server mounts the hub at /ws.
package ws
