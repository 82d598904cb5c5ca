// Package delta defines the unit of change that flows through rntiview.
//
// A Delta pairs a Kind (new | update | expire) with a Snapshot of one RNTI.
// Deltas are values: every actor that hands one on gives away a copy.
//
// Decode(data, format) is the validation boundary for inbound frames. JSON
// (WebSocket text frames, HTTP bodies) and CBOR (WebSocket binary frames,
// application/cbor bodies) carry the same object:
//
//	{"event": "new", "rnti": 17921, "t_seconds": 12.5, "cell_id": 1, ...}
//
// rnti and t_seconds are required. Anything missing or malformed is rejected
// so callers can treat the frame as "no delta".
//
// EncodeBatch produces the outbound payload delivered to observers:
//
//	{"type": "batch", "items": [{"event": "...", "snapshot": {...}}, ...]}
package delta
