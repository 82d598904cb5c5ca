// Package receiver is the inbound transport boundary.
//
// Producers deliver deltas three ways, all ending in the same Inbox:
//
//	POST /api/v1/deltas   one JSON object, newline-delimited objects, or one CBOR object
//	GET  /ws/ingest       WebSocket; text messages are JSON, binary messages are CBOR
//	subscriber package    outbound dial to an upstream publisher using Pump
//
// The Inbox is bounded (default 100000 frames) and evicts the oldest frame
// when full so a slow consumer never blocks a producer. Raw frames are
// decoded by Inbox.Next; a frame that fails to decode is counted and
// skipped, and the ingest loop never sees an error for it. HTTP bodies are
// decoded up front so the caller gets a 400 for a bad payload.
package receiver
