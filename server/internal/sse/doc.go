// Package sse serves broadcast observers as Server-Sent Events streams.
//
// It carries the same payloads as the WebSocket transport for clients that
// cannot upgrade: one "snapshot" event on connect, then one "batch" event per
// fan-out tick. Each event has a monotonically increasing id. A comment line
// is written every heartbeat interval so idle proxies keep the stream open.
package sse
