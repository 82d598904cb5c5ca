// Package subscriber dials an upstream delta publisher over WebSocket and
// feeds its messages into the receiver Inbox.
//
// It is enabled by ingest.upstream (or UPSTREAM_ENDPOINT). Text messages are
// decoded as JSON and binary messages as CBOR, exactly as on /ws/ingest.
// Dial failures and dropped connections are retried with exponential backoff
// starting at 1s, doubling to a 60s cap, with ±25% jitter; a successful
// connection resets the backoff.
package subscriber
