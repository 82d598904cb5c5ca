// Package webhook delivers batches to HTTP endpoints.
//
// Each configured webhook becomes a Hook registered with the broadcast
// Registry like any streaming observer. The hook POSTs the exact batch bytes
// with Content-Type: application/json and closes itself after repeated
// failures, at which point the fan-out prunes it.
package webhook
