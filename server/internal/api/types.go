package api

import (
	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/receiver"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

// HealthResponse is the payload for GET /healthz.
type HealthResponse struct {
	OK  bool    `json:"ok"`
	TTL float64 `json:"ttl"` // seconds
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Table     store.Stats          `json:"table"`
	Broadcast *broadcast.Stats     `json:"broadcast,omitempty"`
	Inbox     *receiver.InboxStats `json:"inbox,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
