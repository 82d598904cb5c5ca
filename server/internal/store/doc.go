// Package store holds the authoritative in-memory table of active RNTIs.
//
// Table exposes four core operations, each a single critical section:
//
//	Upsert(delta)            insert or refresh; returns new|update and the stored copy
//	ExpireDue(now)           ids whose last_seen is at least TTL behind now (read-only)
//	MarkExpired(id, when)    evict one id into the recently-expired ring; idempotent
//	Snapshot()               copies of the active set, recent expirations and stats
//
// ExpireDue and MarkExpired are split so a sweeper can decide what is stale
// without holding the lock while it publishes expiry notifications.
//
// The recently-expired ring has a fixed capacity (default 1024); the oldest
// record is dropped when it is full. Snapshot returns the newest 128.
package store
