// Package pipeline runs the actors that keep the state table current.
//
// Ingest pulls one decoded delta at a time from a Source, upserts it into the
// table and forwards it to a Sink. Sweeper evicts stale entries every ttl/4
// and forwards an expire delta for each eviction. Run starts both together
// with the broadcast fan-out and stops them all when the context ends.
//
// The actors share nothing but the table and the sink; neither lock is held
// across a call into the other.
package pipeline
