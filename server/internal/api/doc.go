// Package api implements the read-only HTTP query interface.
//
// New(deps) returns an http.Handler that serves:
//
//	GET /healthz                 {"ok": true, "ttl": <seconds>}
//	GET /snapshot                active set, recent expirations and stats
//	GET /api/v1/snapshot         same as /snapshot
//	GET /api/v1/entities/{id}    one active RNTI; 404 if not active, 400 if id is not an integer
//	GET /api/v1/stats            table, fan-out and inbox counters
//	GET /metrics                 Prometheus text exposition (when deps.Metrics is set)
//
// Every JSON response carries Content-Type: application/json. Unknown paths
// return 404 and other methods 405, both with an {"error": ...} body.
package api
