// Package auth provides the HTTP middleware that guards the ingest
// endpoints (POST /api/v1/deltas and /ws/ingest).
//
// Middleware(opts) wraps a handler. Three modes are supported:
//
//	none     every request passes
//	apikey   the configured header must equal the key from server.auth.key_env
//	jwt      an HS256 bearer token signed with server.auth.jwt_secret_env
//
// An unset credential disables the check, so a missing environment variable
// never locks producers out silently in development; the server logs a
// warning at startup instead. Query and observer routes are not guarded.
package auth
