// Package config loads the server configuration from a YAML file.
//
// Sections and defaults:
//   - server.host, server.http_port     listen address (0.0.0.0:8088)
//   - server.auth                       ingest auth: mode apikey|jwt|none, key_env, header, jwt_secret_env
//   - state.ttl                         entry time-to-live (30s)
//   - state.expired_buffer              recently-expired ring capacity (1024)
//   - state.expired_query_limit         expired records per snapshot (128)
//   - broadcast.interval                batch cadence (500ms)
//   - broadcast.observer_buffer         per-observer send buffer (16)
//   - ingest.upstream                   ws:// publisher to subscribe to (disabled)
//   - ingest.inbox_size                 inbound high-water mark (100000)
//   - ingest.max_frame_bytes            frame and body limit (1 MiB)
//   - log.level, log.format, log.file   logging; file output rotates
//
// RNTI_TTL_SECONDS, WS_BROADCAST_INTERVAL_MS, HOST, PORT and
// UPSTREAM_ENDPOINT override the file when set.
//
// Load(path) applies defaults before unmarshalling, then env overrides, then
// validates. Default() does the same without a file. Watch(ctx, path, fn)
// reloads on change.
package config
