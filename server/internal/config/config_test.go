package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

// clearEnv blanks the override variables so the host environment does not
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RNTI_TTL_SECONDS", "WS_BROADCAST_INTERVAL_MS", "HOST", "PORT", "UPSTREAM_ENDPOINT"} {
		t.Setenv(k, "")
	}
}

// noEnv is a lookup that reports every variable unset.
func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "log:\n  level: info\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("host: got %q, want %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.State.TTL != DefaultTTL {
		t.Errorf("state.ttl: got %v, want %v", cfg.State.TTL, DefaultTTL)
	}
	if cfg.State.ExpiredBuffer != 1024 || cfg.State.ExpiredQueryLimit != 128 {
		t.Errorf("expired: got %d/%d, want 1024/128", cfg.State.ExpiredBuffer, cfg.State.ExpiredQueryLimit)
	}
	if cfg.Broadcast.Interval != 500*time.Millisecond {
		t.Errorf("broadcast.interval: got %v, want 500ms", cfg.Broadcast.Interval)
	}
	if cfg.Ingest.InboxSize != 100000 {
		t.Errorf("ingest.inbox_size: got %d, want 100000", cfg.Ingest.InboxSize)
	}
}

func TestLoad_Full(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `server:
  host: 127.0.0.1
  http_port: 9091
  auth:
    mode: jwt
    jwt_secret_env: MY_SECRET
state:
  ttl: 10s
  expired_buffer: 64
  expired_query_limit: 8
broadcast:
  interval: 250ms
  observer_buffer: 4
  webhooks:
    - name: archive
      url_env: ARCHIVE_URL
      timeout: 2s
ingest:
  upstream: ws://sniffer:5557/deltas
  inbox_size: 10
  max_frame_bytes: 2048
log:
  level: debug
  format: text
  file: /var/log/rntiview.log
  compress: true
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Server.Addr(); got != "127.0.0.1:9091" {
		t.Errorf("Addr: got %q, want 127.0.0.1:9091", got)
	}
	if cfg.Server.Auth.Mode != "jwt" {
		t.Errorf("auth.mode: got %q, want jwt", cfg.Server.Auth.Mode)
	}
	if cfg.State.TTL != 10*time.Second {
		t.Errorf("state.ttl: got %v, want 10s", cfg.State.TTL)
	}
	if cfg.State.ExpiredBuffer != 64 || cfg.State.ExpiredQueryLimit != 8 {
		t.Errorf("expired: got %d/%d, want 64/8", cfg.State.ExpiredBuffer, cfg.State.ExpiredQueryLimit)
	}
	if cfg.Broadcast.Interval != 250*time.Millisecond || cfg.Broadcast.ObserverBuffer != 4 {
		t.Errorf("broadcast: got %+v", cfg.Broadcast)
	}
	if len(cfg.Broadcast.Webhooks) != 1 {
		t.Fatalf("webhooks: got %d, want 1", len(cfg.Broadcast.Webhooks))
	}
	t.Setenv("ARCHIVE_URL", "http://archive:9000/batches")
	if wh := cfg.Broadcast.Webhooks[0]; wh.Name != "archive" || wh.URL() != "http://archive:9000/batches" || wh.Timeout != 2*time.Second {
		t.Errorf("webhook: got %+v url=%q", wh, wh.URL())
	}
	if cfg.Ingest.Upstream != "ws://sniffer:5557/deltas" || cfg.Ingest.InboxSize != 10 || cfg.Ingest.MaxFrameBytes != 2048 {
		t.Errorf("ingest: got %+v", cfg.Ingest)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" || !cfg.Log.Compress {
		t.Errorf("log: got %+v", cfg.Log)
	}
	if cfg.Log.MaxBackups != 3 {
		t.Errorf("log.max_backups default: got %d, want 3", cfg.Log.MaxBackups)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestAuth_SecretResolution(t *testing.T) {
	t.Setenv("RNTIVIEW_TEST_KEY", "k-123")
	t.Setenv("RNTIVIEW_TEST_JWT", "j-456")
	a := AuthConfig{KeyEnv: "RNTIVIEW_TEST_KEY", JWTSecretEnv: "RNTIVIEW_TEST_JWT"}
	if a.Key() != "k-123" {
		t.Errorf("Key: got %q, want k-123", a.Key())
	}
	if a.JWTSecret() != "j-456" {
		t.Errorf("JWTSecret: got %q, want j-456", a.JWTSecret())
	}
	if (AuthConfig{}).Key() != "" {
		t.Error("Key with no env name: want empty")
	}
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"auth mode", "server:\n  auth:\n    mode: mtls\n", "server.auth.mode"},
		{"port", "server:\n  http_port: 70000\n", "server.http_port"},
		{"ttl", "state:\n  ttl: 0s\n", "state.ttl"},
		{"interval", "broadcast:\n  interval: -1s\n", "broadcast.interval"},
		{"webhook name", "broadcast:\n  webhooks:\n    - url_env: U\n", "name is required"},
		{"webhook url_env", "broadcast:\n  webhooks:\n    - name: a\n", "url_env is required"},
		{"webhook duplicate", "broadcast:\n  webhooks:\n    - {name: a, url_env: U}\n    - {name: a, url_env: V}\n", "duplicate name"},
		{"upstream scheme", "ingest:\n  upstream: tcp://127.0.0.1:5557\n", "ingest.upstream"},
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
		{"yaml", "state: [\n", "parse yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error: got %q, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := defaults()
	err := applyEnv(cfg, envMap(map[string]string{
		"RNTI_TTL_SECONDS":         "2.5",
		"WS_BROADCAST_INTERVAL_MS": "100",
		"HOST":                     "10.0.0.1",
		"PORT":                     "9000",
		"UPSTREAM_ENDPOINT":        "ws://pub:5557",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.State.TTL != 2500*time.Millisecond {
		t.Errorf("ttl: got %v, want 2.5s", cfg.State.TTL)
	}
	if cfg.Broadcast.Interval != 100*time.Millisecond {
		t.Errorf("interval: got %v, want 100ms", cfg.Broadcast.Interval)
	}
	if cfg.Server.Addr() != "10.0.0.1:9000" {
		t.Errorf("addr: got %q", cfg.Server.Addr())
	}
	if cfg.Ingest.Upstream != "ws://pub:5557" {
		t.Errorf("upstream: got %q", cfg.Ingest.Upstream)
	}
}

func TestApplyEnv_NoneSet(t *testing.T) {
	cfg := defaults()
	if err := applyEnv(cfg, noEnv); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.State.TTL != DefaultTTL {
		t.Errorf("ttl: got %v, want default", cfg.State.TTL)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	for _, key := range []string{"RNTI_TTL_SECONDS", "WS_BROADCAST_INTERVAL_MS", "PORT"} {
		err := applyEnv(defaults(), envMap(map[string]string{key: "abc"}))
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=abc: got %v, want error naming it", key, err)
		}
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("RNTI_TTL_SECONDS", "7")
	p := writeConfig(t, "state:\n  ttl: 60s\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.TTL != 7*time.Second {
		t.Errorf("ttl: got %v, want 7s", cfg.State.TTL)
	}
}

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(p, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case c := <-got:
		if c.Log.Level != "debug" {
			t.Errorf("reloaded level: got %q, want debug", c.Log.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatch_InvalidReloadKeepsPrevious(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(p, []byte("log:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case c := <-got:
		t.Errorf("onChange called with %+v, want no call", c.Log)
	case <-time.After(400 * time.Millisecond):
	}
}
