package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHost              = "0.0.0.0"
	DefaultHTTPPort          = 8088
	DefaultTTL               = 30 * time.Second
	DefaultExpiredBuffer     = 1024
	DefaultExpiredQueryLimit = 128
	DefaultBroadcastInterval = 500 * time.Millisecond
	DefaultObserverBuffer    = 16
	DefaultInboxSize         = 100000
	DefaultMaxFrameBytes     = 1 << 20
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// Config holds the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	State     StateConfig     `yaml:"state"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds listener and authentication settings.
type ServerConfig struct {
	// Host is the interface the HTTP server binds to (default 0.0.0.0).
	Host string `yaml:"host"`

	// HTTPPort serves the query API, observer streams and ingest endpoints
	// (default 8088).
	HTTPPort int `yaml:"http_port"`

	// Auth guards the ingest endpoints.
	Auth AuthConfig `yaml:"auth"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// AuthConfig controls producer authentication.
type AuthConfig struct {
	// Mode is one of: apikey | jwt | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the environment variable holding the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`

	// JWTSecretEnv is the environment variable holding the HS256 secret.
	// Used when Mode == "jwt".
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// JWTSecret returns the HS256 secret resolved from the environment.
func (a AuthConfig) JWTSecret() string {
	if a.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(a.JWTSecretEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StateConfig controls the state table.
type StateConfig struct {
	// TTL is how long an entry stays active after its last observation.
	TTL time.Duration `yaml:"ttl"`

	// ExpiredBuffer is the capacity of the recently-expired ring.
	ExpiredBuffer int `yaml:"expired_buffer"`

	// ExpiredQueryLimit is how many expired records a snapshot returns.
	ExpiredQueryLimit int `yaml:"expired_query_limit"`
}

// BroadcastConfig controls the observer fan-out.
type BroadcastConfig struct {
	// Interval is the batch cadence.
	Interval time.Duration `yaml:"interval"`

	// ObserverBuffer is the per-observer send buffer depth. An observer
	// that falls this many batches behind is pruned.
	ObserverBuffer int `yaml:"observer_buffer"`

	// Webhooks receive every batch as an HTTP POST.
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook observer.
type WebhookConfig struct {
	// Name identifies the webhook in logs and in the observer registry.
	Name string `yaml:"name"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// Timeout bounds one POST. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// IngestConfig controls the inbound transports.
type IngestConfig struct {
	// Upstream is a ws:// or wss:// publisher to subscribe to. Empty disables
	// the outbound subscription; producers can still push to the server.
	Upstream string `yaml:"upstream"`

	// InboxSize bounds buffered inbound frames; the oldest is evicted when full.
	InboxSize int `yaml:"inbox_size"`

	// MaxFrameBytes bounds one inbound frame or request body.
	MaxFrameBytes int64 `yaml:"max_frame_bytes"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`

	// File, when set, sends logs to a rotating file instead of stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults, then environment overrides are applied and the result is
// validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return finish(cfg)
}

// Default returns the default configuration with environment overrides
// applied, for running without a config file.
func Default() (*Config, error) {
	return finish(defaults())
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     DefaultHost,
			HTTPPort: DefaultHTTPPort,
		},
		State: StateConfig{
			TTL:               DefaultTTL,
			ExpiredBuffer:     DefaultExpiredBuffer,
			ExpiredQueryLimit: DefaultExpiredQueryLimit,
		},
		Broadcast: BroadcastConfig{
			Interval:       DefaultBroadcastInterval,
			ObserverBuffer: DefaultObserverBuffer,
		},
		Ingest: IngestConfig{
			InboxSize:     DefaultInboxSize,
			MaxFrameBytes: DefaultMaxFrameBytes,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// applyEnv overrides fields from the environment variables the viewer has
// always honoured.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("RNTI_TTL_SECONDS"); ok && v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RNTI_TTL_SECONDS %q: %w", v, err)
		}
		cfg.State.TTL = time.Duration(secs * float64(time.Second))
	}
	if v, ok := lookup("WS_BROADCAST_INTERVAL_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WS_BROADCAST_INTERVAL_MS %q: %w", v, err)
		}
		cfg.Broadcast.Interval = time.Duration(ms) * time.Millisecond
	}
	if v, ok := lookup("HOST"); ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		cfg.Server.HTTPPort = port
	}
	if v, ok := lookup("UPSTREAM_ENDPOINT"); ok && v != "" {
		cfg.Ingest.Upstream = v
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "jwt", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|jwt|none", cfg.Server.Auth.Mode)
	}
	if cfg.State.TTL <= 0 {
		return fmt.Errorf("state.ttl must be positive")
	}
	if cfg.State.ExpiredBuffer <= 0 {
		return fmt.Errorf("state.expired_buffer must be positive")
	}
	if cfg.State.ExpiredQueryLimit <= 0 {
		return fmt.Errorf("state.expired_query_limit must be positive")
	}
	if cfg.Broadcast.Interval <= 0 {
		return fmt.Errorf("broadcast.interval must be positive")
	}
	if cfg.Broadcast.ObserverBuffer <= 0 {
		return fmt.Errorf("broadcast.observer_buffer must be positive")
	}
	seen := make(map[string]bool, len(cfg.Broadcast.Webhooks))
	for i, wh := range cfg.Broadcast.Webhooks {
		if wh.Name == "" {
			return fmt.Errorf("broadcast.webhooks[%d]: name is required", i)
		}
		if seen[wh.Name] {
			return fmt.Errorf("broadcast.webhooks[%d]: duplicate name %q", i, wh.Name)
		}
		seen[wh.Name] = true
		if wh.URLEnv == "" {
			return fmt.Errorf("broadcast.webhooks[%d] %q: url_env is required", i, wh.Name)
		}
		if wh.Timeout < 0 {
			return fmt.Errorf("broadcast.webhooks[%d] %q: timeout must not be negative", i, wh.Name)
		}
	}
	if cfg.Ingest.InboxSize <= 0 {
		return fmt.Errorf("ingest.inbox_size must be positive")
	}
	if cfg.Ingest.MaxFrameBytes <= 0 {
		return fmt.Errorf("ingest.max_frame_bytes must be positive")
	}
	if u := cfg.Ingest.Upstream; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("ingest.upstream %q: want ws:// or wss://", u)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}
