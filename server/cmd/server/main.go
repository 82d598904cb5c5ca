package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	flag "github.com/spf13/pflag"

	"github.com/obsidianstack/rntiview/server/internal/api"
	"github.com/obsidianstack/rntiview/server/internal/auth"
	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/config"
	"github.com/obsidianstack/rntiview/server/internal/logging"
	"github.com/obsidianstack/rntiview/server/internal/metrics"
	"github.com/obsidianstack/rntiview/server/internal/pipeline"
	"github.com/obsidianstack/rntiview/server/internal/receiver"
	"github.com/obsidianstack/rntiview/server/internal/sse"
	"github.com/obsidianstack/rntiview/server/internal/store"
	"github.com/obsidianstack/rntiview/server/internal/subscriber"
	"github.com/obsidianstack/rntiview/server/internal/webhook"
	"github.com/obsidianstack/rntiview/server/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.StringP("config", "c", "", "path to config file; empty uses defaults and environment")
	logLevel := flag.String("log-level", "", "override log.level from the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("rntiview-server", version)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rntiview-server:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := logging.New(logOptions(cfg.Log))
	if err != nil {
		fmt.Fprintln(os.Stderr, "rntiview-server:", err)
		os.Exit(1)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	slog.Info("rntiview-server starting",
		"version", version,
		"config", *configPath,
		"addr", cfg.Server.Addr(),
		"auth_mode", cfg.Server.Auth.Mode,
		"ttl", cfg.State.TTL,
		"broadcast_interval", cfg.Broadcast.Interval,
		"upstream", cfg.Ingest.Upstream,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Log level follows the config file; other settings need a restart.
	if *configPath != "" && *logLevel == "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(c *config.Config) {
				if err := logger.SetLevel(c.Log.Level); err != nil {
					slog.Warn("config: reload ignored", "err", err)
				}
			})
			if err != nil {
				slog.Warn("config: watch disabled", "err", err)
			}
		}()
	}

	// Shared state and the broadcast path.
	table := store.New(cfg.State.TTL,
		store.WithExpiredCapacity(cfg.State.ExpiredBuffer),
		store.WithRecentLimit(cfg.State.ExpiredQueryLimit),
	)
	queue := broadcast.NewQueue()
	registry := broadcast.NewRegistry()
	fanout := broadcast.NewFanout(queue, registry, cfg.Broadcast.Interval)

	// Inbound transports all feed one inbox.
	inbox := receiver.NewInbox(cfg.Ingest.InboxSize)
	rcv := receiver.New(inbox, cfg.Ingest.MaxFrameBytes)
	if cfg.Ingest.Upstream != "" {
		sub := subscriber.New(cfg.Ingest.Upstream, upstreamHeader(cfg.Server.Auth), inbox, cfg.Ingest.MaxFrameBytes)
		go sub.Run(ctx)
	}

	ingest := pipeline.NewIngest(inbox, table, queue)
	sweeper := pipeline.NewSweeper(table, queue)

	wsHub := ws.New(registry, table, cfg.Broadcast.ObserverBuffer)
	go wsHub.Run(ctx)
	sseHub := sse.New(registry, table, cfg.Broadcast.ObserverBuffer)

	for _, wc := range cfg.Broadcast.Webhooks {
		url := wc.URL()
		if url == "" {
			slog.Warn("webhook: url not set, skipping", "name", wc.Name, "url_env", wc.URLEnv)
			continue
		}
		hook := webhook.New(wc.Name, url, wc.Timeout)
		registry.Connect(hook)
		go hook.Run(ctx)
	}

	guard := auth.Middleware(auth.Options{
		Mode:   cfg.Server.Auth.Mode,
		Header: cfg.Server.Auth.EffectiveHeader(),
		Key:    cfg.Server.Auth.Key(),
		Secret: cfg.Server.Auth.JWTSecret(),
	})

	metricsHandler := metrics.Handler(metrics.Sources{
		Table:   table,
		Fanout:  fanout,
		Inbox:   inbox,
		Sweeper: sweeper,
		Ingest:  ingest,
	})
	query := api.New(api.Deps{
		Table:   table,
		Fanout:  fanout,
		Inbox:   inbox,
		Metrics: metricsHandler,
	})

	mux := http.NewServeMux()
	mux.Handle("/", gzhttp.GzipHandler(query))
	mux.Handle("POST /api/v1/deltas", guard(http.HandlerFunc(rcv.HandleDeltas)))
	mux.Handle("/ws/ingest", guard(http.HandlerFunc(rcv.ServeWS)))
	mux.Handle("/ws", wsHub)
	mux.Handle("/events", sseHub)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived observer streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.Info("HTTP server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	if err := pipeline.Run(ctx, ingest, sweeper, fanout); err != nil {
		slog.Error("pipeline stopped", "err", err)
	}

	slog.Info("rntiview-server shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "err", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func logOptions(c config.LogConfig) logging.Options {
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// upstreamHeader forwards the server's own API key when subscribing, so a
// peer rntiview-server configured with the same key accepts the connection.
func upstreamHeader(a config.AuthConfig) http.Header {
	h := http.Header{}
	if a.Mode == auth.ModeAPIKey && a.Key() != "" {
		h.Set(a.EffectiveHeader(), a.Key())
	}
	return h
}
