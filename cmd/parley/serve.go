package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/agent/providers"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/objectstore"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/reaper"
	"github.com/parleyhq/parley/internal/records"
	"github.com/parleyhq/parley/internal/server"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/usage"
)

const shutdownTimeout = 15 * time.Second

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Parley API server",
		Long: `Start the Parley API server.

The server will:
1. Load configuration from the specified file (or environment)
2. Open the configured storage backends
3. Register the tool catalog and start the agent loop
4. Serve the chat API over HTTP, SSE, and WebSocket

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  parley serve

  # Start with custom config
  parley serve --config /etc/parley/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("PARLEY_CONFIG")
			}
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := parseLogLevel(cfg.LogLevel)
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage backends.
	var (
		sessionStore sessions.Store
		ledger       usage.Ledger
		recordStore  records.Store
		sweeper      reaper.Sweeper
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		sqliteSessions, err := sessions.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "sessions.db"))
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		sessionStore = sqliteSessions
		sweeper = sqliteSessions

		ledger, err = usage.NewSQLiteLedger(filepath.Join(cfg.Storage.DataDir, "usage.db"))
		if err != nil {
			return fmt.Errorf("open usage ledger: %w", err)
		}
		recordStore, err = records.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "records.db"))
		if err != nil {
			return fmt.Errorf("open record store: %w", err)
		}
	default:
		sessionStore = sessions.NewMemoryStore()
		ledger = usage.NewMemoryLedger()
		recordStore = records.NewMemoryStore()
	}
	defer sessionStore.Close()
	defer ledger.Close()
	defer recordStore.Close()

	if cfg.Storage.SessionCacheTTL > 0 {
		sessionStore = sessions.NewCachedStore(sessionStore, cfg.Storage.SessionCacheTTL)
	}

	var objects objectstore.Store
	if cfg.S3.Bucket != "" {
		objects, err = objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("open object store: %w", err)
		}
		logger.Info("object store", "backend", "s3", "bucket", cfg.S3.Bucket)
	} else {
		objects = objectstore.NewMemoryStore()
		logger.Info("object store", "backend", "memory")
	}
	defer objects.Close()

	// Tool catalog and agent loop.
	logs := tools.NewLogBuffer(tools.DefaultLogCapacity)
	registry := agent.NewToolRegistry()
	if err := tools.RegisterAll(registry, tools.Deps{
		Objects: objects,
		Records: recordStore,
		Logs:    logs,
		Logger:  logger,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.Anthropic.APIKey,
		BaseURL:      cfg.Anthropic.BaseURL,
		DefaultModel: cfg.Anthropic.Model,
	})
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}
	loop := agent.NewLoop(provider, registry, nil, logger)

	authSvc := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		AdminGroup:  cfg.Auth.AdminGroup,
		DevMode:     cfg.Auth.DevMode,
	}, logger)
	if cfg.Auth.DevMode {
		logger.Warn("dev mode enabled, requests without credentials get a synthetic identity")
	}

	pricing := usage.DefaultPricing
	if len(cfg.Pricing) > 0 {
		overrides := make(map[string]usage.ModelRate, len(cfg.Pricing))
		for model, rate := range cfg.Pricing {
			overrides[model] = usage.ModelRate{
				InputPer1K:  rate.InputPer1K,
				OutputPer1K: rate.OutputPer1K,
			}
		}
		pricing = usage.NewPricing(overrides)
	}

	srv := server.New(server.Options{
		Auth:         authSvc,
		Loop:         loop,
		Registry:     registry,
		Provider:     provider,
		Sessions:     sessionStore,
		Objects:      objects,
		Ledger:       ledger,
		Limiter:      ratelimit.NewLimiter(ledger, logger),
		Metrics:      metrics.New(),
		Logs:         logs,
		Logger:       logger,
		Pricing:      pricing,
		DefaultModel: cfg.Anthropic.Model,
	})

	// Retention sweeps only apply to durable storage.
	if sweeper != nil {
		r := reaper.New(sweeper, reaper.Config{
			Schedule:   cfg.Reaper.Schedule,
			SessionTTL: time.Duration(cfg.Reaper.SessionTTLDays) * 24 * time.Hour,
		}, logger)
		if err := r.Start(); err != nil {
			return fmt.Errorf("start reaper: %w", err)
		}
		defer r.Stop()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
