// Command fluentloop is the main entry point for the FluentLoop practice
// session server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluentloop/fluentloop/internal/app"
	"github.com/fluentloop/fluentloop/internal/config"
	"github.com/fluentloop/fluentloop/internal/health"
	"github.com/fluentloop/fluentloop/internal/httpserver"
	"github.com/fluentloop/fluentloop/internal/observe"
	"github.com/fluentloop/fluentloop/internal/quota"
	"github.com/fluentloop/fluentloop/internal/scoring"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fluentloop: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fluentloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("fluentloop starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fluentloop",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sdCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Quota store ───────────────────────────────────────────────────────────
	var store quota.Store
	var checkers []health.Checker
	if dsn := cfg.Quota.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to create postgres pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := quota.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare quota schema", "err", err)
			return 1
		}
		store = pg
		checkers = append(checkers, health.QuotaStoreChecker(pool))
		slog.Info("quota store ready", "backend", "postgres")
	} else {
		store = quota.NewMemoryStore()
		slog.Warn("quota store running in memory; usage resets on restart")
	}

	// ── Scoring client ────────────────────────────────────────────────────────
	scorer, err := scoring.New(cfg.Scoring.EndpointURL, cfg.Scoring.APIKey,
		scoring.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		slog.Error("failed to create scoring client", "err", err)
		return 1
	}
	checkers = append(checkers, health.ScoringEndpointChecker(nil, cfg.Scoring.EndpointURL))

	// ── Session manager ───────────────────────────────────────────────────────
	manager, err := app.NewManager(app.Deps{
		Store:                 store,
		Scorer:                scorer,
		Logger:                logger,
		Metrics:               observe.DefaultMetrics(),
		Session:               cfg.Session,
		DailyAllowanceSeconds: cfg.Quota.DailyAllowanceSeconds,
	})
	if err != nil {
		slog.Error("failed to initialise session manager", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	language := cfg.Session.Language
	if language == "" {
		language = "en-US"
	}
	server := httpserver.New(cfg.Server, language, manager, health.New(checkers...), logger)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
