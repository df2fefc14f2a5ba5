package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eurofxref/rates-api/internal/config"
	"github.com/eurofxref/rates-api/internal/feed/ecb"
	"github.com/eurofxref/rates-api/internal/platform/sqlite"
	"github.com/eurofxref/rates-api/internal/rates"
	raterepo "github.com/eurofxref/rates-api/internal/repository/rates"
	"github.com/eurofxref/rates-api/internal/scheduler"
	"github.com/eurofxref/rates-api/internal/server"
	ratesync "github.com/eurofxref/rates-api/internal/sync"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	interval, err := cfg.SyncInterval()
	if err != nil {
		slog.Error("invalid sync interval", "error", err)
		os.Exit(1)
	}
	closingDays, err := cfg.ClosingDays()
	if err != nil {
		slog.Error("invalid closing days", "error", err)
		os.Exit(1)
	}

	// Root context: cancelled on SIGINT/SIGTERM so in-flight feed fetches
	// stop promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Open database
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	repo := raterepo.NewRepository(db.DB)

	// Upstream feed client
	feedClient := ecb.New(
		ecb.WithClient(&http.Client{Timeout: time.Duration(cfg.Feed.TimeoutSeconds) * time.Second}),
		ecb.WithEndpoints(cfg.Feed.DailyURL, cfg.Feed.NinetyDayURL, cfg.Feed.HistoryURL),
		ecb.WithRateLimit(cfg.Feed.RequestsPerSecond),
	)

	// Services
	cal := ratesync.NewCalendar(closingDays)
	syncSvc := ratesync.NewService(feedClient, repo, cal, ratesync.WithWorkers(cfg.Sync.FetchWorkers))
	rateSvc := rates.NewService(repo, rates.WithReadiness(syncSvc.Ready))

	// Scheduler: runs a sync cycle immediately, then on every tick.
	sched := scheduler.New(syncSvc, interval)
	schedDone := make(chan struct{})
	go func() {
		if err := sched.Run(rootCtx); err != nil {
			slog.Error("scheduler stopped", "error", err)
		}
		close(schedDone)
	}()

	// HTTP server. rootCtx is used as BaseContext so every request context
	// inherits from it and is cancelled on shutdown.
	srv := server.New(rootCtx, cfg.Port, rateSvc, sched, syncSvc.Ready)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port, "sync_interval", interval.String())
	<-done

	// Cancel root context first so the scheduler and any in-flight sync
	// cycle begin winding down immediately.
	rootCancel()
	<-schedDone

	// Then drain connections with a deadline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
