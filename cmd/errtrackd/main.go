// CLAUDE:SUMMARY Entry point for the errtrackd dev collector — chi router, sqlite store, retention loop, graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/errtrack/dbopen"
	"github.com/hazyhaar/errtrack/ingest"
)

// collectorConfig is the optional YAML config for errtrackd. Environment
// variables override nothing here; the file is for deployments that prefer
// a single config artifact, env vars for the rest.
type collectorConfig struct {
	Addr          string `yaml:"addr"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

func (c *collectorConfig) defaults() {
	if c.Addr == "" {
		c.Addr = ":" + env("PORT", "8090")
	}
	if c.DBPath == "" {
		c.DBPath = env("ERRORS_DB", "db/errors.db")
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
}

func main() {
	logLevel := env("LOG_LEVEL", "info")
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg := &collectorConfig{}
	if path := env("CONFIG", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("read config", "error", err, "path", path)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("parse config", "error", err, "path", path)
			os.Exit(1)
		}
	}
	cfg.defaults()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(ingest.Schema))
	if err != nil {
		slog.Error("errors db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := ingest.NewStore(db)
	defer store.Close()

	// Daily retention sweep; the first pass runs at startup.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := store.Cleanup(ctx, cfg.RetentionDays); err != nil {
				slog.Warn("retention cleanup", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/api/errors", ingest.Handler(store))
	r.Get("/api/errors/recent", ingest.RecentHandler(store))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("collector starting", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("collector stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
