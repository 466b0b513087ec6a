package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-revise/internal/api"
	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/dashboard"
	"github.com/p-n-ai/pai-revise/internal/platform/cache"
	"github.com/p-n-ai/pai-revise/internal/platform/config"
	"github.com/p-n-ai/pai-revise/internal/platform/database"
	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
	"github.com/p-n-ai/pai-revise/internal/revision"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := config.LoadDotEnv(os.Getenv("REVISE_ENV_FILE")); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Driver, "cache", cfg.CacheEnabled())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// app holds the wired HTTP handler and the resources to release on exit.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	bank, err := loadBank(cfg.QuestionBankPath)
	if err != nil {
		return nil, err
	}

	checks := map[string]api.Checker{}

	store, events, err := openStore(ctx, cfg, a, checks)
	if err != nil {
		a.Close()
		return nil, err
	}
	checks["store"] = store.Ping

	dashCfg := dashboard.Config{Store: store, TTL: cfg.DashboardCacheTTL()}
	if cfg.CacheEnabled() {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			// The dashboard works without the cache; readiness reports it.
			slog.Warn("cache unavailable, dashboard caching disabled", "error", err)
			checks["cache"] = func(context.Context) error { return err }
		} else {
			a.closers = append(a.closers, func() { _ = c.Close() })
			checks["cache"] = c.HealthCheck
			dashCfg.Cache = c
		}
	}
	agg := dashboard.NewAggregator(dashCfg)

	mode, err := revision.ParseResumeMode(cfg.ResumeMode)
	if err != nil {
		a.Close()
		return nil, err
	}
	engine := revision.NewEngine(revision.EngineConfig{
		Bank:       bank,
		Store:      store,
		Events:     events,
		Listener:   agg,
		ResumeMode: mode,
	})

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.handler = api.NewRouter(api.Deps{
		Bank:        bank,
		Store:       store,
		Engine:      engine,
		Dashboard:   agg,
		Verifier:    verifier,
		Checks:      checks,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	return a, nil
}

func loadBank(path string) (*questionbank.Bank, error) {
	if path == "" {
		return questionbank.Default()
	}
	bank, err := questionbank.Load(os.DirFS(path))
	if err != nil {
		return nil, fmt.Errorf("loading question bank from %s: %w", path, err)
	}
	return bank, nil
}

// openStore opens the configured progress store. Close functions are
// registered on a and extra readiness checks on checks.
func openStore(ctx context.Context, cfg *config.Config, a *app, checks map[string]api.Checker) (progress.Store, revision.EventLogger, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.New(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		checks["database"] = db.HealthCheck
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, nil, err
			}
		}
		store, err := progress.NewPostgresStore(db.Pool)
		if err != nil {
			return nil, nil, err
		}
		return store, revision.NewPostgresEventLogger(db.Pool), nil

	case config.DriverSQLite:
		store, err := progress.NewSQLiteStore(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, revision.NopEventLogger{}, nil

	default:
		slog.Warn("using in-memory store, progress is lost on restart")
		return progress.NewMemoryStore(), revision.NopEventLogger{}, nil
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
