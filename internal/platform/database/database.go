// Package database manages the PostgreSQL pool behind the progress store and
// its schema migrations.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	healthTimeout          = 2 * time.Second
)

// Options configures the connection pool.
type Options struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration // default 30m
	MaxConnIdleTime time.Duration // default 5m
}

// DB wraps a pgx connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// ParseURL validates a PostgreSQL connection URL.
func ParseURL(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	return cfg, nil
}

// poolConfig turns opts into a pgxpool config with defaults applied.
func poolConfig(opts Options) (*pgxpool.Config, error) {
	cfg, err := ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.MinConns > opts.MaxConns && opts.MaxConns > 0 {
		return nil, fmt.Errorf("min conns %d exceeds max conns %d", opts.MinConns, opts.MaxConns)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	cfg.MinConns = int32(opts.MinConns)

	cfg.MaxConnLifetime = opts.MaxConnLifetime
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = defaultMaxConnLifetime
	}
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	return cfg, nil
}

// New opens the pool and verifies it with a ping.
func New(ctx context.Context, opts Options) (*DB, error) {
	cfg, err := poolConfig(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	slog.Info("database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
	)
	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// HealthCheck pings the database, bounded by a short timeout.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}
