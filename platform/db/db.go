// Package db opens the PostgreSQL pool behind the follow-up repository.
package db

import (
	"context"
	"fmt"
	"time"

	"travel_crm_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 16
	defaultMinConns = 2
)

// NewPool parses the database URL, sizes the pool from cfg and pings once
// before handing it out.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	configurePool(poolConfig, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func configurePool(poolConfig *pgxpool.Config, cfg config.DatabaseConfig) {
	maxConns := cfg.GetDatabaseMaxConns()
	if maxConns < 1 {
		maxConns = defaultMaxConns
	}
	minConns := cfg.GetDatabaseMinConns()
	if minConns < 0 {
		minConns = defaultMinConns
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = min(minConns, maxConns)

	// Dispatch and maintenance run as short bursts; idle connections are
	// recycled rather than held through the quiet minutes between ticks.
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	if name := cfg.GetDatabaseAppName(); name != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = name
	}
}
