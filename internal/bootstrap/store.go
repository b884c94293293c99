// Package bootstrap wires the follow-up services shared by the API, the
// scheduler and the one-shot commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/followups/repository"
	"travel_crm_backend/internal/followups/sqlitestore"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/db"
	"travel_crm_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is a follow-up store that can be health-checked and closed.
type Store interface {
	followups.Store
	Ping(ctx context.Context) error
	Close()
}

type postgresStore struct {
	*repository.Repository
	pool *pgxpool.Pool
}

func (s postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s postgresStore) Close()                         { s.pool.Close() }

type sqliteStore struct {
	*sqlitestore.Store
}

func (s sqliteStore) Close() { _ = s.Store.Close() }

// OpenStore connects to the configured driver and applies migrations.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (Store, error) {
	switch cfg.GetStoreDriver() {
	case DriverSQLite:
		store, err := sqlitestore.Open(ctx, cfg.GetSQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("using sqlite store", "path", cfg.GetSQLitePath())
		return sqliteStore{Store: store}, nil
	case DriverPostgres, "":
		var pool *pgxpool.Pool
		if err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
			p, err := db.NewPool(ctx, cfg)
			if err != nil {
				return err
			}
			pool = p
			return nil
		}); err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return postgresStore{Repository: repository.New(pool), pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.GetStoreDriver())
	}
}

// WithRetry runs fn up to attempts times with quadratic backoff.
func WithRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
