// Package sqlitestore is a single-file SQLite implementation of the follow-up
// store for single-node deployments and local development.
//
// Timestamps are stored as fixed-width UTC text so that string comparison in
// SQL matches time order.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"travel_crm_backend/internal/followups"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	timeLayout       = "2006-01-02T15:04:05.000000000Z"
	dateLayout       = "2006-01-02"
	defaultListLimit = 500
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"
)

// Store is the SQLite follow-up store for single-node installs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ followups.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// An in-memory database lives on exactly one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("init sqlite migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply sqlite migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(dateLayout)
	return &v
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseNullDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// placeholders returns "?, ?, ?" for n values and appends them to args.
func placeholders[T any](args []any, values []T) (string, []any) {
	out := make([]byte, 0, len(values)*3)
	for i, v := range values {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
		args = append(args, v)
	}
	return string(out), args
}
