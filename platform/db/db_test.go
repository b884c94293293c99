package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

type poolSettings struct {
	maxConns, minConns int32
	appName            string
}

func (p poolSettings) GetDatabaseURL() string     { return "postgres://crm@localhost:5432/crm" }
func (p poolSettings) GetDatabaseMaxConns() int32 { return p.maxConns }
func (p poolSettings) GetDatabaseMinConns() int32 { return p.minConns }
func (p poolSettings) GetDatabaseAppName() string { return p.appName }

func parsed(t *testing.T, cfg poolSettings) *pgxpool.Config {
	t.Helper()
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		t.Fatalf("expected the url to parse, got %v", err)
	}
	configurePool(poolConfig, cfg)
	return poolConfig
}

func TestConfigurePoolAppliesSettings(t *testing.T) {
	poolConfig := parsed(t, poolSettings{maxConns: 8, minConns: 1, appName: "crm-scheduler"})
	if poolConfig.MaxConns != 8 || poolConfig.MinConns != 1 {
		t.Fatalf("expected 8/1 connections, got %d/%d", poolConfig.MaxConns, poolConfig.MinConns)
	}
	if got := poolConfig.ConnConfig.RuntimeParams["application_name"]; got != "crm-scheduler" {
		t.Fatalf("expected application_name crm-scheduler, got %q", got)
	}
}

func TestConfigurePoolFallsBackAndClamps(t *testing.T) {
	poolConfig := parsed(t, poolSettings{maxConns: 0, minConns: -1})
	if poolConfig.MaxConns != defaultMaxConns || poolConfig.MinConns != defaultMinConns {
		t.Fatalf("expected defaults, got %d/%d", poolConfig.MaxConns, poolConfig.MinConns)
	}

	poolConfig = parsed(t, poolSettings{maxConns: 3, minConns: 10})
	if poolConfig.MinConns != 3 {
		t.Fatalf("expected idle floor clamped to the cap, got %d", poolConfig.MinConns)
	}
}
