package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"travel_crm_backend/internal/bootstrap"
	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/leads/scoring"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"
)

func main() {
	batchSize := flag.Int("batch", 200, "leads per page")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting lead score backfill", "batchSize", *batchSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		panic("failed to open store: " + err.Error())
	}
	defer store.Close()

	scorer := scoring.New(store, events.NopBus{}, log)
	summary, err := scorer.RecalculateAll(ctx, *batchSize)
	if err != nil {
		log.Error("lead score backfill aborted", "scanned", summary.Scanned, "updated", summary.Updated, "error", err)
		os.Exit(1)
	}

	for _, msg := range summary.Errors {
		log.Warn("lead score backfill skipped lead", "error", msg)
	}
	log.Info("lead score backfill completed", "scanned", summary.Scanned, "updated", summary.Updated, "failed", len(summary.Errors))
}
