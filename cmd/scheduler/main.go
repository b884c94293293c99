package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"travel_crm_backend/internal/bootstrap"
	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/scheduler"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

const runLockKey = "followups:run:lock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "interval", cfg.GetFollowUpInterval().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		panic("failed to open store: " + err.Error())
	}
	defer store.Close()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	services, err := bootstrap.NewServices(cfg, store, eventBus, log)
	if err != nil {
		log.Error("failed to initialize follow-up services", "error", err)
		panic("failed to initialize follow-up services: " + err.Error())
	}

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; running follow-up passes in-process")
		scheduler.NewLocalLoop(services.Runner, log, cfg.GetFollowUpInterval()).Run(ctx)
		return
	}

	rdb, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	worker, err := scheduler.NewWorker(cfg, scheduler.Handlers{
		FollowUps:      services.Engine,
		Runner:         services.Runner,
		Scores:         services.Scores,
		Lock:           scheduler.NewRunLock(rdb, runLockKey, cfg.GetFollowUpInterval()),
		ScoreBatchSize: cfg.GetFollowUpBatchSize(),
	}, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	periodic, err := scheduler.NewPeriodic(cfg, cfg.GetFollowUpLocation(), scheduler.DefaultEntries(cfg), log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return periodic.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
	}
	log.Info("scheduler stopped")
}
