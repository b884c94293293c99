package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"travel_crm_backend/internal/bootstrap"
	"travel_crm_backend/internal/events"
	followupshandler "travel_crm_backend/internal/followups/handler"
	apphttp "travel_crm_backend/internal/http"
	"travel_crm_backend/internal/http/router"
	"travel_crm_backend/internal/notification/sse"
	"travel_crm_backend/internal/scheduler"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"
	"travel_crm_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		panic("failed to open store: " + err.Error())
	}
	defer store.Close()
	log.Info("store ready", "driver", cfg.GetStoreDriver())

	eventBus := events.NewInMemoryBus(log)

	services, err := bootstrap.NewServices(cfg, store, eventBus, log)
	if err != nil {
		log.Error("failed to initialize follow-up services", "error", err)
		panic("failed to initialize follow-up services: " + err.Error())
	}

	stream := sse.New(log)
	stream.SubscribeTo(eventBus)

	deps := followupshandler.Deps{
		Engine:    services.Engine,
		Runner:    services.Runner,
		Scores:    services.Scores,
		Stream:    stream,
		Validator: validator.New(),
		Logger:    log,
	}
	if taskClient := initTaskClient(cfg, log); taskClient != nil {
		defer func() { _ = taskClient.Close() }()
		deps.Queue = taskClient
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   store,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			followupshandler.NewModule(followupshandler.New(deps)),
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initTaskClient(cfg config.SchedulerConfig, log *logger.Logger) *scheduler.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; lead events run inline")
		return nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client; lead events run inline", "error", err)
		return nil
	}
	return client
}
