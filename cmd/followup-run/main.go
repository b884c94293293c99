// Command followup-run performs one follow-up pass (stale recovery, rule
// evaluation, re-queue, dispatch) and prints the run report as JSON.
// It is meant for an external cron when the asynq scheduler is not deployed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"travel_crm_backend/internal/bootstrap"
	"travel_crm_backend/internal/events"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"
)

func main() {
	at := flag.String("at", "", "evaluate as of this RFC3339 time instead of now")
	flag.Parse()

	if err := run(*at); err != nil {
		fmt.Fprintln(os.Stderr, "followup-run:", err)
		os.Exit(1)
	}
}

func run(at string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	now := time.Now()
	if at != "" {
		now, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("parse -at: %w", err)
		}
	}

	log := logger.NewWithWriter(cfg.Env, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewInMemoryBus(log)
	services, err := bootstrap.NewServices(cfg, store, bus, log)
	if err != nil {
		return err
	}

	report, err := services.Runner.RunOnce(ctx, now)
	bus.Wait()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
