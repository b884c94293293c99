package scheduler

import (
	"context"
	"fmt"
	"time"

	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Periodic registers the recurring tasks with an asynq scheduler. Every
// entry is enqueued as unique for its interval, so a backed-up queue holds
// at most one pending pass.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

// PeriodicEntry is one recurring task.
type PeriodicEntry struct {
	Task     *asynq.Task
	Interval time.Duration
}

// DefaultEntries returns the follow-up and scoring schedule from cfg.
func DefaultEntries(cfg config.SchedulerConfig) []PeriodicEntry {
	entries := []PeriodicEntry{{Task: NewFollowUpRunTask(), Interval: cfg.GetFollowUpInterval()}}
	if cfg.GetScoreRecalcInterval() > 0 {
		entries = append(entries, PeriodicEntry{Task: NewLeadScoreRecalcAllTask(), Interval: cfg.GetScoreRecalcInterval()})
	}
	return entries
}

func NewPeriodic(cfg config.SchedulerConfig, location *time.Location, entries []PeriodicEntry, log *logger.Logger) (*Periodic, error) {
	opt, err := redisOptFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: location,
		Logger:   asynqLogger{log: log},
	})
	queue := queueName(cfg)
	for _, entry := range entries {
		if entry.Interval <= 0 {
			return nil, fmt.Errorf("task %s: interval must be positive", entry.Task.Type())
		}
		spec := "@every " + entry.Interval.String()
		if _, err := scheduler.Register(spec, entry.Task, asynq.Queue(queue), asynq.Unique(entry.Interval), asynq.MaxRetry(0)); err != nil {
			return nil, fmt.Errorf("register %s: %w", entry.Task.Type(), err)
		}
		log.Info("periodic task registered", "task", entry.Task.Type(), "every", entry.Interval.String())
	}
	return &Periodic{scheduler: scheduler, log: log}, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (p *Periodic) Run(ctx context.Context) error {
	if err := p.scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
