package scheduler

import (
	"context"
	"time"

	"travel_crm_backend/platform/logger"
)

const defaultLocalInterval = 15 * time.Minute

// LocalLoop runs the follow-up pass on an in-process ticker. It is the
// scheduler for single-node installs without Redis.
type LocalLoop struct {
	runner   FollowUpRunner
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time
}

func NewLocalLoop(runner FollowUpRunner, log *logger.Logger, interval time.Duration) *LocalLoop {
	if interval <= 0 {
		interval = defaultLocalInterval
	}
	return &LocalLoop{runner: runner, log: log, interval: interval, now: time.Now}
}

// Run performs a pass immediately and then on every tick until ctx is done.
// Passes never overlap: a slow pass delays the next tick.
func (l *LocalLoop) Run(ctx context.Context) {
	if l == nil || l.runner == nil {
		return
	}

	l.runOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *LocalLoop) runOnce(ctx context.Context) {
	if _, err := l.runner.RunOnce(ctx, l.now()); err != nil && ctx.Err() == nil {
		l.log.Warn("follow-up pass failed", "error", err)
	}
}
