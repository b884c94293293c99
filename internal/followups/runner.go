package followups

import (
	"context"
	"time"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
)

// RunReport describes one full follow-up pass.
type RunReport struct {
	RunID       uuid.UUID      `json:"runId"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
	StaleFailed int            `json:"staleFailed"`
	Evaluated   int            `json:"evaluated"`
	Created     int            `json:"created"`
	Requeued    int            `json:"requeued"`
	Dispatch    DispatchResult `json:"dispatch"`
	Errors      []string       `json:"errors,omitempty"`
	ArchiveKey  string         `json:"archiveKey,omitempty"`
}

// ReportArchiver stores run reports somewhere durable.
type ReportArchiver interface {
	Archive(ctx context.Context, report RunReport) (string, error)
}

// RunnerOptions tunes a full pass.
type RunnerOptions struct {
	BatchSize  int
	StaleAfter time.Duration
	Retry      RetryPolicy
}

// Runner chains stale-claim recovery, evaluation, re-queue and dispatch.
type Runner struct {
	engine     *Engine
	dispatcher *Dispatcher
	archiver   ReportArchiver
	bus        events.Bus
	log        *logger.Logger
	opts       RunnerOptions
}

// NewRunner creates a runner. archiver may be nil.
func NewRunner(engine *Engine, dispatcher *Dispatcher, archiver ReportArchiver, bus events.Bus, log *logger.Logger, opts RunnerOptions) *Runner {
	if bus == nil {
		bus = events.NopBus{}
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy(0)
	}
	return &Runner{engine: engine, dispatcher: dispatcher, archiver: archiver, bus: bus, log: log, opts: opts}
}

// RunOnce performs one pass at now. Step failures are recorded in the report
// and later steps still run; the returned error is only ctx's.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) (RunReport, error) {
	report := RunReport{RunID: uuid.New(), StartedAt: time.Now().UTC()}
	ctx = context.WithValue(ctx, logger.RunIDKey, report.RunID.String())
	log := r.log.WithContext(ctx)

	stale, err := r.engine.FailStaleSending(ctx, now, r.opts.StaleAfter)
	report.StaleFailed = stale
	if err != nil {
		report.Errors = append(report.Errors, "stale claims: "+err.Error())
	}

	eval, err := r.engine.EvaluateAll(ctx, now)
	report.Evaluated = eval.Evaluated
	report.Created = len(eval.Created)
	report.Errors = append(report.Errors, eval.Errors...)
	if err != nil {
		report.Errors = append(report.Errors, "evaluate: "+err.Error())
	}

	requeued, err := r.engine.RequeueFailed(ctx, now, r.opts.Retry)
	report.Requeued = requeued
	if err != nil {
		report.Errors = append(report.Errors, "requeue: "+err.Error())
	}

	dispatch, err := r.dispatcher.DispatchDue(ctx, now, r.opts.BatchSize)
	report.Dispatch = dispatch
	report.Errors = append(report.Errors, dispatch.Errors...)
	if err != nil {
		report.Errors = append(report.Errors, "dispatch: "+err.Error())
	}

	report.FinishedAt = time.Now().UTC()

	if r.archiver != nil {
		key, err := r.archiver.Archive(ctx, report)
		if err != nil {
			log.Warn("run report archive failed", "error", err)
		} else {
			report.ArchiveKey = key
		}
	}

	r.bus.Publish(ctx, events.FollowUpRunCompleted{
		BaseEvent: events.NewBaseEventAt(report.FinishedAt),
		RunID:     report.RunID,
		Created:   report.Created,
		Requeued:  report.Requeued,
		Sent:      dispatch.Sent,
		Failed:    dispatch.Failed,
		ErrorsLen: len(report.Errors),
	})
	log.Info("follow-up run finished",
		"evaluated", report.Evaluated,
		"created", report.Created,
		"requeued", report.Requeued,
		"sent", dispatch.Sent,
		"failed", dispatch.Failed,
		"errors", len(report.Errors),
		"durationMs", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, ctx.Err()
}
