package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/scoring"
	"travel_crm_backend/platform/apperr"
	"travel_crm_backend/platform/config"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// FollowUpHandler reacts to lead events.
type FollowUpHandler interface {
	HandleStageChange(ctx context.Context, leadID uuid.UUID, now time.Time) (followups.EvaluationResult, error)
	HandleInboundMessage(ctx context.Context, leadID uuid.UUID, at time.Time) (int, error)
	HandleContactUpdated(ctx context.Context, leadID uuid.UUID, now time.Time) (int, error)
}

// FollowUpRunner performs a full periodic pass.
type FollowUpRunner interface {
	RunOnce(ctx context.Context, now time.Time) (followups.RunReport, error)
}

// ScoreService recalculates lead scores.
type ScoreService interface {
	Recalculate(ctx context.Context, leadID uuid.UUID) (*scoring.Result, error)
	RecalculateAll(ctx context.Context, batchSize int) (scoring.BatchSummary, error)
}

// Locker guards the periodic pass against overlap.
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// Handlers bundles what the worker dispatches to.
type Handlers struct {
	FollowUps      FollowUpHandler
	Runner         FollowUpRunner
	Scores         ScoreService
	Lock           Locker
	ScoreBatchSize int
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	handlers Handlers
	log      *logger.Logger
	now      func() time.Time
}

func NewWorker(cfg config.SchedulerConfig, handlers Handlers, log *logger.Logger) (*Worker, error) {
	opt, err := redisOptFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		Logger: asynqLogger{log: log},
	})

	w := newWorker(handlers, log)
	w.server = server
	return w, nil
}

func newWorker(handlers Handlers, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{mux: mux, handlers: handlers, log: log, now: time.Now}

	mux.HandleFunc(TaskFollowUpRun, w.handleFollowUpRun)
	mux.HandleFunc(TaskFollowUpStageChanged, w.handleStageChanged)
	mux.HandleFunc(TaskFollowUpInboundMessage, w.handleInboundMessage)
	mux.HandleFunc(TaskFollowUpContactUpdated, w.handleContactUpdated)
	mux.HandleFunc(TaskLeadScoreRecalculate, w.handleScoreRecalculate)
	mux.HandleFunc(TaskLeadScoreRecalcAll, w.handleScoreRecalcAll)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleFollowUpRun(ctx context.Context, _ *asynq.Task) error {
	if w.handlers.Lock != nil {
		release, err := w.handlers.Lock.Acquire(ctx)
		if errors.Is(err, ErrLockHeld) {
			w.log.Info("follow-up run skipped, previous run still active")
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire run lock: %w", err)
		}
		defer release()
	}

	// RunOnce only errors on cancellation; step failures are in the report.
	_, err := w.handlers.Runner.RunOnce(ctx, w.now())
	return err
}

func (w *Worker) handleStageChanged(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseStageChangedPayload(task)
	if err != nil {
		return skip(err)
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return skip(err)
	}
	_, err = w.handlers.FollowUps.HandleStageChange(ctx, leadID, w.now())
	return dropNotFound(err)
}

func (w *Worker) handleInboundMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseInboundMessagePayload(task)
	if err != nil {
		return skip(err)
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return skip(err)
	}
	at := payload.ReceivedAt
	if at.IsZero() {
		at = w.now()
	}
	_, err = w.handlers.FollowUps.HandleInboundMessage(ctx, leadID, at)
	return dropNotFound(err)
}

func (w *Worker) handleContactUpdated(ctx context.Context, task *asynq.Task) error {
	leadID, err := parseLeadID(task)
	if err != nil {
		return skip(err)
	}
	_, err = w.handlers.FollowUps.HandleContactUpdated(ctx, leadID, w.now())
	return dropNotFound(err)
}

func (w *Worker) handleScoreRecalculate(ctx context.Context, task *asynq.Task) error {
	leadID, err := parseLeadID(task)
	if err != nil {
		return skip(err)
	}
	_, err = w.handlers.Scores.Recalculate(ctx, leadID)
	return dropNotFound(err)
}

func (w *Worker) handleScoreRecalcAll(ctx context.Context, _ *asynq.Task) error {
	summary, err := w.handlers.Scores.RecalculateAll(ctx, w.handlers.ScoreBatchSize)
	if err != nil {
		return err
	}
	w.log.Info("lead scores recalculated", "scanned", summary.Scanned, "updated", summary.Updated, "errors", len(summary.Errors))
	return nil
}

func parseLeadID(task *asynq.Task) (uuid.UUID, error) {
	payload, err := ParseLeadPayload(task)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(payload.LeadID)
}

// skip marks a malformed task as not retryable.
func skip(err error) error {
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

func dropNotFound(err error) error {
	if err == nil || apperr.Is(err, apperr.KindNotFound) || errors.Is(err, followups.ErrLeadNotFound) {
		return nil
	}
	return err
}

// asynqLogger routes asynq's internal logging through the application logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) {}
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
