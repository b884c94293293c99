package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/scoring"
	"travel_crm_backend/platform/apperr"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeFollowUps struct {
	stageChanged []uuid.UUID
	inbound      map[uuid.UUID]time.Time
	contacts     []uuid.UUID
	err          error
}

func (f *fakeFollowUps) HandleStageChange(_ context.Context, leadID uuid.UUID, _ time.Time) (followups.EvaluationResult, error) {
	f.stageChanged = append(f.stageChanged, leadID)
	return followups.EvaluationResult{Evaluated: 1}, f.err
}

func (f *fakeFollowUps) HandleInboundMessage(_ context.Context, leadID uuid.UUID, at time.Time) (int, error) {
	if f.inbound == nil {
		f.inbound = map[uuid.UUID]time.Time{}
	}
	f.inbound[leadID] = at
	return 0, f.err
}

func (f *fakeFollowUps) HandleContactUpdated(_ context.Context, leadID uuid.UUID, _ time.Time) (int, error) {
	f.contacts = append(f.contacts, leadID)
	return 1, f.err
}

type fakeRunner struct {
	mu   sync.Mutex
	runs int
}

func (f *fakeRunner) RunOnce(_ context.Context, _ time.Time) (followups.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return followups.RunReport{}, nil
}

func (f *fakeRunner) runsSafe() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeScores struct {
	recalculated []uuid.UUID
	sweeps       int
	batchSize    int
}

func (f *fakeScores) Recalculate(_ context.Context, leadID uuid.UUID) (*scoring.Result, error) {
	f.recalculated = append(f.recalculated, leadID)
	return &scoring.Result{LeadID: leadID}, nil
}

func (f *fakeScores) RecalculateAll(_ context.Context, batchSize int) (scoring.BatchSummary, error) {
	f.sweeps++
	f.batchSize = batchSize
	return scoring.BatchSummary{}, nil
}

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (func(), error) {
	if f.held {
		return nil, ErrLockHeld
	}
	return func() { f.released++ }, nil
}

var workerNow = time.Date(2026, 10, 15, 17, 0, 0, 0, time.UTC)

func newTestWorker(h Handlers) *Worker {
	w := newWorker(h, logger.NewWithWriter("test", &bytes.Buffer{}))
	w.now = func() time.Time { return workerNow }
	return w
}

func TestWorkerRoutesLeadTasks(t *testing.T) {
	fu := &fakeFollowUps{}
	scores := &fakeScores{}
	w := newTestWorker(Handlers{FollowUps: fu, Scores: scores, ScoreBatchSize: 50})
	ctx := context.Background()
	leadID := uuid.New()
	received := workerNow.Add(-time.Minute)

	stage, _ := NewStageChangedTask(StageChangedPayload{LeadID: leadID.String(), ChangedAt: workerNow})
	inbound, _ := NewInboundMessageTask(InboundMessagePayload{LeadID: leadID.String(), ReceivedAt: received})
	contact, _ := NewContactUpdatedTask(LeadPayload{LeadID: leadID.String()})
	score, _ := NewLeadScoreRecalculateTask(LeadPayload{LeadID: leadID.String()})

	for _, task := range []*asynq.Task{stage, inbound, contact, score, NewLeadScoreRecalcAllTask()} {
		if err := w.mux.ProcessTask(ctx, task); err != nil {
			t.Fatalf("%s: expected success, got %v", task.Type(), err)
		}
	}

	if len(fu.stageChanged) != 1 || fu.stageChanged[0] != leadID {
		t.Fatalf("expected stage change for %s, got %v", leadID, fu.stageChanged)
	}
	if !fu.inbound[leadID].Equal(received) {
		t.Fatalf("expected inbound at %s, got %s", received, fu.inbound[leadID])
	}
	if len(fu.contacts) != 1 || len(scores.recalculated) != 1 {
		t.Fatalf("expected contact and score handlers called, got %v %v", fu.contacts, scores.recalculated)
	}
	if scores.sweeps != 1 || scores.batchSize != 50 {
		t.Fatalf("expected one sweep with batch 50, got %d/%d", scores.sweeps, scores.batchSize)
	}
}

func TestWorkerSkipsRetryOnMalformedPayload(t *testing.T) {
	w := newTestWorker(Handlers{FollowUps: &fakeFollowUps{}})
	task := asynq.NewTask(TaskFollowUpStageChanged, []byte(`{"leadId":"not-a-uuid"}`))

	err := w.mux.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestWorkerDropsMissingLeads(t *testing.T) {
	w := newTestWorker(Handlers{FollowUps: &fakeFollowUps{err: apperr.NotFound("lead not found")}})
	task, _ := NewContactUpdatedTask(LeadPayload{LeadID: uuid.NewString()})

	if err := w.mux.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("expected missing lead to be dropped, got %v", err)
	}
}

func TestWorkerRetriesStorageErrors(t *testing.T) {
	w := newTestWorker(Handlers{FollowUps: &fakeFollowUps{err: errors.New("connection reset")}})
	task, _ := NewContactUpdatedTask(LeadPayload{LeadID: uuid.NewString()})

	err := w.mux.ProcessTask(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
}

func TestFollowUpRunRespectsLock(t *testing.T) {
	runner := &fakeRunner{}
	lock := &fakeLock{}
	w := newTestWorker(Handlers{Runner: runner, Lock: lock})
	ctx := context.Background()

	if err := w.mux.ProcessTask(ctx, NewFollowUpRunTask()); err != nil {
		t.Fatalf("expected run, got %v", err)
	}
	if runner.runs != 1 || lock.released != 1 {
		t.Fatalf("expected one run and one release, got %d/%d", runner.runs, lock.released)
	}

	lock.held = true
	if err := w.mux.ProcessTask(ctx, NewFollowUpRunTask()); err != nil {
		t.Fatalf("expected skipped run to succeed, got %v", err)
	}
	if runner.runs != 1 {
		t.Fatalf("expected no run while locked, got %d", runner.runs)
	}
}

func TestLocalLoopRunsImmediately(t *testing.T) {
	runner := &fakeRunner{}
	loop := NewLocalLoop(runner, logger.NewWithWriter("test", &bytes.Buffer{}), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for runner.runsSafe() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected an immediate pass")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
