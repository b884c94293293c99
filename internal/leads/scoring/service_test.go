package scoring

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/platform/apperr"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeLeadStore struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]domain.Lead
	updates   []ports.LeadUpdate
	failWrite map[uuid.UUID]bool
}

func newFakeLeadStore(leads ...domain.Lead) *fakeLeadStore {
	s := &fakeLeadStore{leads: map[uuid.UUID]domain.Lead{}, failWrite: map[uuid.UUID]bool{}}
	for _, lead := range leads {
		s.leads[lead.ID] = lead
	}
	return s
}

func (s *fakeLeadStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, ports.ErrLeadNotFound
	}
	return lead, nil
}

func (s *fakeLeadStore) FindLeads(_ context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, lead := range s.leads {
		if filter.AfterID != uuid.Nil && bytes.Compare(lead.ID[:], filter.AfterID[:]) <= 0 {
			continue
		}
		excluded := false
		for _, stage := range filter.ExcludeStages {
			if lead.Stage == stage {
				excluded = true
			}
		}
		if !excluded {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *fakeLeadStore) UpdateLead(_ context.Context, id uuid.UUID, update ports.LeadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite[id] {
		return errors.New("connection reset")
	}
	lead, ok := s.leads[id]
	if !ok {
		return ports.ErrLeadNotFound
	}
	if update.Score != nil {
		lead.Score = *update.Score
	}
	s.leads[id] = lead
	s.updates = append(s.updates, update)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func newTestService(store ports.LeadStore, bus events.Bus) *Service {
	svc := New(store, bus, logger.NewWithWriter("test", &bytes.Buffer{}))
	svc.now = func() time.Time { return scoringNow }
	return svc
}

func TestRecalculatePersistsChangedScore(t *testing.T) {
	lead := domain.Lead{ID: uuid.New(), Budget: "R$ 25.000", Score: 10}
	store := newFakeLeadStore(lead)
	bus := &recordingBus{}

	res, err := newTestService(store, bus).Recalculate(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Updated || res.PreviousScore != 10 || res.Breakdown.Total != 24 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := store.leads[lead.ID].Score; got != 24 {
		t.Fatalf("expected stored score 24, got %d", got)
	}
	if len(bus.events) != 1 {
		t.Fatalf("expected one event, got %d", len(bus.events))
	}
	evt, ok := bus.events[0].(events.LeadScoreUpdated)
	if !ok || evt.Score != 24 || evt.PreviousScore != 10 || evt.Grade != "F" {
		t.Fatalf("unexpected event %#v", bus.events[0])
	}
}

func TestRecalculateSkipsUnchangedScore(t *testing.T) {
	lead := domain.Lead{ID: uuid.New(), Budget: "R$ 25.000", Score: 24}
	store := newFakeLeadStore(lead)
	bus := &recordingBus{}

	res, err := newTestService(store, bus).Recalculate(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Updated {
		t.Fatal("expected unchanged score to skip the write")
	}
	if len(store.updates) != 0 || len(bus.events) != 0 {
		t.Fatalf("expected no writes or events, got %d writes and %d events", len(store.updates), len(bus.events))
	}
}

func TestRecalculateMissingLeadIsNotFound(t *testing.T) {
	_, err := newTestService(newFakeLeadStore(), nil).Recalculate(context.Background(), uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecalculateAllPagesAndIsolatesFailures(t *testing.T) {
	var leads []domain.Lead
	for i := 0; i < 5; i++ {
		leads = append(leads, domain.Lead{ID: uuid.New(), Budget: "R$ 60.000", Stage: domain.StageNew})
	}
	lost := domain.Lead{ID: uuid.New(), Budget: "R$ 60.000", Stage: domain.StageLost}
	store := newFakeLeadStore(append(leads, lost)...)
	store.failWrite[leads[2].ID] = true

	summary, err := newTestService(store, nil).RecalculateAll(context.Background(), 2)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if summary.Scanned != 5 || summary.Updated != 4 || len(summary.Errors) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if store.leads[lost.ID].Score != 0 {
		t.Fatal("expected lost lead to be skipped")
	}
}
