package followups

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
)

var errStoreDown = errors.New("store unavailable")

// memoryStore is an in-memory Store with the same write semantics as the SQL
// stores: unique dedupe keys, monotonic marks and conditional status writes.
type memoryStore struct {
	mu      sync.Mutex
	leads   map[uuid.UUID]domain.Lead
	records map[uuid.UUID]Record
	order   []uuid.UUID

	failCreateFor map[uuid.UUID]bool
	failGetLead   map[uuid.UUID]bool
	leadWrites    int
	// clock stamps updated_at so tests do not depend on the wall clock.
	clock time.Time
}

func newMemoryStore(leads ...domain.Lead) *memoryStore {
	s := &memoryStore{
		leads:         map[uuid.UUID]domain.Lead{},
		records:       map[uuid.UUID]Record{},
		failCreateFor: map[uuid.UUID]bool{},
		failGetLead:   map[uuid.UUID]bool{},
		clock:         testNow.UTC(),
	}
	for _, lead := range leads {
		s.leads[lead.ID] = lead
	}
	return s
}

func (s *memoryStore) lead(id uuid.UUID) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id]
}

func (s *memoryStore) recordsFor(leadID uuid.UUID) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.LeadID == leadID {
			out = append(out, rec)
		}
	}
	return out
}

func (s *memoryStore) record(id uuid.UUID) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *memoryStore) putRecord(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
}

func (s *memoryStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetLead[id] {
		return domain.Lead{}, errStoreDown
	}
	lead, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, ports.ErrLeadNotFound
	}
	return lead, nil
}

func (s *memoryStore) FindLeads(_ context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Lead
	for _, lead := range s.leads {
		if filter.AfterID != uuid.Nil && bytes.Compare(lead.ID[:], filter.AfterID[:]) <= 0 {
			continue
		}
		if containsStage(filter.ExcludeStages, lead.Stage) {
			continue
		}
		if len(filter.Stages) > 0 && !containsStage(filter.Stages, lead.Stage) {
			continue
		}
		out = append(out, lead)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryStore) UpdateLead(_ context.Context, id uuid.UUID, u ports.LeadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return ports.ErrLeadNotFound
	}
	s.leadWrites++
	if u.Score != nil {
		lead.Score = *u.Score
	}
	if u.Stage != nil {
		lead.Stage = *u.Stage
	}
	if u.ConversationClosed != nil {
		lead.ConversationClosed = *u.ConversationClosed
	}
	if u.LastMessageAt != nil && (lead.LastMessageAt == nil || u.LastMessageAt.After(*lead.LastMessageAt)) {
		at := *u.LastMessageAt
		lead.LastMessageAt = &at
	}
	if u.ResetEngagement {
		lead.Progress = lead.Progress.ResetEngagement()
	}
	if u.MarkCycle != nil {
		lead.Progress = lead.Progress.ApplyInCycle(u.Mark, *u.MarkCycle)
	} else {
		lead.Progress = lead.Progress.Apply(u.Mark)
	}
	if u.Touch {
		lead.UpdatedAt = s.clock
	}
	s.leads[id] = lead
	return nil
}

func (s *memoryStore) CreateRecord(_ context.Context, rec Record) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateFor[rec.LeadID] {
		return uuid.Nil, false, errStoreDown
	}
	for _, existing := range s.records {
		if existing.LeadID == rec.LeadID && existing.DedupeKey == rec.DedupeKey {
			return existing.ID, false, nil
		}
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.ID, true, nil
}

func (s *memoryStore) GetRecord(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *memoryStore) UpdateRecord(_ context.Context, id uuid.UUID, expected Status, u RecordUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != expected {
		return false, nil
	}
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.SentAt != nil {
		rec.SentAt = u.SentAt
	}
	if u.ClearError {
		rec.Error = nil
	}
	if u.Error != nil {
		msg := *u.Error
		rec.Error = &msg
	}
	if u.FailureKind != nil {
		rec.FailureKind = *u.FailureKind
	}
	if u.IncrementAttempts {
		rec.Attempts++
	}
	if u.ScheduledFor != nil {
		rec.ScheduledFor = *u.ScheduledFor
	}
	rec.UpdatedAt = s.clock
	s.records[id] = rec
	return true, nil
}

func (s *memoryStore) FindDueRecords(_ context.Context, now time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Status == StatusPending && !rec.ScheduledFor.After(now) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListRecords(_ context.Context, f RecordFilter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, id := range s.order {
		rec := s.records[id]
		if f.LeadID != uuid.Nil && rec.LeadID != f.LeadID {
			continue
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, rec.Status) {
			continue
		}
		if len(f.RuleTypes) > 0 && !contains(f.RuleTypes, rec.RuleType) {
			continue
		}
		if len(f.FailureKinds) > 0 && !contains(f.FailureKinds, rec.FailureKind) {
			continue
		}
		if f.UpdatedBefore != nil && !rec.UpdatedAt.Before(*f.UpdatedBefore) {
			continue
		}
		if f.AttemptsBelow > 0 && rec.Attempts >= f.AttemptsBelow {
			continue
		}
		if f.After != nil && compareCursor(rec, *f.After) <= 0 {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareCursor(out[i], RecordCursor{CreatedAt: out[j].CreatedAt, ID: out[j].ID}) < 0
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func compareCursor(rec Record, c RecordCursor) int {
	if cmp := rec.CreatedAt.Compare(c.CreatedAt); cmp != 0 {
		return cmp
	}
	return bytes.Compare(rec.ID[:], c.ID[:])
}

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

func containsStage(stages []domain.Stage, s domain.Stage) bool {
	return contains(stages, s)
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

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, evt := range b.events {
		if evt.EventName() == name {
			out = append(out, evt)
		}
	}
	return out
}

func testLogger() *logger.Logger {
	return logger.NewWithWriter("test", &bytes.Buffer{})
}
