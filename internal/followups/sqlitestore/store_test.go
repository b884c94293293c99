package sqlitestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"travel_crm_backend/internal/delivery"
	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
)

var storeNow = time.Date(2026, 10, 15, 17, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("expected in-memory store to open, got %v", err)
	}
	store.now = func() time.Time { return storeNow }
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedLead(t *testing.T, store *Store, mutate func(*domain.Lead)) domain.Lead {
	t.Helper()
	lastMessage := storeNow.Add(-3 * time.Hour)
	lead := domain.Lead{
		ID:            uuid.New(),
		Name:          "carla mendes",
		Phone:         "+5511987654321",
		Channel:       domain.ChannelWhatsApp,
		Budget:        "R$ 12.000",
		Destination:   "Gramado",
		Stage:         domain.StageQualifying,
		LastMessageAt: &lastMessage,
		CreatedAt:     storeNow.AddDate(0, 0, -10),
		UpdatedAt:     storeNow.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&lead)
	}
	if err := store.UpsertLead(context.Background(), lead); err != nil {
		t.Fatalf("expected lead upsert to succeed, got %v", err)
	}
	return lead
}

func TestLeadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	departure := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	seeded := seedLead(t, store, func(l *domain.Lead) {
		l.DepartureDate = &departure
		l.BirthDate = &domain.PartialDate{Month: time.March, Day: 9}
		l.TravelType = domain.TravelDomestic
		l.Qualified = true
	})

	got, err := store.GetLead(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("expected lead, got %v", err)
	}
	if got.Name != seeded.Name || got.Stage != domain.StageQualifying || !got.Qualified {
		t.Fatalf("unexpected lead %+v", got)
	}
	if got.DepartureDate == nil || !got.DepartureDate.Equal(departure) {
		t.Fatalf("expected departure %s, got %v", departure, got.DepartureDate)
	}
	if got.BirthDate == nil || got.BirthDate.Month != time.March || got.BirthDate.Day != 9 || got.BirthDate.Year != 0 {
		t.Fatalf("expected partial birth date, got %+v", got.BirthDate)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(*seeded.LastMessageAt) {
		t.Fatalf("expected last message %s, got %v", seeded.LastMessageAt, got.LastMessageAt)
	}
}

func TestGetLeadNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetLead(context.Background(), uuid.New()); !errors.Is(err, ports.ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound, got %v", err)
	}
	if err := store.UpdateLead(context.Background(), uuid.New(), ports.LeadUpdate{Touch: true}); !errors.Is(err, ports.ErrLeadNotFound) {
		t.Fatalf("expected ErrLeadNotFound on update, got %v", err)
	}
}

func TestUpdateLeadMarksAreMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	if err := store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Mark: domain.ProgressMark{NoResponse: domain.NoResponse4h, BirthdayYear: 2026}}); err != nil {
		t.Fatalf("expected mark to apply, got %v", err)
	}
	if err := store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Mark: domain.ProgressMark{NoResponse: domain.NoResponse2h, Reminder7d: true, BirthdayYear: 2025}}); err != nil {
		t.Fatalf("expected mark to apply, got %v", err)
	}

	got, _ := store.GetLead(ctx, lead.ID)
	if got.Progress.NoResponse != domain.NoResponse4h {
		t.Fatalf("expected step to stay at 4h, got %s", got.Progress.NoResponse)
	}
	if !got.Progress.Reminder7d || got.Progress.BirthdayYear != 2026 {
		t.Fatalf("unexpected progress %+v", got.Progress)
	}
	if !got.UpdatedAt.Equal(lead.UpdatedAt) {
		t.Fatalf("expected progress writes to leave updated_at alone, got %s", got.UpdatedAt)
	}
}

func TestUpdateLeadResetOpensNewCycleOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	_ = store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Mark: domain.ProgressMark{NoResponse: domain.NoResponse2h, Reminder1d: true}})
	reply := storeNow
	if err := store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{LastMessageAt: &reply, ResetEngagement: true, Touch: true}); err != nil {
		t.Fatalf("expected reset to apply, got %v", err)
	}
	if err := store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{ResetEngagement: true}); err != nil {
		t.Fatalf("expected second reset to apply, got %v", err)
	}

	got, _ := store.GetLead(ctx, lead.ID)
	if got.Progress.NoResponse != domain.NoResponseNone || got.Progress.Cycle != 1 {
		t.Fatalf("expected cleared sequence in cycle 1, got %+v", got.Progress)
	}
	if !got.Progress.Reminder1d {
		t.Fatal("expected trip reminder flag to survive the reset")
	}
	if !got.UpdatedAt.Equal(storeNow) {
		t.Fatalf("expected touch to move updated_at, got %s", got.UpdatedAt)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(reply) {
		t.Fatalf("expected last message %s, got %v", reply, got.LastMessageAt)
	}
}

func TestUpdateLeadLastMessageOnlyMovesForward(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	older := lead.LastMessageAt.Add(-time.Hour)
	if err := store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{LastMessageAt: &older}); err != nil {
		t.Fatalf("expected update, got %v", err)
	}
	got, _ := store.GetLead(ctx, lead.ID)
	if !got.LastMessageAt.Equal(*lead.LastMessageAt) {
		t.Fatalf("expected last message to stay at %s, got %s", lead.LastMessageAt, got.LastMessageAt)
	}
}

func TestFindLeadsPagesAndFiltersStages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		seedLead(t, store, nil)
	}
	seedLead(t, store, func(l *domain.Lead) { l.Stage = domain.StageLost })

	filter := ports.LeadFilter{ExcludeStages: []domain.Stage{domain.StageLost}, Limit: 3}
	first, err := store.FindLeads(ctx, filter)
	if err != nil {
		t.Fatalf("expected first page, got %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 leads, got %d", len(first))
	}
	filter.AfterID = first[len(first)-1].ID
	second, err := store.FindLeads(ctx, filter)
	if err != nil {
		t.Fatalf("expected second page, got %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected 1 remaining lead, got %d", len(second))
	}
	if second[0].ID.String() <= first[2].ID.String() {
		t.Fatal("expected pages ordered by id")
	}
}

func newRecord(leadID uuid.UUID, key string, scheduled time.Time) followups.Record {
	return followups.Record{
		LeadID:       leadID,
		RuleType:     followups.RuleNoResponse2h,
		DedupeKey:    key,
		Message:      "Oi Carla!",
		Channel:      domain.ChannelWhatsApp,
		ScheduledFor: scheduled,
	}
}

func TestCreateRecordDeduplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	id, created, err := store.CreateRecord(ctx, newRecord(lead.ID, "no_response_2h:c0", storeNow))
	if err != nil || !created {
		t.Fatalf("expected first create, got created=%v err=%v", created, err)
	}
	again, created, err := store.CreateRecord(ctx, newRecord(lead.ID, "no_response_2h:c0", storeNow))
	if err != nil {
		t.Fatalf("expected duplicate create to succeed quietly, got %v", err)
	}
	if created || again != id {
		t.Fatalf("expected existing id %s, got %s created=%v", id, again, created)
	}

	rec, err := store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("expected record, got %v", err)
	}
	if rec.Status != followups.StatusPending || rec.Attempts != 0 || rec.Error != nil {
		t.Fatalf("unexpected new record %+v", rec)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRecord(context.Background(), uuid.New()); !errors.Is(err, followups.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestUpdateRecordIsConditional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)
	id, _, _ := store.CreateRecord(ctx, newRecord(lead.ID, "k", storeNow))

	claim := followups.RecordUpdate{Status: followups.StatusSending, IncrementAttempts: true}
	applied, err := store.UpdateRecord(ctx, id, followups.StatusPending, claim)
	if err != nil || !applied {
		t.Fatalf("expected claim, got applied=%v err=%v", applied, err)
	}
	applied, err = store.UpdateRecord(ctx, id, followups.StatusPending, claim)
	if err != nil || applied {
		t.Fatalf("expected second claim to lose, got applied=%v err=%v", applied, err)
	}

	msg := "gateway timeout"
	kind := followups.FailureDelivery
	if _, err := store.UpdateRecord(ctx, id, followups.StatusSending, followups.RecordUpdate{
		Status: followups.StatusFailed, Error: &msg, FailureKind: &kind,
	}); err != nil {
		t.Fatalf("expected failure write, got %v", err)
	}
	rec, _ := store.GetRecord(ctx, id)
	if rec.Status != followups.StatusFailed || rec.Attempts != 1 || rec.Error == nil || *rec.Error != msg || rec.FailureKind != kind {
		t.Fatalf("unexpected failed record %+v", rec)
	}

	none := followups.FailureNone
	if _, err := store.UpdateRecord(ctx, id, followups.StatusFailed, followups.RecordUpdate{
		Status: followups.StatusPending, ClearError: true, FailureKind: &none,
	}); err != nil {
		t.Fatalf("expected requeue write, got %v", err)
	}
	rec, _ = store.GetRecord(ctx, id)
	if rec.Status != followups.StatusPending || rec.Error != nil || rec.FailureKind != followups.FailureNone {
		t.Fatalf("expected cleared pending record, got %+v", rec)
	}
}

func TestFindDueRecordsOrdersByScheduleAndSkipsFuture(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	late, _, _ := store.CreateRecord(ctx, newRecord(lead.ID, "late", storeNow.Add(-time.Minute)))
	early, _, _ := store.CreateRecord(ctx, newRecord(lead.ID, "early", storeNow.Add(-time.Hour)))
	_, _, _ = store.CreateRecord(ctx, newRecord(lead.ID, "future", storeNow.Add(time.Hour)))

	due, err := store.FindDueRecords(ctx, storeNow, 10)
	if err != nil {
		t.Fatalf("expected due records, got %v", err)
	}
	if len(due) != 2 || due[0].ID != early || due[1].ID != late {
		t.Fatalf("expected [early late], got %+v", due)
	}
}

func TestListRecordsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)
	other := seedLead(t, store, nil)

	id, _, _ := store.CreateRecord(ctx, newRecord(lead.ID, "a", storeNow))
	_, _, _ = store.CreateRecord(ctx, newRecord(lead.ID, "b", storeNow))
	_, _, _ = store.CreateRecord(ctx, newRecord(other.ID, "a", storeNow))
	_, _ = store.UpdateRecord(ctx, id, followups.StatusPending, followups.RecordUpdate{Status: followups.StatusCancelled})

	pending, err := store.ListRecords(ctx, followups.RecordFilter{LeadID: lead.ID, Statuses: []followups.Status{followups.StatusPending}})
	if err != nil {
		t.Fatalf("expected list, got %v", err)
	}
	if len(pending) != 1 || pending[0].DedupeKey != "b" {
		t.Fatalf("expected only record b, got %+v", pending)
	}

	cutoff := storeNow.Add(time.Second)
	stale, err := store.ListRecords(ctx, followups.RecordFilter{UpdatedBefore: &cutoff, RuleTypes: []followups.RuleType{followups.RuleNoResponse2h}})
	if err != nil {
		t.Fatalf("expected list, got %v", err)
	}
	if len(stale) != 3 {
		t.Fatalf("expected all 3 records, got %d", len(stale))
	}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []delivery.Message
}

func (d *recordingDeliverer) Send(_ context.Context, msg delivery.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return nil
}

func TestEngineAndDispatcherAgainstSQLite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	catalog, err := followups.DefaultCatalog()
	if err != nil {
		t.Fatalf("expected catalogue, got %v", err)
	}
	log := logger.NewWithWriter("test", &bytes.Buffer{})
	engine := followups.NewEngine(store, catalog, nil, log, followups.Options{AgencyName: "Rota Sul Viagens"})
	deliverer := &recordingDeliverer{}
	dispatcher := followups.NewDispatcher(store, deliverer, nil, log, followups.DispatchOptions{})

	result, err := engine.EvaluateAll(ctx, storeNow)
	if err != nil {
		t.Fatalf("expected evaluation, got %v", err)
	}
	if len(result.Created) != 1 || result.Created[0].RuleType != followups.RuleNoResponse2h {
		t.Fatalf("expected one 2h follow-up, got %+v", result.Created)
	}

	again, err := engine.EvaluateAll(ctx, storeNow)
	if err != nil {
		t.Fatalf("expected second evaluation, got %v", err)
	}
	if len(again.Created) != 0 {
		t.Fatalf("expected guard to stop a second record, got %d", len(again.Created))
	}

	dispatched, err := dispatcher.DispatchDue(ctx, storeNow, 10)
	if err != nil {
		t.Fatalf("expected dispatch, got %v", err)
	}
	if dispatched.Sent != 1 || len(deliverer.sent) != 1 {
		t.Fatalf("expected one delivery, got %+v", dispatched)
	}
	if deliverer.sent[0].To != "+5511987654321" {
		t.Fatalf("expected E.164 recipient, got %q", deliverer.sent[0].To)
	}

	records, _ := store.ListRecords(ctx, followups.RecordFilter{LeadID: lead.ID})
	if len(records) != 1 || records[0].Status != followups.StatusSent || records[0].SentAt == nil {
		t.Fatalf("expected sent record, got %+v", records)
	}
	got, _ := store.GetLead(ctx, lead.ID)
	if got.Progress.NoResponse != domain.NoResponse2h {
		t.Fatalf("expected 2h guard, got %s", got.Progress.NoResponse)
	}
}

func TestUpdateLeadSkipsStepsMarkedInAnOlderCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	_ = store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Mark: domain.ProgressMark{NoResponse: domain.NoResponse2h}})
	_ = store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{ResetEngagement: true})

	oldCycle := 0
	if err := store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{
		Mark:      domain.ProgressMark{NoResponse: domain.NoResponse4h, Reminder7d: true},
		MarkCycle: &oldCycle,
	}); err != nil {
		t.Fatalf("expected update to succeed, got %v", err)
	}
	got, _ := store.GetLead(ctx, lead.ID)
	if got.Progress.Cycle != 1 || got.Progress.NoResponse != domain.NoResponseNone {
		t.Fatalf("expected the new cycle untouched, got %+v", got.Progress)
	}
	if !got.Progress.Reminder7d {
		t.Fatal("expected the reminder flag to apply")
	}

	currentCycle := 1
	_ = store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Mark: domain.ProgressMark{NoResponse: domain.NoResponse2h}, MarkCycle: &currentCycle})
	got, _ = store.GetLead(ctx, lead.ID)
	if got.Progress.NoResponse != domain.NoResponse2h {
		t.Fatalf("expected the current-cycle step applied, got %s", got.Progress.NoResponse)
	}
}

func TestListRecordsResumesAfterCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, _, _ = store.CreateRecord(ctx, newRecord(lead.ID, key, storeNow))
	}

	seen := map[uuid.UUID]bool{}
	filter := followups.RecordFilter{LeadID: lead.ID, Limit: 2}
	for {
		page, err := store.ListRecords(ctx, filter)
		if err != nil {
			t.Fatalf("expected page, got %v", err)
		}
		for _, rec := range page {
			if seen[rec.ID] {
				t.Fatalf("record %s listed twice", rec.ID)
			}
			seen[rec.ID] = true
		}
		if len(page) < filter.Limit {
			break
		}
		filter.After = followups.CursorOf(page[len(page)-1])
	}
	if len(seen) != 5 {
		t.Fatalf("expected all 5 records across pages, got %d", len(seen))
	}
}

func TestRequeueFailedSeesPastManyExhaustedRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lead := seedLead(t, store, nil)

	msg := "gateway timeout"
	kind := followups.FailureDelivery
	failed := followups.RecordUpdate{Status: followups.StatusFailed, Error: &msg, FailureKind: &kind}
	for i := range defaultListLimit + 1 {
		id, _, err := store.CreateRecord(ctx, newRecord(lead.ID, fmt.Sprintf("spent-%d", i), storeNow))
		if err != nil {
			t.Fatalf("expected record, got %v", err)
		}
		_, _ = store.UpdateRecord(ctx, id, followups.StatusPending, followups.RecordUpdate{Status: followups.StatusSending, IncrementAttempts: true})
		_, _ = store.UpdateRecord(ctx, id, followups.StatusSending, failed)
	}

	store.now = func() time.Time { return storeNow.Add(time.Minute) }
	fresh, _, _ := store.CreateRecord(ctx, newRecord(lead.ID, "fresh", storeNow))
	_, _ = store.UpdateRecord(ctx, fresh, followups.StatusPending, failed)

	catalog, err := followups.DefaultCatalog()
	if err != nil {
		t.Fatalf("expected catalogue, got %v", err)
	}
	engine := followups.NewEngine(store, catalog, nil, logger.NewWithWriter("test", &bytes.Buffer{}), followups.Options{})

	n, err := engine.RequeueFailed(ctx, storeNow.Add(time.Hour), followups.RetryPolicy{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("expected requeue, got %v", err)
	}
	got, _ := store.GetRecord(ctx, fresh)
	if n != 1 || got.Status != followups.StatusPending {
		t.Fatalf("expected the fresh failure requeued, got n=%d status=%s attempts=%d", n, got.Status, got.Attempts)
	}
}
