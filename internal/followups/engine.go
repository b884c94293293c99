// Package followups evaluates the follow-up rule table against lead
// snapshots, creates deduplicated follow-up records and dispatches them.
package followups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/internal/leads/scoring"
	"travel_crm_backend/platform/apperr"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEvaluateConcurrency = 8
	defaultEvaluateBatchSize   = 100

	reasonLeadReplied   = "lead replied"
	reasonHumanTakeover = "lead handed to a human agent"
	reasonLeadClosed    = "lead left the pipeline"
	reasonOccasionOver  = "occasion has passed"
)

// ScoreRecalculator refreshes a lead's stored score.
type ScoreRecalculator interface {
	Recalculate(ctx context.Context, leadID uuid.UUID) (*scoring.Result, error)
}

// Options tunes the engine.
type Options struct {
	Location    *time.Location
	AgencyName  string
	Concurrency int
	// BatchSize pages leads during evaluation and records during maintenance passes.
	BatchSize int
}

// EvaluationResult summarises a rule-evaluation pass.
type EvaluationResult struct {
	Evaluated int      `json:"evaluated"`
	Created   []Record `json:"created"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *EvaluationResult) merge(other EvaluationResult) {
	r.Evaluated += other.Evaluated
	r.Created = append(r.Created, other.Created...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Engine evaluates follow-up rules and owns record lifecycle operations
// other than delivery.
type Engine struct {
	store   Store
	catalog *Catalog
	rules   Rules
	scores  ScoreRecalculator
	bus     events.Bus
	log     *logger.Logger
	opts    Options
}

// NewEngine creates an engine over the default rule table.
func NewEngine(store Store, catalog *Catalog, bus events.Bus, log *logger.Logger, opts Options) *Engine {
	if bus == nil {
		bus = events.NopBus{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultEvaluateConcurrency
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultEvaluateBatchSize
	}
	return &Engine{
		store:   store,
		catalog: catalog,
		rules:   DefaultRules(),
		bus:     bus,
		log:     log,
		opts:    opts,
	}
}

// SetScoreRecalculator wires score refreshes after inbound messages.
func (e *Engine) SetScoreRecalculator(scores ScoreRecalculator) {
	e.scores = scores
}

// Rules returns the rule table the engine evaluates.
func (e *Engine) Rules() Rules {
	return e.rules
}

func (e *Engine) moment(now time.Time) Moment {
	return Moment{Now: now, Location: e.opts.Location}
}

// EvaluateDueRules runs every periodic rule against the given snapshots.
// Leads are evaluated in parallel; the rules of one lead run serially
// against the same snapshot, so a sequence advances at most one step per pass.
// A storage failure skips the rest of that lead and is reported in Errors.
func (e *Engine) EvaluateDueRules(ctx context.Context, leads []domain.Lead, now time.Time) EvaluationResult {
	m := e.moment(now)
	result := EvaluationResult{Evaluated: len(leads)}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)

	for _, lead := range leads {
		g.Go(func() error {
			created, err := e.evaluateLead(ctx, lead, m, TriggerPeriodic)
			mu.Lock()
			defer mu.Unlock()
			result.Created = append(result.Created, created...)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("lead %s: %v", lead.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// EvaluateAll pages through every lead a periodic rule can still apply to.
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) (EvaluationResult, error) {
	var result EvaluationResult
	filter := ports.LeadFilter{
		ExcludeStages: []domain.Stage{domain.StageLost, domain.StageCancelled},
		Limit:         e.opts.BatchSize,
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		page, err := e.store.FindLeads(ctx, filter)
		if err != nil {
			e.log.DatabaseError("find leads for follow-up evaluation", err)
			return result, fmt.Errorf("list leads: %w", err)
		}
		result.merge(e.EvaluateDueRules(ctx, page, now))
		if len(page) < filter.Limit {
			return result, nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}

// HandleStageChange runs the stage-triggered rules for a lead that just
// changed stage. Leads that left automation get their pending records cancelled.
func (e *Engine) HandleStageChange(ctx context.Context, leadID uuid.UUID, now time.Time) (EvaluationResult, error) {
	lead, err := e.getLead(ctx, leadID)
	if err != nil {
		return EvaluationResult{}, err
	}

	switch {
	case lead.Stage.IsAutomationPaused():
		if _, err := e.CancelPendingForLead(ctx, leadID, reasonHumanTakeover); err != nil {
			return EvaluationResult{}, err
		}
	case lead.Stage == domain.StageLost || lead.Stage == domain.StageCancelled:
		if _, err := e.CancelPendingForLead(ctx, leadID, reasonLeadClosed); err != nil {
			return EvaluationResult{}, err
		}
	}

	result := EvaluationResult{Evaluated: 1}
	created, err := e.evaluateLead(ctx, lead, e.moment(now), TriggerStageChange)
	result.Created = created
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("lead %s: %v", lead.ID, err))
	}
	return result, nil
}

// HandleInboundMessage records a customer message. The no-response and
// inactivity sequences restart from the beginning in a new cycle and their
// pending records are cancelled.
func (e *Engine) HandleInboundMessage(ctx context.Context, leadID uuid.UUID, at time.Time) (int, error) {
	if _, err := e.getLead(ctx, leadID); err != nil {
		return 0, err
	}

	at = at.UTC()
	update := ports.LeadUpdate{LastMessageAt: &at, ResetEngagement: true, Touch: true}
	if err := e.store.UpdateLead(ctx, leadID, update); err != nil {
		e.log.DatabaseError("record inbound message", err)
		return 0, fmt.Errorf("update lead: %w", err)
	}

	cancelled, err := e.cancelPending(ctx, RecordFilter{
		LeadID:    leadID,
		Statuses:  []Status{StatusPending},
		RuleTypes: e.rules.TypesOf(FamilyNoResponse, FamilyInactivity),
	}, reasonLeadReplied)
	if err != nil {
		return cancelled, err
	}

	if e.scores != nil {
		if _, err := e.scores.Recalculate(ctx, leadID); err != nil {
			e.log.Warn("score recalculation after inbound message failed", "leadId", leadID.String(), "error", err)
		}
	}
	return cancelled, nil
}

// CancelFollowUp cancels one pending record.
func (e *Engine) CancelFollowUp(ctx context.Context, id uuid.UUID, reason string) (Record, error) {
	rec, err := e.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Record{}, apperr.NotFound("follow-up not found")
		}
		return Record{}, fmt.Errorf("load follow-up: %w", err)
	}
	if rec.Status != StatusPending {
		return rec, apperr.Conflict(fmt.Sprintf("follow-up is %s, only pending follow-ups can be cancelled", rec.Status))
	}

	applied, err := e.cancel(ctx, rec, reason)
	if err != nil {
		return rec, err
	}
	if !applied {
		return rec, apperr.Conflict("follow-up changed status while cancelling")
	}
	rec.Status = StatusCancelled
	rec.Error = strPtr(reason)
	return rec, nil
}

// CancelPendingForLead cancels every pending record of a lead.
func (e *Engine) CancelPendingForLead(ctx context.Context, leadID uuid.UUID, reason string) (int, error) {
	return e.cancelPending(ctx, RecordFilter{LeadID: leadID, Statuses: []Status{StatusPending}}, reason)
}

// HandleContactUpdated re-queues records that failed for lack of an address
// once the lead's contact data has changed. Records whose occasion has passed
// are cancelled instead.
func (e *Engine) HandleContactUpdated(ctx context.Context, leadID uuid.UUID, now time.Time) (int, error) {
	if _, err := e.getLead(ctx, leadID); err != nil {
		return 0, err
	}

	requeued := 0
	err := e.eachRecord(ctx, RecordFilter{
		LeadID:       leadID,
		Statuses:     []Status{StatusFailed},
		FailureKinds: []FailureKind{FailureNoRecipient},
	}, func(rec Record) error {
		applied, err := e.requeue(ctx, rec, now)
		if applied {
			requeued++
		}
		return err
	})
	if err != nil {
		return requeued, fmt.Errorf("requeue undeliverable follow-ups: %w", err)
	}
	return requeued, nil
}

// FailStaleSending fails records left in sending by a dispatcher that died
// mid-delivery. They become retryable.
func (e *Engine) FailStaleSending(ctx context.Context, now time.Time, olderThan time.Duration) (int, error) {
	cutoff := now.Add(-olderThan)
	failed := 0
	err := e.eachRecord(ctx, RecordFilter{
		Statuses:      []Status{StatusSending},
		UpdatedBefore: &cutoff,
	}, func(rec Record) error {
		applied, err := e.store.UpdateRecord(ctx, rec.ID, StatusSending, RecordUpdate{
			Status:      StatusFailed,
			Error:       strPtr("delivery interrupted"),
			FailureKind: failureKindPtr(FailureInterrupted),
		})
		if err != nil {
			return fmt.Errorf("fail stale follow-up %s: %w", rec.ID, err)
		}
		if applied {
			failed++
			e.log.Warn("stale follow-up marked failed", "recordId", rec.ID.String(), "leadId", rec.LeadID.String())
		}
		return nil
	})
	if err != nil {
		return failed, fmt.Errorf("recover stale follow-ups: %w", err)
	}
	return failed, nil
}

// ListRecords passes a filtered listing through to the store.
func (e *Engine) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	return e.store.ListRecords(ctx, filter)
}

func (e *Engine) getLead(ctx context.Context, leadID uuid.UUID) (domain.Lead, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, fmt.Errorf("load lead %s: %w", leadID, err)
	}
	return lead, nil
}

func (e *Engine) evaluateLead(ctx context.Context, lead domain.Lead, m Moment, trigger Trigger) ([]Record, error) {
	var created []Record
	for _, rule := range e.rules {
		if rule.Trigger != trigger {
			continue
		}
		if rule.Sent(lead.Progress, m) || !rule.Due(lead, m) {
			continue
		}
		rec, isNew, err := e.schedule(ctx, lead, rule, m)
		if err != nil {
			return created, fmt.Errorf("%s: %w", rule.Type, err)
		}
		if isNew {
			created = append(created, rec)
		}
	}
	return created, nil
}

// schedule creates the record, then sets the guard, then applies the rule's
// effect. A record that already exists still gets its guard and effect
// written, which repairs a pass that died between the two writes.
func (e *Engine) schedule(ctx context.Context, lead domain.Lead, rule Rule, m Moment) (Record, bool, error) {
	msg, err := e.catalog.Render(rule.Template, VarsFor(lead, m, e.opts.AgencyName))
	if err != nil {
		return Record{}, false, err
	}

	breakdown := scoring.ComputeScore(lead, m.Now)
	now := m.Now.UTC()
	rec := Record{
		ID:              uuid.New(),
		LeadID:          lead.ID,
		RuleType:        rule.Type,
		DedupeKey:       rule.DedupeKey(lead, m),
		Subject:         msg.Subject,
		Message:         msg.Body,
		Channel:         rule.DeliveryChannel(lead),
		Status:          StatusPending,
		Priority:        breakdown.Priority,
		SuggestedAction: breakdown.SuggestedAction(),
		ScheduledFor:    now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	id, created, err := e.store.CreateRecord(ctx, rec)
	if err != nil {
		e.log.DatabaseError("create follow-up record", err)
		return Record{}, false, fmt.Errorf("create record: %w", err)
	}
	rec.ID = id

	cycle := lead.Progress.Cycle
	if err := e.store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Mark: rule.Mark(m), MarkCycle: &cycle}); err != nil {
		e.log.DatabaseError("set follow-up guard", err)
		return Record{}, false, fmt.Errorf("set guard: %w", err)
	}

	if err := e.applyEffect(ctx, lead, rule, now); err != nil {
		return Record{}, false, err
	}

	if created {
		e.log.FollowUpScheduled(lead.ID.String(), rec.ID.String(), string(rule.Type), string(rec.Channel))
		e.bus.Publish(ctx, events.FollowUpScheduled{
			BaseEvent:       events.NewBaseEventAt(now),
			RecordID:        rec.ID,
			LeadID:          lead.ID,
			RuleType:        string(rule.Type),
			Channel:         string(rec.Channel),
			Priority:        string(rec.Priority),
			SuggestedAction: string(rec.SuggestedAction),
			ScheduledFor:    rec.ScheduledFor,
		})
	}
	return rec, created, nil
}

func (e *Engine) applyEffect(ctx context.Context, lead domain.Lead, rule Rule, now time.Time) error {
	switch rule.Effect {
	case EffectCloseAsLost:
		lost := domain.StageLost
		closed := true
		if err := e.store.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Stage: &lost, ConversationClosed: &closed, Touch: true}); err != nil {
			e.log.DatabaseError("close lead as lost", err)
			return fmt.Errorf("close lead: %w", err)
		}
		e.bus.Publish(ctx, events.LeadStageChanged{
			BaseEvent: events.NewBaseEventAt(now),
			LeadID:    lead.ID,
			OldStage:  string(lead.Stage),
			NewStage:  string(lost),
			Reason:    string(rule.Type),
			ChangedAt: now,
		})
		e.log.Info("lead closed after no response", "leadId", lead.ID.String(), "previousStage", string(lead.Stage))
	}
	return nil
}

func (e *Engine) cancelPending(ctx context.Context, filter RecordFilter, reason string) (int, error) {
	cancelled := 0
	err := e.eachRecord(ctx, filter, func(rec Record) error {
		applied, err := e.cancel(ctx, rec, reason)
		if applied {
			cancelled++
		}
		return err
	})
	return cancelled, err
}

// eachRecord walks every record matching filter in (created_at, id) order, one
// page at a time. fn may move the records it is given to another status.
func (e *Engine) eachRecord(ctx context.Context, filter RecordFilter, fn func(Record) error) error {
	filter.Limit = e.opts.BatchSize
	filter.After = nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.store.ListRecords(ctx, filter)
		if err != nil {
			e.log.DatabaseError("list follow-ups", err)
			return fmt.Errorf("list follow-ups: %w", err)
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < filter.Limit {
			return nil
		}
		filter.After = CursorOf(page[len(page)-1])
	}
}

func (e *Engine) cancel(ctx context.Context, rec Record, reason string) (bool, error) {
	return e.cancelFrom(ctx, rec, StatusPending, reason)
}

func (e *Engine) cancelFrom(ctx context.Context, rec Record, from Status, reason string) (bool, error) {
	applied, err := e.store.UpdateRecord(ctx, rec.ID, from, RecordUpdate{
		Status: StatusCancelled,
		Error:  strPtr(reason),
	})
	if err != nil {
		e.log.DatabaseError("cancel follow-up", err)
		return false, fmt.Errorf("cancel follow-up %s: %w", rec.ID, err)
	}
	if applied {
		e.bus.Publish(ctx, events.FollowUpCancelled{
			BaseEvent: events.NewBaseEvent(),
			RecordID:  rec.ID,
			LeadID:    rec.LeadID,
			RuleType:  string(rec.RuleType),
			Reason:    reason,
		})
	}
	return applied, nil
}
