package followups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"travel_crm_backend/internal/delivery"
	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/platform/logger"
	"travel_crm_backend/platform/phone"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultDispatchConcurrency = 4
	defaultDispatchBatchSize   = 100
	defaultSendTimeout         = 15 * time.Second
)

// DispatchOptions tunes the dispatcher.
type DispatchOptions struct {
	Concurrency int
	// SendRate caps deliveries per second across the batch; zero disables the cap.
	SendRate    float64
	SendTimeout time.Duration
	PhoneRegion string
	Location    *time.Location
}

// DispatchResult summarises one dispatch pass.
type DispatchResult struct {
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Cancelled int      `json:"cancelled"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeCancelled
)

// Dispatcher delivers due pending records.
type Dispatcher struct {
	store     Store
	deliverer Deliverer
	rules     Rules
	bus       events.Bus
	log       *logger.Logger
	limiter   *rate.Limiter
	opts      DispatchOptions
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, deliverer Deliverer, bus events.Bus, log *logger.Logger, opts DispatchOptions) *Dispatcher {
	if bus == nil {
		bus = events.NopBus{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultDispatchConcurrency
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = phone.DefaultRegion
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), 1)
	}

	return &Dispatcher{
		store:     store,
		deliverer: deliverer,
		rules:     DefaultRules(),
		bus:       bus,
		log:       log,
		limiter:   limiter,
		opts:      opts,
	}
}

// DispatchDue delivers up to batchSize pending records scheduled at or
// before now, oldest first. A failing record never stops the batch; only a
// failure to read the due records is returned as an error.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time, batchSize int) (DispatchResult, error) {
	if batchSize < 1 {
		batchSize = defaultDispatchBatchSize
	}

	due, err := d.store.FindDueRecords(ctx, now, batchSize)
	if err != nil {
		d.log.DatabaseError("find due follow-ups", err)
		return DispatchResult{}, fmt.Errorf("find due follow-ups: %w", err)
	}

	result := DispatchResult{Processed: len(due)}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.opts.Concurrency)

	for _, rec := range due {
		g.Go(func() error {
			out, err := d.dispatchOne(ctx, rec, now)
			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSent:
				result.Sent++
			case outcomeFailed:
				result.Failed++
			case outcomeCancelled:
				result.Cancelled++
			default:
				result.Skipped++
			}
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("record %s: %v", rec.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return result, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rec Record, now time.Time) (outcome, error) {
	claimed, err := d.store.UpdateRecord(ctx, rec.ID, StatusPending, RecordUpdate{
		Status:            StatusSending,
		IncrementAttempts: true,
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// Another dispatcher or a cancellation got there first.
		return outcomeSkipped, nil
	}
	rec.Status = StatusSending
	rec.Attempts++

	lead, err := d.store.GetLead(ctx, rec.LeadID)
	if err != nil {
		if errors.Is(err, ports.ErrLeadNotFound) {
			return d.fail(ctx, rec, FailurePermanent, errors.New("lead no longer exists"))
		}
		d.release(ctx, rec)
		return outcomeSkipped, fmt.Errorf("load lead: %w", err)
	}

	if lead.Stage.IsAutomationPaused() {
		return d.cancelClaimed(ctx, rec, reasonHumanTakeover)
	}
	if d.repliedSince(rec, lead) {
		return d.cancelClaimed(ctx, rec, reasonLeadReplied)
	}
	if rule, ok := d.rules.Lookup(rec.RuleType); ok && rule.Expired(rec, Moment{Now: now, Location: d.opts.Location}) {
		return d.cancelClaimed(ctx, rec, reasonOccasionOver)
	}

	address, err := d.resolveAddress(lead, rec.Channel)
	if err != nil {
		if markErr := d.markGuard(ctx, rec, lead); markErr != nil {
			d.log.Warn("guard mark after missing recipient failed", "recordId", rec.ID.String(), "error", markErr)
		}
		return d.fail(ctx, rec, classifyFailure(err), err)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		d.release(ctx, rec)
		return outcomeSkipped, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	err = d.deliverer.Send(sendCtx, delivery.Message{
		Channel:       rec.Channel,
		To:            address,
		RecipientName: lead.Name,
		Subject:       rec.Subject,
		Body:          rec.Message,
	})
	cancel()
	if err != nil {
		return d.fail(ctx, rec, classifyFailure(err), err)
	}

	sentAt := time.Now().UTC()
	applied, err := d.store.UpdateRecord(ctx, rec.ID, StatusSending, RecordUpdate{
		Status:      StatusSent,
		SentAt:      &sentAt,
		ClearError:  true,
		FailureKind: failureKindPtr(FailureNone),
	})
	if err != nil {
		d.log.DatabaseError("mark follow-up sent", err)
		return outcomeSent, fmt.Errorf("delivered but status not saved: %w", err)
	}
	if !applied {
		d.log.Warn("follow-up delivered after its claim was reclaimed", "recordId", rec.ID.String())
	}
	if err := d.markGuard(ctx, rec, lead); err != nil {
		d.log.Warn("guard mark after delivery failed", "recordId", rec.ID.String(), "error", err)
	}

	d.bus.Publish(ctx, events.FollowUpDelivered{
		BaseEvent: events.NewBaseEventAt(sentAt),
		RecordID:  rec.ID,
		LeadID:    rec.LeadID,
		RuleType:  string(rec.RuleType),
		Channel:   string(rec.Channel),
		SentAt:    sentAt,
	})
	d.log.Info("follow-up delivered", "recordId", rec.ID.String(), "leadId", rec.LeadID.String(), "rule", string(rec.RuleType), "channel", string(rec.Channel))
	return outcomeSent, nil
}

func (d *Dispatcher) resolveAddress(lead domain.Lead, ch domain.Channel) (string, error) {
	switch ch {
	case domain.ChannelWhatsApp:
		if !phone.IsValid(lead.Phone, d.opts.PhoneRegion) {
			return "", fmt.Errorf("%w: lead has no valid whatsapp number", delivery.ErrNoRecipient)
		}
		return phone.NormalizeE164ForRegion(lead.Phone, d.opts.PhoneRegion), nil
	case domain.ChannelEmail:
		email := strings.TrimSpace(lead.Email)
		if email == "" || !strings.Contains(email, "@") {
			return "", fmt.Errorf("%w: lead has no email address", delivery.ErrNoRecipient)
		}
		return email, nil
	default:
		return "", fmt.Errorf("%w: %s", delivery.ErrChannelUnsupported, ch)
	}
}

// markGuard re-applies the rule's guard. It is idempotent and covers records
// whose creating pass died before the guard write. Sequence steps only land
// while the lead is still in the snapshot's cycle, so a reply that arrives
// mid-delivery keeps its fresh sequence.
func (d *Dispatcher) markGuard(ctx context.Context, rec Record, lead domain.Lead) error {
	rule, ok := d.rules.Lookup(rec.RuleType)
	if !ok {
		return nil
	}
	m := Moment{Now: rec.CreatedAt, Location: d.opts.Location}
	cycle := lead.Progress.Cycle
	return d.store.UpdateLead(ctx, rec.LeadID, ports.LeadUpdate{Mark: rule.Mark(m), MarkCycle: &cycle})
}

func (d *Dispatcher) fail(ctx context.Context, rec Record, kind FailureKind, cause error) (outcome, error) {
	msg := cause.Error()
	if _, err := d.store.UpdateRecord(ctx, rec.ID, StatusSending, RecordUpdate{
		Status:      StatusFailed,
		Error:       &msg,
		FailureKind: failureKindPtr(kind),
	}); err != nil {
		d.log.DatabaseError("mark follow-up failed", err)
		return outcomeFailed, fmt.Errorf("%v (status not saved: %w)", cause, err)
	}

	d.log.DeliveryFailed(rec.ID.String(), string(rec.Channel), kind.Retryable(), cause)
	d.bus.Publish(ctx, events.FollowUpFailed{
		BaseEvent:   events.NewBaseEvent(),
		RecordID:    rec.ID,
		LeadID:      rec.LeadID,
		RuleType:    string(rec.RuleType),
		Channel:     string(rec.Channel),
		FailureKind: string(kind),
		Error:       msg,
	})
	return outcomeFailed, cause
}

func (d *Dispatcher) cancelClaimed(ctx context.Context, rec Record, reason string) (outcome, error) {
	applied, err := d.store.UpdateRecord(ctx, rec.ID, StatusSending, RecordUpdate{
		Status: StatusCancelled,
		Error:  strPtr(reason),
	})
	if err != nil {
		d.log.DatabaseError("cancel follow-up", err)
		return outcomeSkipped, fmt.Errorf("cancel: %w", err)
	}
	if !applied {
		return outcomeSkipped, nil
	}
	d.bus.Publish(ctx, events.FollowUpCancelled{
		BaseEvent: events.NewBaseEvent(),
		RecordID:  rec.ID,
		LeadID:    rec.LeadID,
		RuleType:  string(rec.RuleType),
		Reason:    reason,
	})
	return outcomeCancelled, nil
}

// release hands a claimed record back to pending. The attempt stays counted.
// It runs even when ctx is already cancelled.
func (d *Dispatcher) release(ctx context.Context, rec Record) {
	if _, err := d.store.UpdateRecord(context.WithoutCancel(ctx), rec.ID, StatusSending, RecordUpdate{Status: StatusPending}); err != nil {
		d.log.DatabaseError("release follow-up claim", err)
	}
}

// repliedSince reports whether a chase message became moot because the
// lead wrote back after it was created.
func (d *Dispatcher) repliedSince(rec Record, lead domain.Lead) bool {
	rule, ok := d.rules.Lookup(rec.RuleType)
	if !ok || (rule.Family != FamilyNoResponse && rule.Family != FamilyInactivity) {
		return false
	}
	return lead.LastMessageAt != nil && lead.LastMessageAt.After(rec.CreatedAt)
}

func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, delivery.ErrNoRecipient):
		return FailureNoRecipient
	case delivery.IsPermanent(err):
		return FailurePermanent
	default:
		return FailureDelivery
	}
}
