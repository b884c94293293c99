package followups

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultRetryBaseDelay   = 5 * time.Minute
	defaultRetryMaxDelay    = 6 * time.Hour
	defaultRetryMaxAttempts = 5
)

// RetryPolicy decides when a retryable failed record goes back to pending.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy backs off from 5 minutes up to 6 hours.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}
	return RetryPolicy{
		BaseDelay:   defaultRetryBaseDelay,
		MaxDelay:    defaultRetryMaxDelay,
		MaxAttempts: maxAttempts,
	}
}

// Delay is the wait before the next attempt after `attempt` attempts.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = defaultRetryMaxDelay
	}
	if attempt > 30 {
		return limit
	}
	delay := base << (attempt - 1)
	if delay > limit || delay <= 0 {
		return limit
	}
	return delay
}

// RequeueFailed moves retryable failed records with attempts left back to
// pending, scheduled after the policy's backoff from their last update.
// Guards are untouched: the record is the retry unit, not the rule.
func (e *Engine) RequeueFailed(ctx context.Context, now time.Time, policy RetryPolicy) (int, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = defaultRetryMaxAttempts
	}

	requeued := 0
	err := e.eachRecord(ctx, RecordFilter{
		Statuses:      []Status{StatusFailed},
		FailureKinds:  []FailureKind{FailureDelivery, FailureInterrupted},
		AttemptsBelow: policy.MaxAttempts,
	}, func(rec Record) error {
		retryAt := rec.UpdatedAt.Add(policy.Delay(rec.Attempts))
		if retryAt.Before(now) {
			retryAt = now
		}
		applied, err := e.requeue(ctx, rec, retryAt)
		if applied {
			requeued++
			e.log.Info("follow-up requeued",
				"recordId", rec.ID.String(),
				"attempt", rec.Attempts,
				"maxAttempts", policy.MaxAttempts,
				"retryAt", retryAt,
			)
		}
		return err
	})
	if err != nil {
		return requeued, fmt.Errorf("requeue failed follow-ups: %w", err)
	}
	return requeued, nil
}

// requeue returns a failed record to pending at retryAt. A record whose
// occasion has passed by then is cancelled and reported as not requeued.
func (e *Engine) requeue(ctx context.Context, rec Record, retryAt time.Time) (bool, error) {
	if rule, ok := e.rules.Lookup(rec.RuleType); ok && rule.Expired(rec, e.moment(retryAt)) {
		_, err := e.cancelFrom(ctx, rec, StatusFailed, reasonOccasionOver)
		return false, err
	}
	applied, err := e.store.UpdateRecord(ctx, rec.ID, StatusFailed, RecordUpdate{
		Status:       StatusPending,
		ScheduledFor: &retryAt,
		FailureKind:  failureKindPtr(FailureNone),
	})
	if err != nil {
		e.log.DatabaseError("requeue follow-up", err)
		return false, fmt.Errorf("requeue follow-up %s: %w", rec.ID, err)
	}
	return applied, nil
}
