package followups

import (
	"context"
	"errors"
	"time"

	"travel_crm_backend/internal/delivery"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

var (
	// ErrLeadNotFound is the lead port's not-found sentinel.
	ErrLeadNotFound = ports.ErrLeadNotFound
	// ErrRecordNotFound is returned when a follow-up record ID has no row.
	ErrRecordNotFound = errors.New("follow-up record not found")
)

// Status is the delivery state of a follow-up record.
//
//	pending -> sending -> sent | failed
//	pending -> cancelled
//	failed  -> pending (re-queue)
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsKnownStatus reports whether s is a valid record status.
func IsKnownStatus(s Status) bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// FailureKind classifies a failed record for the re-queue policy.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureNoRecipient FailureKind = "no_recipient"
	FailureDelivery    FailureKind = "delivery"
	FailurePermanent   FailureKind = "permanent"
	FailureInterrupted FailureKind = "interrupted"
)

// Retryable reports whether the periodic re-queue may pick the failure up.
// Missing recipients wait for a contact update instead.
func (k FailureKind) Retryable() bool {
	return k == FailureDelivery || k == FailureInterrupted
}

// Record is one scheduled follow-up message. Records are never deleted.
type Record struct {
	ID              uuid.UUID               `json:"id"`
	LeadID          uuid.UUID               `json:"leadId"`
	RuleType        RuleType                `json:"ruleType"`
	DedupeKey       string                  `json:"dedupeKey"`
	Subject         string                  `json:"subject,omitempty"`
	Message         string                  `json:"message"`
	Channel         domain.Channel          `json:"channel"`
	Status          Status                  `json:"status"`
	Priority        scoring.Priority        `json:"priority"`
	SuggestedAction scoring.SuggestedAction `json:"suggestedAction"`
	ScheduledFor    time.Time               `json:"scheduledFor"`
	SentAt          *time.Time              `json:"sentAt,omitempty"`
	Attempts        int                     `json:"attempts"`
	Error           *string                 `json:"error,omitempty"`
	FailureKind     FailureKind             `json:"failureKind,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// Retryable reports whether a failed record may be re-queued by the periodic pass.
func (r Record) Retryable() bool {
	return r.Status == StatusFailed && r.FailureKind.Retryable()
}

// RecordUpdate is a partial status write. Stores apply it only when the
// record is still in the expected status, which is how overlapping
// dispatchers avoid sending the same record twice.
type RecordUpdate struct {
	Status            Status
	SentAt            *time.Time
	Error             *string
	ClearError        bool
	FailureKind       *FailureKind
	IncrementAttempts bool
	ScheduledFor      *time.Time
}

// RecordFilter selects records for listing and maintenance passes.
// Results are ordered by (created_at, id) ascending.
type RecordFilter struct {
	LeadID        uuid.UUID
	Statuses      []Status
	RuleTypes     []RuleType
	FailureKinds  []FailureKind
	UpdatedBefore *time.Time
	// AttemptsBelow keeps records with fewer delivery attempts; zero disables it.
	AttemptsBelow int
	// After resumes a listing strictly after the given record.
	After *RecordCursor
	Limit int
}

// RecordCursor is a keyset position in the (created_at, id) ordering.
type RecordCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf returns the position just after rec.
func CursorOf(rec Record) *RecordCursor {
	return &RecordCursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
}

// RecordStore persists follow-up records.
type RecordStore interface {
	// CreateRecord inserts a pending record. When (lead, dedupe key) already
	// exists nothing is written and created is false; id is the existing row's.
	CreateRecord(ctx context.Context, rec Record) (id uuid.UUID, created bool, err error)
	GetRecord(ctx context.Context, id uuid.UUID) (Record, error)
	UpdateRecord(ctx context.Context, id uuid.UUID, expected Status, update RecordUpdate) (applied bool, err error)
	// FindDueRecords returns pending records scheduled at or before now, oldest first.
	FindDueRecords(ctx context.Context, now time.Time, limit int) ([]Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
}

// Store is everything the engine and dispatcher need from storage.
type Store interface {
	ports.LeadStore
	RecordStore
}

// Deliverer hands a message to the channel provider.
type Deliverer interface {
	Send(ctx context.Context, msg delivery.Message) error
}

func failureKindPtr(k FailureKind) *FailureKind { return &k }

func strPtr(s string) *string { return &s }
