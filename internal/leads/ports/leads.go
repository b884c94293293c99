// Package ports defines the lead storage contract shared by the scoring and
// follow-up engines. The wider CRM owns the lead table; these interfaces are
// the only way the engines read it or request writes against it.
package ports

import (
	"context"
	"errors"
	"time"

	"travel_crm_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// ErrLeadNotFound is returned when a lead ID has no row.
var ErrLeadNotFound = errors.New("lead not found")

// LeadFilter selects leads for a batch pass. Results are ordered by ID so
// callers can page with AfterID.
type LeadFilter struct {
	IDs           []uuid.UUID
	Stages        []domain.Stage
	ExcludeStages []domain.Stage
	AfterID       uuid.UUID
	Limit         int
}

// LeadUpdate carries the partial writes the engines are allowed to make.
// Nil pointers leave a column untouched. Mark is applied monotonically by the
// store (GREATEST / OR), never as a read-modify-write.
type LeadUpdate struct {
	Score              *int
	Stage              *domain.Stage
	ConversationClosed *bool
	LastMessageAt      *time.Time
	Mark               domain.ProgressMark
	// MarkCycle, when set, applies Mark's sequence steps only while the lead
	// is still in that engagement cycle. Other marks apply regardless.
	MarkCycle *int
	// ResetEngagement clears the no-response and inactivity sequences and opens
	// a new cycle when either had advanced.
	ResetEngagement bool
	// Touch moves updated_at to now. Progress-only writes leave it alone so
	// inactivity keeps measuring real CRM activity.
	Touch bool
}

// IsZero reports whether the update would write nothing.
func (u LeadUpdate) IsZero() bool {
	return u.Score == nil && u.Stage == nil && u.ConversationClosed == nil && u.LastMessageAt == nil &&
		u.Mark.IsZero() && !u.ResetEngagement && !u.Touch
}

// LeadReader loads lead snapshots.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	FindLeads(ctx context.Context, filter LeadFilter) ([]domain.Lead, error)
}

// LeadWriter applies partial lead updates.
type LeadWriter interface {
	UpdateLead(ctx context.Context, id uuid.UUID, update LeadUpdate) error
}

// LeadStore is the full lead contract.
type LeadStore interface {
	LeadReader
	LeadWriter
}
