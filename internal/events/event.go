// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, InMemoryBus, Handler) lives in platform/events.
package events

import (
	"time"

	"travel_crm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	NopBus      = events.NopBus
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Lead Events
// =============================================================================

// LeadScoreUpdated is published when a recalculated score differs from the stored one.
type LeadScoreUpdated struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	PreviousScore int       `json:"previousScore"`
	Score         int       `json:"score"`
	Grade         string    `json:"grade"`
	Priority      string    `json:"priority"`
}

func (e LeadScoreUpdated) EventName() string { return "leads.score.updated" }

// LeadStageChanged is published when the follow-up engine moves a lead's stage.
type LeadStageChanged struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	OldStage  string    `json:"oldStage"`
	NewStage  string    `json:"newStage"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changedAt"`
}

func (e LeadStageChanged) EventName() string { return "leads.stage.changed" }

// =============================================================================
// Follow-Up Events
// =============================================================================

// FollowUpScheduled is published when rule evaluation creates a pending record.
type FollowUpScheduled struct {
	BaseEvent
	RecordID        uuid.UUID `json:"recordId"`
	LeadID          uuid.UUID `json:"leadId"`
	RuleType        string    `json:"ruleType"`
	Channel         string    `json:"channel"`
	Priority        string    `json:"priority"`
	SuggestedAction string    `json:"suggestedAction"`
	ScheduledFor    time.Time `json:"scheduledFor"`
}

func (e FollowUpScheduled) EventName() string { return "followups.scheduled" }

// FollowUpDelivered is published after the delivery collaborator accepted a message.
type FollowUpDelivered struct {
	BaseEvent
	RecordID uuid.UUID `json:"recordId"`
	LeadID   uuid.UUID `json:"leadId"`
	RuleType string    `json:"ruleType"`
	Channel  string    `json:"channel"`
	SentAt   time.Time `json:"sentAt"`
}

func (e FollowUpDelivered) EventName() string { return "followups.delivered" }

// FollowUpFailed is published when a delivery attempt ends in failure.
type FollowUpFailed struct {
	BaseEvent
	RecordID    uuid.UUID `json:"recordId"`
	LeadID      uuid.UUID `json:"leadId"`
	RuleType    string    `json:"ruleType"`
	Channel     string    `json:"channel"`
	FailureKind string    `json:"failureKind"`
	Error       string    `json:"error"`
}

func (e FollowUpFailed) EventName() string { return "followups.failed" }

// FollowUpCancelled is published when a pending record is cancelled.
type FollowUpCancelled struct {
	BaseEvent
	RecordID uuid.UUID `json:"recordId"`
	LeadID   uuid.UUID `json:"leadId"`
	RuleType string    `json:"ruleType"`
	Reason   string    `json:"reason"`
}

func (e FollowUpCancelled) EventName() string { return "followups.cancelled" }

// FollowUpRunCompleted is published after a full evaluate/requeue/dispatch pass.
type FollowUpRunCompleted struct {
	BaseEvent
	RunID     uuid.UUID `json:"runId"`
	Created   int       `json:"created"`
	Requeued  int       `json:"requeued"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	ErrorsLen int       `json:"errors"`
}

func (e FollowUpRunCompleted) EventName() string { return "followups.run.completed" }
