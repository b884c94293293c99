package transport

import (
	"time"

	"github.com/google/uuid"
)

// StageChangedRequest reports a pipeline stage move made outside the engine.
type StageChangedRequest struct {
	ChangedAt *time.Time `json:"changedAt"`
}

// InboundMessageRequest reports a customer reply.
type InboundMessageRequest struct {
	ReceivedAt *time.Time `json:"receivedAt"`
}

// CancelFollowUpRequest cancels one pending follow-up.
type CancelFollowUpRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// ListFollowUpsQuery filters the follow-up listing.
type ListFollowUpsQuery struct {
	LeadID   string `form:"leadId" validate:"omitempty,uuid"`
	Status   string `form:"status" validate:"omitempty,oneof=pending sending sent failed cancelled"`
	RuleType string `form:"ruleType" validate:"omitempty,max=64"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

type RecalculateAllRequest struct {
	BatchSize int `json:"batchSize" validate:"omitempty,min=1,max=1000"`
}

// QueuedResponse is returned when work was handed to the task queue.
type QueuedResponse struct {
	Status string    `json:"status"`
	LeadID uuid.UUID `json:"leadId,omitempty"`
}

type InboundMessageResponse struct {
	LeadID    uuid.UUID `json:"leadId"`
	Cancelled int       `json:"cancelled"`
}

type ContactUpdatedResponse struct {
	LeadID   uuid.UUID `json:"leadId"`
	Requeued int       `json:"requeued"`
}

type FollowUpListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
