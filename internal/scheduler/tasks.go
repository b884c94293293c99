package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskFollowUpRun is the periodic pass: stale recovery, evaluate, re-queue, dispatch.
	TaskFollowUpRun            = "followups.run"
	TaskFollowUpStageChanged   = "followups.stage_changed"
	TaskFollowUpInboundMessage = "followups.inbound_message"
	TaskFollowUpContactUpdated = "followups.contact_updated"
	TaskLeadScoreRecalculate   = "leads.score.recalculate"
	TaskLeadScoreRecalcAll     = "leads.score.recalculate_all"
)

// LeadPayload identifies the lead an on-demand task is about.
type LeadPayload struct {
	LeadID string `json:"leadId"`
}

type StageChangedPayload struct {
	LeadID    string    `json:"leadId"`
	ChangedAt time.Time `json:"changedAt"`
}

type InboundMessagePayload struct {
	LeadID     string    `json:"leadId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func newJSONTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func NewFollowUpRunTask() *asynq.Task {
	return asynq.NewTask(TaskFollowUpRun, nil)
}

func NewLeadScoreRecalcAllTask() *asynq.Task {
	return asynq.NewTask(TaskLeadScoreRecalcAll, nil)
}

func NewLeadScoreRecalculateTask(payload LeadPayload) (*asynq.Task, error) {
	return newJSONTask(TaskLeadScoreRecalculate, payload)
}

func NewContactUpdatedTask(payload LeadPayload) (*asynq.Task, error) {
	return newJSONTask(TaskFollowUpContactUpdated, payload)
}

func ParseLeadPayload(task *asynq.Task) (LeadPayload, error) {
	var payload LeadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadPayload{}, err
	}
	return payload, nil
}

func NewStageChangedTask(payload StageChangedPayload) (*asynq.Task, error) {
	return newJSONTask(TaskFollowUpStageChanged, payload)
}

func ParseStageChangedPayload(task *asynq.Task) (StageChangedPayload, error) {
	var payload StageChangedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return StageChangedPayload{}, err
	}
	return payload, nil
}

func NewInboundMessageTask(payload InboundMessagePayload) (*asynq.Task, error) {
	return newJSONTask(TaskFollowUpInboundMessage, payload)
}

func ParseInboundMessagePayload(task *asynq.Task) (InboundMessagePayload, error) {
	var payload InboundMessagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return InboundMessagePayload{}, err
	}
	return payload, nil
}
