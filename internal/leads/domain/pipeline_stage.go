package domain

import "strings"

// Stage is a lead's position in the sales pipeline.
type Stage string

const (
	StageNew          Stage = "New"
	StageQualifying   Stage = "Qualifying"
	StageProposal     Stage = "Proposal"
	StageNegotiation  Stage = "Negotiation"
	StageClosed       Stage = "Closed"
	StageLost         Stage = "Lost"
	StageCancelled    Stage = "Cancelled"
	StageWaitingHuman Stage = "Waiting_Human"
)

var knownStages = map[Stage]struct{}{
	StageNew:          {},
	StageQualifying:   {},
	StageProposal:     {},
	StageNegotiation:  {},
	StageClosed:       {},
	StageLost:         {},
	StageCancelled:    {},
	StageWaitingHuman: {},
}

// IsKnownStage reports whether stage is one of the pipeline stages.
func IsKnownStage(stage Stage) bool {
	_, ok := knownStages[stage]
	return ok
}

// ParseStage matches case-insensitively and treats spaces and dashes as underscores.
func ParseStage(raw string) (Stage, bool) {
	normalized := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(raw))
	for stage := range knownStages {
		if strings.EqualFold(string(stage), normalized) {
			return stage, true
		}
	}
	return "", false
}

// IsTerminal reports whether the lead has left the active pipeline.
// Closed counts as terminal for nudges even though the trip itself is still ahead.
func (s Stage) IsTerminal() bool {
	return s == StageClosed || s == StageLost || s == StageCancelled
}

// IsAutomationPaused reports whether automated nudges must hold off because a
// consultant owns the conversation.
func (s Stage) IsAutomationPaused() bool {
	return s == StageWaitingHuman
}
