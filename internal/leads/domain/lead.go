// Package domain holds the lead snapshot the scoring and follow-up engines read.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Engagement level tags set by consultants or the chat pipeline.
const (
	EngagementHigh   = "high"
	EngagementMedium = "medium"
	EngagementLow    = "low"
)

// Lead is a read-only snapshot of a lead for one evaluation pass.
// Every optional field may be zero; scoring and rule evaluation treat zero as absent.
type Lead struct {
	ID              uuid.UUID
	Name            string
	Phone           string
	Email           string
	Channel         Channel
	Budget          string
	MessageCount    int
	EngagementLevel string
	Qualified       bool
	Recurring       bool
	ProfileComplete bool
	TimeToTravel    string
	Destination     string
	TravelType      TravelType
	Stage           Stage

	// Date-only values; compared by their calendar components.
	DepartureDate *time.Time
	ReturnDate    *time.Time
	BirthDate     *PartialDate

	// LastMessageAt is the last inbound customer message.
	LastMessageAt      *time.Time
	ConversationClosed bool
	Score              int
	CreatedAt          time.Time
	// UpdatedAt tracks CRM activity. Follow-up progress writes do not move it.
	UpdatedAt time.Time

	Progress Progress
}

// HasPhone reports whether a WhatsApp address is on file.
func (l Lead) HasPhone() bool {
	return strings.TrimSpace(l.Phone) != ""
}

// HasEmail reports whether an email address is on file.
func (l Lead) HasEmail() bool {
	return strings.TrimSpace(l.Email) != ""
}

// PreferredDeliveryChannel picks where automated follow-ups go: email for
// leads who reached out by email or who only left an email address, WhatsApp otherwise.
func (l Lead) PreferredDeliveryChannel() Channel {
	if l.Channel == ChannelEmail && l.HasEmail() {
		return ChannelEmail
	}
	if !l.HasPhone() && l.HasEmail() {
		return ChannelEmail
	}
	return ChannelWhatsApp
}
