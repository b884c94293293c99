// Package scoring computes a lead's priority from weighted behavioural and
// business signals. ComputeScore is pure; Service persists the result.
package scoring

import (
	"math"
	"strings"
	"time"
	"unicode"

	"travel_crm_backend/internal/leads/domain"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Maximum contribution of each factor. Urgency is a bonus on top of the
// 100-point base, so the raw sum can exceed 100 and is capped.
const (
	maxBudget         = 30.0
	maxResponsiveness = 20.0
	maxEngagement     = 20.0
	maxChannel        = 15.0
	maxRecurrence     = 10.0
	maxCompleteness   = 5.0
	maxUrgency        = 5.0
)

// Grade is the letter band of a total score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Priority is the work tier derived from the score and trip urgency.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SuggestedAction tells consultants how to treat a lead of a given priority.
type SuggestedAction string

const (
	ActionCallNow           SuggestedAction = "call_now"
	ActionPersonalFollowUp  SuggestedAction = "personal_follow_up"
	ActionAutomatedFollowUp SuggestedAction = "automated_follow_up"
	ActionNurture           SuggestedAction = "nurture"
)

// Breakdown is the weighted-factor decomposition of a lead score.
type Breakdown struct {
	Budget         float64  `json:"budget"`
	Responsiveness float64  `json:"responsiveness"`
	Engagement     float64  `json:"engagement"`
	Channel        float64  `json:"channel"`
	Recurrence     float64  `json:"recurrence"`
	Completeness   float64  `json:"completeness"`
	Urgency        float64  `json:"urgency"`
	Total          int      `json:"total"`
	Grade          Grade    `json:"grade"`
	Priority       Priority `json:"priority"`
}

// SuggestedAction maps the breakdown's priority onto a consultant action.
func (b Breakdown) SuggestedAction() SuggestedAction {
	return SuggestedActionFor(b.Priority)
}

// Factors returns the non-zero sub-scores keyed by name.
func (b Breakdown) Factors() map[string]float64 {
	factors := make(map[string]float64, 7)
	addFactor(factors, "budget", b.Budget)
	addFactor(factors, "responsiveness", b.Responsiveness)
	addFactor(factors, "engagement", b.Engagement)
	addFactor(factors, "channel", b.Channel)
	addFactor(factors, "recurrence", b.Recurrence)
	addFactor(factors, "completeness", b.Completeness)
	addFactor(factors, "urgency", b.Urgency)
	return factors
}

// ComputeScore scores a lead snapshot at now. It never fails: absent or
// malformed inputs contribute zero.
func ComputeScore(lead domain.Lead, now time.Time) Breakdown {
	b := Breakdown{
		Budget:         round1(scoreBudget(lead.Budget)),
		Responsiveness: round1(scoreResponsiveness(lead.LastMessageAt, now)),
		Engagement:     round1(scoreEngagement(lead.EngagementLevel, lead.MessageCount)),
		Channel:        round1(scoreChannel(lead.Channel)),
		Recurrence:     round1(scoreRecurrence(lead.Recurring)),
		Completeness:   round1(scoreCompleteness(lead)),
		Urgency:        round1(scoreUrgency(lead.DepartureDate, now)),
	}

	sum := b.Budget + b.Responsiveness + b.Engagement + b.Channel + b.Recurrence + b.Completeness + b.Urgency
	b.Total = clampScore(sum)
	b.Grade = GradeFor(b.Total)
	b.Priority = PriorityFor(b.Total, b.Urgency)
	return b
}

// GradeFor bands a total score.
func GradeFor(total int) Grade {
	switch {
	case total >= 90:
		return GradeA
	case total >= 75:
		return GradeB
	case total >= 60:
		return GradeC
	case total >= 45:
		return GradeD
	default:
		return GradeF
	}
}

// PriorityFor tiers a lead. A departure within two weeks is urgent whatever the total.
func PriorityFor(total int, urgency float64) Priority {
	switch {
	case total >= 80 || urgency >= 4:
		return PriorityUrgent
	case total >= 65:
		return PriorityHigh
	case total >= 45:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// SuggestedActionFor maps a priority onto a consultant action.
func SuggestedActionFor(p Priority) SuggestedAction {
	switch p {
	case PriorityUrgent:
		return ActionCallNow
	case PriorityHigh:
		return ActionPersonalFollowUp
	case PriorityMedium:
		return ActionAutomatedFollowUp
	default:
		return ActionNurture
	}
}

func scoreBudget(raw string) float64 {
	amount, ok := ParseBudget(raw)
	if !ok {
		return 0
	}
	switch {
	case amount >= 50_000:
		return maxBudget
	case amount >= 30_000:
		return 27
	case amount >= 20_000:
		return 24
	case amount >= 10_000:
		return 20
	case amount >= 5_000:
		return 15
	case amount >= 2_000:
		return 10
	default:
		return 5
	}
}

// scoreResponsiveness rewards leads whose last message is recent.
// Timestamps in the future (clock skew) count as just now.
func scoreResponsiveness(lastMessageAt *time.Time, now time.Time) float64 {
	if lastMessageAt == nil || lastMessageAt.IsZero() {
		return 0
	}
	minutes := now.Sub(*lastMessageAt).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	switch {
	case minutes <= 5:
		return maxResponsiveness
	case minutes <= 15:
		return 18
	case minutes <= 30:
		return 15
	case minutes <= 60:
		return 12
	case minutes <= 180:
		return 8
	case minutes <= 1440:
		return 4
	default:
		return 0
	}
}

// scoreEngagement prefers an explicit engagement tag and falls back to the
// message count when the tag is absent or unrecognised.
func scoreEngagement(level string, messageCount int) float64 {
	switch foldTag(level) {
	case "high", "alta", "alto":
		return maxEngagement
	case "medium", "media", "medio":
		return 10
	case "low", "baixa", "baixo":
		return 5
	}

	switch {
	case messageCount > 20:
		return maxEngagement
	case messageCount > 10:
		return 15
	case messageCount > 5:
		return 10
	case messageCount > 2:
		return 5
	default:
		return 0
	}
}

var channelPoints = map[domain.Channel]float64{
	domain.ChannelWhatsApp: maxChannel,
	domain.ChannelInPerson: maxChannel,
	domain.ChannelPhone:    12,
	domain.ChannelWebChat:  10,
	domain.ChannelSocial:   8,
	domain.ChannelUnknown:  6,
	domain.ChannelEmail:    4,
}

func scoreChannel(ch domain.Channel) float64 {
	return channelPoints[ch]
}

func scoreRecurrence(recurring bool) float64 {
	if recurring {
		return maxRecurrence
	}
	return 0
}

// scoreCompleteness gives the full value to complete profiles. Qualified
// leads without the flag earn a share for each of budget, channel and
// time-to-travel they have filled in.
func scoreCompleteness(lead domain.Lead) float64 {
	if lead.ProfileComplete {
		return maxCompleteness
	}
	// Qualification is what unlocks partial credit; unqualified leads with
	// a filled-in budget still score zero here.
	if !lead.Qualified {
		return 0
	}
	present := 0
	if strings.TrimSpace(lead.Budget) != "" {
		present++
	}
	if lead.Channel != "" {
		present++
	}
	if strings.TrimSpace(lead.TimeToTravel) != "" {
		present++
	}
	return maxCompleteness * float64(present) / 3
}

func scoreUrgency(departure *time.Time, now time.Time) float64 {
	if departure == nil || departure.IsZero() {
		return 0
	}
	days := domain.CalendarDaysBetween(now, *departure)
	switch {
	case days < 0:
		return 0
	case days <= 7:
		return maxUrgency
	case days <= 14:
		return 4
	case days <= 30:
		return 3
	case days <= 60:
		return 2
	default:
		return 1
	}
}

// foldTag lower-cases a tag and strips accents so "Média" matches "media".
func foldTag(tag string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, strings.ToLower(strings.TrimSpace(tag)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(tag))
	}
	return folded
}

func addFactor(factors map[string]float64, key string, value float64) {
	if math.Abs(value) < 0.01 {
		return
	}
	factors[key] = round1(value)
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func clampScore(value float64) int {
	rounded := int(math.Round(value))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
