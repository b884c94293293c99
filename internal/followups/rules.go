package followups

import (
	"fmt"
	"time"

	"travel_crm_backend/internal/leads/domain"
)

// RuleType identifies a follow-up rule and the records it creates.
type RuleType string

const (
	RuleNoResponse2h        RuleType = "no_response_2h"
	RuleNoResponse4h        RuleType = "no_response_4h"
	RuleNoResponse1d        RuleType = "no_response_1d"
	RuleNoResponse2d        RuleType = "no_response_2d"
	RuleNoResponse3d        RuleType = "no_response_3d"
	RuleInactivity30d       RuleType = "inactivity_30d"
	RuleInactivity45d       RuleType = "inactivity_45d"
	RuleTripReminder7d      RuleType = "trip_reminder_7d"
	RuleTripReminder1d      RuleType = "trip_reminder_1d"
	RuleTripReminderDay     RuleType = "trip_reminder_day"
	RulePostTripFeedback    RuleType = "post_trip_feedback"
	RuleClosureConfirmation RuleType = "closure_confirmation"
	RuleBirthday            RuleType = "birthday"
)

// Family groups rules that share a progress guard.
type Family string

const (
	FamilyNoResponse   Family = "no_response"
	FamilyInactivity   Family = "inactivity"
	FamilyTripReminder Family = "trip_reminder"
	FamilyFeedback     Family = "feedback"
	FamilyClosure      Family = "closure"
	FamilyBirthday     Family = "birthday"
)

// Trigger says which entry point evaluates a rule.
type Trigger string

const (
	TriggerPeriodic    Trigger = "periodic"
	TriggerStageChange Trigger = "stage_change"
)

// Effect is a lead mutation applied after a rule's record is created.
type Effect int

const (
	EffectNone Effect = iota
	// EffectCloseAsLost moves the lead to Lost and closes the conversation.
	EffectCloseAsLost
)

// Moment is the evaluation instant together with the agency time zone used
// for calendar-day rules.
type Moment struct {
	Now      time.Time
	Location *time.Location
}

// Local returns Now in the agency time zone.
func (m Moment) Local() time.Time {
	if m.Location == nil {
		return m.Now
	}
	return m.Now.In(m.Location)
}

// DaysUntil counts agency calendar days from today to the date-only value d.
func (m Moment) DaysUntil(d time.Time) int {
	return domain.CalendarDaysBetween(m.Local(), d)
}

// Rule is one row of the follow-up table.
type Rule struct {
	Type     RuleType
	Family   Family
	Trigger  Trigger
	Template string
	// Channel overrides the lead's preferred delivery channel when set.
	Channel domain.Channel
	Effect  Effect
	// SameDay rules greet a calendar occasion; their records lapse once the
	// agency day they were created on is over.
	SameDay bool

	due    func(domain.Lead, Moment) bool
	sent   func(domain.Progress, Moment) bool
	mark   func(Moment) domain.ProgressMark
	dedupe func(domain.Lead, Moment) string
}

// Due reports whether the rule's condition holds for the lead.
func (r Rule) Due(lead domain.Lead, m Moment) bool { return r.due(lead, m) }

// Sent reports whether the rule's guard is already set.
func (r Rule) Sent(p domain.Progress, m Moment) bool { return r.sent(p, m) }

// Mark is the progress write that sets the rule's guard.
func (r Rule) Mark(m Moment) domain.ProgressMark { return r.mark(m) }

// DedupeKey is unique per lead for every record the rule may ever create.
func (r Rule) DedupeKey(lead domain.Lead, m Moment) string { return r.dedupe(lead, m) }

// Expired reports whether rec can no longer be delivered because its
// occasion has passed.
func (r Rule) Expired(rec Record, m Moment) bool {
	if !r.SameDay {
		return false
	}
	created := rec.CreatedAt
	if m.Location != nil {
		created = created.In(m.Location)
	}
	return domain.CalendarDaysBetween(created, m.Local()) > 0
}

// DeliveryChannel resolves where the rule's message goes for lead.
func (r Rule) DeliveryChannel(lead domain.Lead) domain.Channel {
	if r.Channel != "" {
		return r.Channel
	}
	return lead.PreferredDeliveryChannel()
}

// Rules is an ordered rule table.
type Rules []Rule

// Lookup finds a rule by type.
func (rs Rules) Lookup(t RuleType) (Rule, bool) {
	for _, r := range rs {
		if r.Type == t {
			return r, true
		}
	}
	return Rule{}, false
}

// TypesOf lists the rule types in the given families.
func (rs Rules) TypesOf(families ...Family) []RuleType {
	var out []RuleType
	for _, r := range rs {
		for _, f := range families {
			if r.Family == f {
				out = append(out, r.Type)
				break
			}
		}
	}
	return out
}

// DefaultRules returns the agency's follow-up table. Within a family, rules
// are listed in sequence order.
func DefaultRules() Rules {
	return Rules{
		noResponseRule(RuleNoResponse2h, domain.NoResponse2h, 2*time.Hour),
		noResponseRule(RuleNoResponse4h, domain.NoResponse4h, 4*time.Hour),
		noResponseRule(RuleNoResponse1d, domain.NoResponse1d, 24*time.Hour),
		noResponseRule(RuleNoResponse2d, domain.NoResponse2d, 48*time.Hour),
		noResponseRule(RuleNoResponse3d, domain.NoResponse3d, 72*time.Hour),
		inactivityRule(RuleInactivity30d, domain.Inactivity30d, 30),
		inactivityRule(RuleInactivity45d, domain.Inactivity45d, 45),
		tripReminderRule(RuleTripReminder7d, 7,
			func(p domain.Progress) bool { return p.Reminder7d },
			domain.ProgressMark{Reminder7d: true}),
		tripReminderRule(RuleTripReminder1d, 1,
			func(p domain.Progress) bool { return p.Reminder1d },
			domain.ProgressMark{Reminder1d: true}),
		tripReminderRule(RuleTripReminderDay, 0,
			func(p domain.Progress) bool { return p.ReminderDay },
			domain.ProgressMark{ReminderDay: true}),
		{
			Type:     RulePostTripFeedback,
			Family:   FamilyFeedback,
			Trigger:  TriggerPeriodic,
			Template: string(RulePostTripFeedback),
			due: func(lead domain.Lead, m Moment) bool {
				return lead.Stage == domain.StageClosed && lead.ReturnDate != nil && m.DaysUntil(*lead.ReturnDate) == -2
			},
			sent: func(p domain.Progress, _ Moment) bool { return p.Feedback },
			mark: func(Moment) domain.ProgressMark { return domain.ProgressMark{Feedback: true} },
			dedupe: func(lead domain.Lead, _ Moment) string {
				return string(RulePostTripFeedback) + ":" + dateKey(lead.ReturnDate)
			},
		},
		{
			Type:     RuleBirthday,
			Family:   FamilyBirthday,
			Trigger:  TriggerPeriodic,
			Template: string(RuleBirthday),
			SameDay:  true,
			due: func(lead domain.Lead, m Moment) bool {
				if lead.BirthDate == nil || lead.Stage == domain.StageLost || lead.Stage == domain.StageCancelled {
					return false
				}
				today := m.Local()
				return lead.BirthDate.OccursOn(today.Year(), today.Month(), today.Day())
			},
			sent: func(p domain.Progress, m Moment) bool { return p.BirthdayYear >= m.Local().Year() },
			mark: func(m Moment) domain.ProgressMark { return domain.ProgressMark{BirthdayYear: m.Local().Year()} },
			dedupe: func(_ domain.Lead, m Moment) string {
				return fmt.Sprintf("%s:%d", RuleBirthday, m.Local().Year())
			},
		},
		{
			Type:     RuleClosureConfirmation,
			Family:   FamilyClosure,
			Trigger:  TriggerStageChange,
			Template: string(RuleClosureConfirmation),
			due: func(lead domain.Lead, _ Moment) bool {
				return lead.Stage == domain.StageClosed
			},
			sent: func(p domain.Progress, _ Moment) bool { return p.ClosureConfirmation },
			mark: func(Moment) domain.ProgressMark { return domain.ProgressMark{ClosureConfirmation: true} },
			dedupe: func(domain.Lead, Moment) string {
				return string(RuleClosureConfirmation)
			},
		},
	}
}

// engagementOpen is the shared eligibility of the sequences that chase a
// silent lead.
func engagementOpen(lead domain.Lead) bool {
	return !lead.Stage.IsTerminal() && !lead.Stage.IsAutomationPaused()
}

func noResponseRule(t RuleType, step domain.NoResponseStep, after time.Duration) Rule {
	r := Rule{
		Type:     t,
		Family:   FamilyNoResponse,
		Trigger:  TriggerPeriodic,
		Template: string(t),
		due: func(lead domain.Lead, m Moment) bool {
			if !engagementOpen(lead) || lead.ConversationClosed || lead.LastMessageAt == nil {
				return false
			}
			if lead.Progress.NoResponse != step-1 {
				return false
			}
			return m.Now.Sub(*lead.LastMessageAt) >= after
		},
		sent: func(p domain.Progress, _ Moment) bool { return p.NoResponse >= step },
		mark: func(Moment) domain.ProgressMark { return domain.ProgressMark{NoResponse: step} },
		dedupe: func(lead domain.Lead, _ Moment) string {
			return fmt.Sprintf("%s:c%d", t, lead.Progress.Cycle)
		},
	}
	if step == domain.NoResponse3d {
		r.Effect = EffectCloseAsLost
	}
	return r
}

func inactivityRule(t RuleType, step domain.InactivityStep, days int) Rule {
	return Rule{
		Type:     t,
		Family:   FamilyInactivity,
		Trigger:  TriggerPeriodic,
		Template: string(t),
		due: func(lead domain.Lead, m Moment) bool {
			if !engagementOpen(lead) || lead.UpdatedAt.IsZero() {
				return false
			}
			if lead.Progress.Inactivity != step-1 {
				return false
			}
			return m.Now.Sub(lead.UpdatedAt) >= time.Duration(days)*24*time.Hour
		},
		sent: func(p domain.Progress, _ Moment) bool { return p.Inactivity >= step },
		mark: func(Moment) domain.ProgressMark { return domain.ProgressMark{Inactivity: step} },
		dedupe: func(lead domain.Lead, _ Moment) string {
			return fmt.Sprintf("%s:c%d", t, lead.Progress.Cycle)
		},
	}
}

func tripReminderRule(t RuleType, daysBefore int, sent func(domain.Progress) bool, mark domain.ProgressMark) Rule {
	return Rule{
		Type:     t,
		Family:   FamilyTripReminder,
		Trigger:  TriggerPeriodic,
		Template: string(t),
		SameDay:  true,
		due: func(lead domain.Lead, m Moment) bool {
			return lead.Stage == domain.StageClosed && lead.DepartureDate != nil && m.DaysUntil(*lead.DepartureDate) == daysBefore
		},
		sent: func(p domain.Progress, _ Moment) bool { return sent(p) },
		mark: func(Moment) domain.ProgressMark { return mark },
		dedupe: func(lead domain.Lead, _ Moment) string {
			return string(t) + ":" + dateKey(lead.DepartureDate)
		},
	}
}

func dateKey(d *time.Time) string {
	if d == nil {
		return "none"
	}
	return d.Format(time.DateOnly)
}
