package domain

// NoResponseStep is how far the no-response sequence has advanced in the
// current engagement cycle. Steps only move forward.
type NoResponseStep int

const (
	NoResponseNone NoResponseStep = iota
	NoResponse2h
	NoResponse4h
	NoResponse1d
	NoResponse2d
	NoResponse3d
)

func (s NoResponseStep) String() string {
	switch s {
	case NoResponse2h:
		return "2h"
	case NoResponse4h:
		return "4h"
	case NoResponse1d:
		return "1d"
	case NoResponse2d:
		return "2d"
	case NoResponse3d:
		return "3d"
	default:
		return "none"
	}
}

// InactivityStep is how far the reactivation sequence has advanced.
type InactivityStep int

const (
	InactivityNone InactivityStep = iota
	Inactivity30d
	Inactivity45d
)

func (s InactivityStep) String() string {
	switch s {
	case Inactivity30d:
		return "30d"
	case Inactivity45d:
		return "45d"
	default:
		return "none"
	}
}

// Progress records which follow-ups a lead has already been given.
// Sequential families are ordinal steps, so a later step can never be set
// without the earlier ones; independent reminders are plain flags.
type Progress struct {
	NoResponse          NoResponseStep
	Inactivity          InactivityStep
	Reminder7d          bool
	Reminder1d          bool
	ReminderDay         bool
	Feedback            bool
	ClosureConfirmation bool
	// BirthdayYear is the last calendar year a birthday greeting was created.
	BirthdayYear int
	// Cycle counts engagement resets; sequence dedupe keys include it.
	Cycle int
}

// ProgressMark is a monotonic update: steps are raised to at least the given
// value, true flags are set, and BirthdayYear is raised. Zero fields change nothing.
type ProgressMark struct {
	NoResponse          NoResponseStep
	Inactivity          InactivityStep
	Reminder7d          bool
	Reminder1d          bool
	ReminderDay         bool
	Feedback            bool
	ClosureConfirmation bool
	BirthdayYear        int
}

// IsZero reports whether the mark would change nothing.
func (m ProgressMark) IsZero() bool {
	return m == ProgressMark{}
}

// Apply merges a mark into the progress. Applying the same mark twice is a no-op.
func (p Progress) Apply(m ProgressMark) Progress {
	if m.NoResponse > p.NoResponse {
		p.NoResponse = m.NoResponse
	}
	if m.Inactivity > p.Inactivity {
		p.Inactivity = m.Inactivity
	}
	p.Reminder7d = p.Reminder7d || m.Reminder7d
	p.Reminder1d = p.Reminder1d || m.Reminder1d
	p.ReminderDay = p.ReminderDay || m.ReminderDay
	p.Feedback = p.Feedback || m.Feedback
	p.ClosureConfirmation = p.ClosureConfirmation || m.ClosureConfirmation
	if m.BirthdayYear > p.BirthdayYear {
		p.BirthdayYear = m.BirthdayYear
	}
	return p
}

// ApplyInCycle is Apply for a mark computed in the given cycle. Sequence
// steps from an older cycle are dropped so they cannot skip steps of the
// current one.
func (p Progress) ApplyInCycle(m ProgressMark, cycle int) Progress {
	if cycle != p.Cycle {
		m.NoResponse = NoResponseNone
		m.Inactivity = InactivityNone
	}
	return p.Apply(m)
}

// ResetEngagement clears the sequences a new inbound message restarts and
// opens a new cycle. Trip reminders, feedback, closure and birthday state is kept.
// The cycle only advances when there was something to reset.
func (p Progress) ResetEngagement() Progress {
	if p.NoResponse == NoResponseNone && p.Inactivity == InactivityNone {
		return p
	}
	p.NoResponse = NoResponseNone
	p.Inactivity = InactivityNone
	p.Cycle++
	return p
}

// NoResponse2hSent and friends expose the sequence as per-rule guard flags.
func (p Progress) NoResponse2hSent() bool  { return p.NoResponse >= NoResponse2h }
func (p Progress) NoResponse4hSent() bool  { return p.NoResponse >= NoResponse4h }
func (p Progress) NoResponse1dSent() bool  { return p.NoResponse >= NoResponse1d }
func (p Progress) NoResponse2dSent() bool  { return p.NoResponse >= NoResponse2d }
func (p Progress) NoResponse3dSent() bool  { return p.NoResponse >= NoResponse3d }
func (p Progress) Inactivity30dSent() bool { return p.Inactivity >= Inactivity30d }
func (p Progress) Inactivity45dSent() bool { return p.Inactivity >= Inactivity45d }
