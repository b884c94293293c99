package scoring

import (
	"strconv"
	"testing"
	"time"

	"travel_crm_backend/internal/leads/domain"
)

var scoringNow = time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestComputeScoreBudgetOnlyScenario(t *testing.T) {
	got := ComputeScore(domain.Lead{Budget: "R$ 25.000"}, scoringNow)

	if got.Budget != 24 {
		t.Fatalf("expected budget 24, got %v", got.Budget)
	}
	if got.Responsiveness+got.Engagement+got.Channel+got.Recurrence+got.Completeness+got.Urgency != 0 {
		t.Fatalf("expected all other factors zero, got %+v", got)
	}
	if got.Total != 24 || got.Grade != GradeF || got.Priority != PriorityLow {
		t.Fatalf("expected 24/F/low, got %d/%s/%s", got.Total, got.Grade, got.Priority)
	}
	if got.SuggestedAction() != ActionNurture {
		t.Fatalf("expected nurture, got %s", got.SuggestedAction())
	}
}

func TestComputeScoreIsDeterministic(t *testing.T) {
	lead := domain.Lead{
		Budget:        "R$ 42.000",
		LastMessageAt: timePtr(scoringNow.Add(-20 * time.Minute)),
		MessageCount:  12,
		Channel:       domain.ChannelWhatsApp,
		Recurring:     true,
		Qualified:     true,
		TimeToTravel:  "dezembro",
		DepartureDate: timePtr(time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC)),
	}
	first := ComputeScore(lead, scoringNow)
	for i := 0; i < 50; i++ {
		if again := ComputeScore(lead, scoringNow); again != first {
			t.Fatalf("expected identical breakdowns, got %+v then %+v", first, again)
		}
	}
}

func TestComputeScoreIsBounded(t *testing.T) {
	budgets := []string{"", "lixo", "1", "R$ 9.999", "R$ 1.000.000"}
	offsets := []time.Duration{-time.Hour, 0, 3 * time.Minute, 2 * time.Hour, 72 * time.Hour}
	channels := []domain.Channel{"", domain.ChannelEmail, domain.ChannelWhatsApp, domain.ChannelUnknown}
	counts := []int{0, 3, 50}

	for _, budget := range budgets {
		for _, offset := range offsets {
			for _, ch := range channels {
				for _, count := range counts {
					for _, flag := range []bool{false, true} {
						lead := domain.Lead{
							Budget:          budget,
							LastMessageAt:   timePtr(scoringNow.Add(-offset)),
							Channel:         ch,
							MessageCount:    count,
							Recurring:       flag,
							ProfileComplete: flag,
							EngagementLevel: map[bool]string{true: "alta", false: ""}[flag],
							DepartureDate:   timePtr(scoringNow.AddDate(0, 0, 3)),
						}
						got := ComputeScore(lead, scoringNow)
						if got.Total < 0 || got.Total > 100 {
							t.Fatalf("total %d out of bounds for %+v", got.Total, lead)
						}
					}
				}
			}
		}
	}
}

func TestComputeScoreCapsAtHundred(t *testing.T) {
	lead := domain.Lead{
		Budget:          "R$ 80.000",
		LastMessageAt:   timePtr(scoringNow.Add(-time.Minute)),
		EngagementLevel: "high",
		Channel:         domain.ChannelInPerson,
		Recurring:       true,
		ProfileComplete: true,
		DepartureDate:   timePtr(scoringNow.AddDate(0, 0, 2)),
	}
	got := ComputeScore(lead, scoringNow)
	if got.Total != 100 || got.Grade != GradeA || got.Priority != PriorityUrgent {
		t.Fatalf("expected capped 100/A/urgent, got %+v", got)
	}
}

func TestBudgetScoreIsMonotonic(t *testing.T) {
	prev := -1.0
	for amount := 0; amount <= 80_000; amount += 250 {
		got := scoreBudget(strconv.Itoa(amount))
		if got < prev {
			t.Fatalf("budget score decreased at %d: %v < %v", amount, got, prev)
		}
		prev = got
	}
}

func TestResponsivenessIsMonotonic(t *testing.T) {
	prev := -1.0
	for minutes := 3000; minutes >= 0; minutes-- {
		last := scoringNow.Add(-time.Duration(minutes) * time.Minute)
		got := scoreResponsiveness(&last, scoringNow)
		if got < prev {
			t.Fatalf("responsiveness decreased at %d minutes: %v < %v", minutes, got, prev)
		}
		prev = got
	}
}

func TestResponsivenessSteps(t *testing.T) {
	cases := map[time.Duration]float64{
		5 * time.Minute:   20,
		6 * time.Minute:   18,
		30 * time.Minute:  15,
		60 * time.Minute:  12,
		3 * time.Hour:     8,
		24 * time.Hour:    4,
		24*time.Hour + 1:  0,
		-10 * time.Minute: 20,
	}
	for ago, want := range cases {
		last := scoringNow.Add(-ago)
		if got := scoreResponsiveness(&last, scoringNow); got != want {
			t.Fatalf("scoreResponsiveness(%s ago) = %v, want %v", ago, got, want)
		}
	}
	if scoreResponsiveness(nil, scoringNow) != 0 {
		t.Fatal("expected missing timestamp to score 0")
	}
}

func TestEngagementTagOverridesCount(t *testing.T) {
	if got := scoreEngagement("Média", 50); got != 10 {
		t.Fatalf("expected accent-folded medium tag to score 10, got %v", got)
	}
	if got := scoreEngagement("", 11); got != 15 {
		t.Fatalf("expected count 11 to score 15, got %v", got)
	}
	if got := scoreEngagement("sei lá", 3); got != 5 {
		t.Fatalf("expected unknown tag to fall back to count, got %v", got)
	}
}

func TestChannelTable(t *testing.T) {
	if scoreChannel(domain.ChannelWhatsApp) <= scoreChannel(domain.ChannelEmail) {
		t.Fatal("expected direct messaging above email")
	}
	if scoreChannel(domain.ChannelUnknown) <= scoreChannel(domain.ChannelEmail) || scoreChannel(domain.ChannelUnknown) >= scoreChannel(domain.ChannelWebChat) {
		t.Fatal("expected unknown between email and webchat")
	}
	if scoreChannel("") != 0 {
		t.Fatal("expected absent channel to score 0")
	}
}

func TestCompletenessForQualifiedLead(t *testing.T) {
	lead := domain.Lead{Qualified: true, Budget: "10k", Channel: domain.ChannelPhone}
	if got := round1(scoreCompleteness(lead)); got != 3.3 {
		t.Fatalf("expected 2/3 of 5, got %v", got)
	}
	lead.ProfileComplete = true
	if got := scoreCompleteness(lead); got != 5 {
		t.Fatalf("expected complete profile to score 5, got %v", got)
	}
}

func TestUrgencyAndPriority(t *testing.T) {
	cases := []struct {
		days int
		want float64
	}{
		{0, 5}, {7, 5}, {8, 4}, {14, 4}, {30, 3}, {60, 2}, {61, 1}, {-1, 0},
	}
	for _, tc := range cases {
		dep := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, tc.days)
		if got := scoreUrgency(&dep, scoringNow); got != tc.want {
			t.Fatalf("urgency for %d days = %v, want %v", tc.days, got, tc.want)
		}
	}

	if PriorityFor(30, 4) != PriorityUrgent {
		t.Fatal("expected urgency >= 4 to force urgent priority")
	}
	if PriorityFor(65, 0) != PriorityHigh || PriorityFor(45, 3) != PriorityMedium || PriorityFor(44, 0) != PriorityLow {
		t.Fatal("unexpected priority thresholds")
	}
}

func TestGradeThresholds(t *testing.T) {
	cases := map[int]Grade{100: GradeA, 90: GradeA, 89: GradeB, 75: GradeB, 60: GradeC, 45: GradeD, 44: GradeF, 0: GradeF}
	for total, want := range cases {
		if got := GradeFor(total); got != want {
			t.Fatalf("GradeFor(%d) = %s, want %s", total, got, want)
		}
	}
}
