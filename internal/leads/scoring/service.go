package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"travel_crm_backend/internal/events"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"
	"travel_crm_backend/platform/apperr"
	"travel_crm_backend/platform/logger"

	"github.com/google/uuid"
)

const defaultRecalcBatchSize = 200

// Result holds the outcome of one recalculation.
type Result struct {
	LeadID        uuid.UUID `json:"leadId"`
	PreviousScore int       `json:"previousScore"`
	Breakdown     Breakdown `json:"breakdown"`
	Updated       bool      `json:"updated"`
	ComputedAt    time.Time `json:"computedAt"`
}

// BatchSummary reports a full recalculation sweep.
type BatchSummary struct {
	Scanned int      `json:"scanned"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

// Service computes lead scores and writes changed totals back to the lead.
type Service struct {
	leads ports.LeadStore
	bus   events.Bus
	log   *logger.Logger
	now   func() time.Time
}

// New creates a new scoring service.
func New(leads ports.LeadStore, bus events.Bus, log *logger.Logger) *Service {
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Service{leads: leads, bus: bus, log: log, now: time.Now}
}

// NeedsUpdate reports whether a freshly computed total differs from the stored score.
func NeedsUpdate(stored int, computed Breakdown) bool {
	return stored != computed.Total
}

// Recalculate scores one lead and persists the total when it changed.
func (s *Service) Recalculate(ctx context.Context, leadID uuid.UUID) (*Result, error) {
	lead, err := s.leads.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, ports.ErrLeadNotFound) {
			return nil, apperr.NotFound("lead not found")
		}
		return nil, fmt.Errorf("load lead %s: %w", leadID, err)
	}
	return s.apply(ctx, lead, s.now().UTC())
}

// RecalculateAll sweeps active leads page by page. A failing lead is logged
// and skipped; the sweep only stops when a page cannot be read.
func (s *Service) RecalculateAll(ctx context.Context, batchSize int) (BatchSummary, error) {
	if batchSize < 1 {
		batchSize = defaultRecalcBatchSize
	}

	var summary BatchSummary
	filter := ports.LeadFilter{
		ExcludeStages: []domain.Stage{domain.StageLost, domain.StageCancelled},
		Limit:         batchSize,
	}
	now := s.now().UTC()

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		page, err := s.leads.FindLeads(ctx, filter)
		if err != nil {
			return summary, fmt.Errorf("list leads for scoring: %w", err)
		}
		for _, lead := range page {
			summary.Scanned++
			res, err := s.apply(ctx, lead, now)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("lead %s: %v", lead.ID, err))
				continue
			}
			if res.Updated {
				summary.Updated++
			}
		}
		if len(page) < batchSize {
			return summary, nil
		}
		filter.AfterID = page[len(page)-1].ID
	}
}

func (s *Service) apply(ctx context.Context, lead domain.Lead, now time.Time) (*Result, error) {
	breakdown := ComputeScore(lead, now)
	result := &Result{
		LeadID:        lead.ID,
		PreviousScore: lead.Score,
		Breakdown:     breakdown,
		ComputedAt:    now,
	}

	if !NeedsUpdate(lead.Score, breakdown) {
		return result, nil
	}

	total := breakdown.Total
	if err := s.leads.UpdateLead(ctx, lead.ID, ports.LeadUpdate{Score: &total}); err != nil {
		s.log.DatabaseError("update lead score", err)
		return nil, fmt.Errorf("persist score: %w", err)
	}
	result.Updated = true

	s.bus.Publish(ctx, events.LeadScoreUpdated{
		BaseEvent:     events.NewBaseEventAt(now),
		LeadID:        lead.ID,
		PreviousScore: lead.Score,
		Score:         total,
		Grade:         string(breakdown.Grade),
		Priority:      string(breakdown.Priority),
	})
	s.log.Debug("lead score updated", "leadId", lead.ID.String(), "previous", lead.Score, "score", total, "factors", breakdown.Factors())
	return result, nil
}
