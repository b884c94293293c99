// Package repository is the PostgreSQL implementation of the follow-up store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultListLimit = 500

// Repository is the PostgreSQL follow-up store.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps an open pool; migrations are applied by the caller.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ followups.Store = (*Repository)(nil)

const leadColumns = `id, name, phone, email, channel, budget, message_count, engagement_level,
	qualified, recurring, profile_complete, time_to_travel, destination, travel_type, stage,
	departure_date, return_date, birth_date, last_message_at, conversation_closed, score,
	created_at, updated_at,
	followup_no_response_step, followup_inactivity_step, followup_reminder_7d, followup_reminder_1d,
	followup_reminder_day, followup_feedback, followup_closure, followup_birthday_year, followup_cycle`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead                                  domain.Lead
		channel, travelType, stage, birthDate string
		noResponseStep, inactivityStep        int16
	)
	err := row.Scan(
		&lead.ID, &lead.Name, &lead.Phone, &lead.Email, &channel, &lead.Budget, &lead.MessageCount, &lead.EngagementLevel,
		&lead.Qualified, &lead.Recurring, &lead.ProfileComplete, &lead.TimeToTravel, &lead.Destination, &travelType, &stage,
		&lead.DepartureDate, &lead.ReturnDate, &birthDate, &lead.LastMessageAt, &lead.ConversationClosed, &lead.Score,
		&lead.CreatedAt, &lead.UpdatedAt,
		&noResponseStep, &inactivityStep, &lead.Progress.Reminder7d, &lead.Progress.Reminder1d,
		&lead.Progress.ReminderDay, &lead.Progress.Feedback, &lead.Progress.ClosureConfirmation,
		&lead.Progress.BirthdayYear, &lead.Progress.Cycle,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	lead.Channel = domain.ParseChannel(channel)
	lead.TravelType = domain.ParseTravelType(travelType)
	if parsed, ok := domain.ParseStage(stage); ok {
		lead.Stage = parsed
	} else {
		lead.Stage = domain.Stage(stage)
	}
	if bd, ok := domain.ParsePartialDate(birthDate); ok {
		lead.BirthDate = &bd
	}
	lead.Progress.NoResponse = domain.NoResponseStep(noResponseStep)
	lead.Progress.Inactivity = domain.InactivityStep(inactivityStep)
	return lead, nil
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ports.ErrLeadNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (r *Repository) FindLeads(ctx context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	conds := []string{"TRUE"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.IDs) > 0 {
		conds = append(conds, "id = ANY("+arg(filter.IDs)+")")
	}
	if len(filter.Stages) > 0 {
		conds = append(conds, "stage = ANY("+arg(toStrings(filter.Stages))+")")
	}
	if len(filter.ExcludeStages) > 0 {
		conds = append(conds, "stage <> ALL("+arg(toStrings(filter.ExcludeStages))+")")
	}
	if filter.AfterID != uuid.Nil {
		conds = append(conds, "id > "+arg(filter.AfterID))
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultListLimit
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY id ASC LIMIT ` + arg(limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return leads, nil
}

// UpdateLead applies a partial update. Progress marks only ever raise
// steps and set flags; last_message_at only moves forward.
func (r *Repository) UpdateLead(ctx context.Context, id uuid.UUID, u ports.LeadUpdate) error {
	if u.IsZero() {
		return nil
	}

	var stage *string
	if u.Stage != nil {
		s := string(*u.Stage)
		stage = &s
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET
			score = COALESCE($2::int, score),
			score_updated_at = CASE WHEN $2::int IS NULL THEN score_updated_at ELSE now() END,
			stage = COALESCE($3::text, stage),
			conversation_closed = COALESCE($4::boolean, conversation_closed),
			last_message_at = CASE
				WHEN $5::timestamptz IS NULL THEN last_message_at
				ELSE GREATEST(COALESCE(last_message_at, $5::timestamptz), $5::timestamptz)
			END,
			followup_cycle = CASE
				WHEN $6 AND (followup_no_response_step > 0 OR followup_inactivity_step > 0) THEN followup_cycle + 1
				ELSE followup_cycle
			END,
			followup_no_response_step = CASE
				WHEN $6 THEN $7::smallint
				WHEN $16::int IS NOT NULL AND followup_cycle <> $16::int THEN followup_no_response_step
				ELSE GREATEST(followup_no_response_step, $7::smallint)
			END,
			followup_inactivity_step = CASE
				WHEN $6 THEN $8::smallint
				WHEN $16::int IS NOT NULL AND followup_cycle <> $16::int THEN followup_inactivity_step
				ELSE GREATEST(followup_inactivity_step, $8::smallint)
			END,
			followup_reminder_7d = followup_reminder_7d OR $9,
			followup_reminder_1d = followup_reminder_1d OR $10,
			followup_reminder_day = followup_reminder_day OR $11,
			followup_feedback = followup_feedback OR $12,
			followup_closure = followup_closure OR $13,
			followup_birthday_year = GREATEST(followup_birthday_year, $14::int),
			updated_at = CASE WHEN $15 THEN now() ELSE updated_at END
		WHERE id = $1`,
		id, u.Score, stage, u.ConversationClosed, u.LastMessageAt,
		u.ResetEngagement, int16(u.Mark.NoResponse), int16(u.Mark.Inactivity),
		u.Mark.Reminder7d, u.Mark.Reminder1d, u.Mark.ReminderDay, u.Mark.Feedback, u.Mark.ClosureConfirmation,
		u.Mark.BirthdayYear, u.Touch, u.MarkCycle,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrLeadNotFound
	}
	return nil
}
