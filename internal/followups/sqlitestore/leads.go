package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/ports"

	"github.com/google/uuid"
)

const leadColumns = `id, name, phone, email, channel, budget, message_count, engagement_level,
	qualified, recurring, profile_complete, time_to_travel, destination, travel_type, stage,
	departure_date, return_date, birth_date, last_message_at, conversation_closed, score,
	created_at, updated_at,
	followup_no_response_step, followup_inactivity_step, followup_reminder_7d, followup_reminder_1d,
	followup_reminder_day, followup_feedback, followup_closure, followup_birthday_year, followup_cycle`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (domain.Lead, error) {
	var (
		lead                                  domain.Lead
		channel, travelType, stage, birthDate string
		departure, ret, lastMessage           sql.NullString
		createdAt, updatedAt                  string
		noResponseStep, inactivityStep        int
	)
	err := row.Scan(
		&lead.ID, &lead.Name, &lead.Phone, &lead.Email, &channel, &lead.Budget, &lead.MessageCount, &lead.EngagementLevel,
		&lead.Qualified, &lead.Recurring, &lead.ProfileComplete, &lead.TimeToTravel, &lead.Destination, &travelType, &stage,
		&departure, &ret, &birthDate, &lastMessage, &lead.ConversationClosed, &lead.Score,
		&createdAt, &updatedAt,
		&noResponseStep, &inactivityStep, &lead.Progress.Reminder7d, &lead.Progress.Reminder1d,
		&lead.Progress.ReminderDay, &lead.Progress.Feedback, &lead.Progress.ClosureConfirmation,
		&lead.Progress.BirthdayYear, &lead.Progress.Cycle,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	if lead.DepartureDate, err = parseNullDate(departure); err != nil {
		return domain.Lead{}, err
	}
	if lead.ReturnDate, err = parseNullDate(ret); err != nil {
		return domain.Lead{}, err
	}
	if lead.LastMessageAt, err = parseNullTime(lastMessage); err != nil {
		return domain.Lead{}, err
	}
	if lead.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Lead{}, err
	}
	if lead.UpdatedAt, err = parseTime(updatedAt); err != nil {
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

// UpsertLead writes a full lead snapshot, progress included. The CRM side of
// a single-node install uses it to mirror leads into the database.
func (s *Store) UpsertLead(ctx context.Context, lead domain.Lead) error {
	if lead.ID == uuid.Nil {
		return errors.New("lead id is required")
	}
	now := s.now()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = lead.CreatedAt
	}
	if lead.Stage == "" {
		lead.Stage = domain.StageNew
	}
	birthDate := ""
	if lead.BirthDate != nil {
		birthDate = lead.BirthDate.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, phone = excluded.phone, email = excluded.email, channel = excluded.channel,
			budget = excluded.budget, message_count = excluded.message_count,
			engagement_level = excluded.engagement_level, qualified = excluded.qualified,
			recurring = excluded.recurring, profile_complete = excluded.profile_complete,
			time_to_travel = excluded.time_to_travel, destination = excluded.destination,
			travel_type = excluded.travel_type, stage = excluded.stage,
			departure_date = excluded.departure_date, return_date = excluded.return_date,
			birth_date = excluded.birth_date, last_message_at = excluded.last_message_at,
			conversation_closed = excluded.conversation_closed, score = excluded.score,
			updated_at = excluded.updated_at,
			followup_no_response_step = excluded.followup_no_response_step,
			followup_inactivity_step = excluded.followup_inactivity_step,
			followup_reminder_7d = excluded.followup_reminder_7d,
			followup_reminder_1d = excluded.followup_reminder_1d,
			followup_reminder_day = excluded.followup_reminder_day,
			followup_feedback = excluded.followup_feedback,
			followup_closure = excluded.followup_closure,
			followup_birthday_year = excluded.followup_birthday_year,
			followup_cycle = excluded.followup_cycle`,
		lead.ID, lead.Name, lead.Phone, lead.Email, string(lead.Channel), lead.Budget, lead.MessageCount, lead.EngagementLevel,
		lead.Qualified, lead.Recurring, lead.ProfileComplete, lead.TimeToTravel, lead.Destination, string(lead.TravelType), string(lead.Stage),
		formatDatePtr(lead.DepartureDate), formatDatePtr(lead.ReturnDate), birthDate, formatTimePtr(lead.LastMessageAt),
		lead.ConversationClosed, lead.Score,
		formatTime(lead.CreatedAt), formatTime(lead.UpdatedAt),
		int(lead.Progress.NoResponse), int(lead.Progress.Inactivity), lead.Progress.Reminder7d, lead.Progress.Reminder1d,
		lead.Progress.ReminderDay, lead.Progress.Feedback, lead.Progress.ClosureConfirmation,
		lead.Progress.BirthdayYear, lead.Progress.Cycle,
	)
	return err
}

func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lead{}, ports.ErrLeadNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (s *Store) FindLeads(ctx context.Context, filter ports.LeadFilter) ([]domain.Lead, error) {
	conds := []string{"1 = 1"}
	var args []any
	var in string

	if len(filter.IDs) > 0 {
		in, args = placeholders(args, filter.IDs)
		conds = append(conds, "id IN ("+in+")")
	}
	if len(filter.Stages) > 0 {
		in, args = placeholders(args, filter.Stages)
		conds = append(conds, "stage IN ("+in+")")
	}
	if len(filter.ExcludeStages) > 0 {
		in, args = placeholders(args, filter.ExcludeStages)
		conds = append(conds, "stage NOT IN ("+in+")")
	}
	if filter.AfterID != uuid.Nil {
		conds = append(conds, "id > ?")
		args = append(args, filter.AfterID)
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+
		strings.Join(conds, " AND ")+` ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return leads, nil
}

// UpdateLead mirrors the PostgreSQL store: marks only raise steps and set
// flags, last_message_at only moves forward.
func (s *Store) UpdateLead(ctx context.Context, id uuid.UUID, u ports.LeadUpdate) error {
	if u.IsZero() {
		return nil
	}

	var stage *string
	if u.Stage != nil {
		v := string(*u.Stage)
		stage = &v
	}
	now := formatTime(s.now())
	lastMessage := formatTimePtr(u.LastMessageAt)
	noResponse, inactivity := int(u.Mark.NoResponse), int(u.Mark.Inactivity)

	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			score = COALESCE(?, score),
			score_updated_at = CASE WHEN ? IS NULL THEN score_updated_at ELSE ? END,
			stage = COALESCE(?, stage),
			conversation_closed = COALESCE(?, conversation_closed),
			last_message_at = CASE
				WHEN ? IS NULL THEN last_message_at
				ELSE MAX(COALESCE(last_message_at, ?), ?)
			END,
			followup_cycle = CASE
				WHEN ? AND (followup_no_response_step > 0 OR followup_inactivity_step > 0) THEN followup_cycle + 1
				ELSE followup_cycle
			END,
			followup_no_response_step = CASE
				WHEN ? THEN ?
				WHEN ? IS NOT NULL AND followup_cycle <> ? THEN followup_no_response_step
				ELSE MAX(followup_no_response_step, ?)
			END,
			followup_inactivity_step = CASE
				WHEN ? THEN ?
				WHEN ? IS NOT NULL AND followup_cycle <> ? THEN followup_inactivity_step
				ELSE MAX(followup_inactivity_step, ?)
			END,
			followup_reminder_7d = followup_reminder_7d OR ?,
			followup_reminder_1d = followup_reminder_1d OR ?,
			followup_reminder_day = followup_reminder_day OR ?,
			followup_feedback = followup_feedback OR ?,
			followup_closure = followup_closure OR ?,
			followup_birthday_year = MAX(followup_birthday_year, ?),
			updated_at = CASE WHEN ? THEN ? ELSE updated_at END
		WHERE id = ?`,
		u.Score,
		u.Score, now,
		stage,
		u.ConversationClosed,
		lastMessage, lastMessage, lastMessage,
		u.ResetEngagement,
		u.ResetEngagement, noResponse, u.MarkCycle, u.MarkCycle, noResponse,
		u.ResetEngagement, inactivity, u.MarkCycle, u.MarkCycle, inactivity,
		u.Mark.Reminder7d, u.Mark.Reminder1d, u.Mark.ReminderDay, u.Mark.Feedback, u.Mark.ClosureConfirmation,
		u.Mark.BirthdayYear,
		u.Touch, now,
		id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrLeadNotFound
	}
	return nil
}
