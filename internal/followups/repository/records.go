package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const recordColumns = `id, lead_id, rule_type, dedupe_key, subject, message, channel, status, priority,
	suggested_action, scheduled_for, sent_at, attempts, error_message, failure_kind, created_at, updated_at`

func scanRecord(row pgx.Row) (followups.Record, error) {
	var (
		rec                                               followups.Record
		ruleType, channel, status, priority, action, kind string
	)
	err := row.Scan(
		&rec.ID, &rec.LeadID, &ruleType, &rec.DedupeKey, &rec.Subject, &rec.Message, &channel, &status, &priority,
		&action, &rec.ScheduledFor, &rec.SentAt, &rec.Attempts, &rec.Error, &kind, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return followups.Record{}, err
	}
	rec.RuleType = followups.RuleType(ruleType)
	rec.Channel = domain.Channel(channel)
	rec.Status = followups.Status(status)
	rec.Priority = scoring.Priority(priority)
	rec.SuggestedAction = scoring.SuggestedAction(action)
	rec.FailureKind = followups.FailureKind(kind)
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]followups.Record, error) {
	defer rows.Close()
	records := make([]followups.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) CreateRecord(ctx context.Context, rec followups.Record) (uuid.UUID, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = followups.StatusPending
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO followup_records (id, lead_id, rule_type, dedupe_key, subject, message, channel, status,
			priority, suggested_action, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (lead_id, dedupe_key) DO NOTHING
		RETURNING id`,
		rec.ID, rec.LeadID, string(rec.RuleType), rec.DedupeKey, rec.Subject, rec.Message, string(rec.Channel),
		string(rec.Status), string(rec.Priority), string(rec.SuggestedAction), rec.ScheduledFor,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, err
	}

	err = r.pool.QueryRow(ctx,
		`SELECT id FROM followup_records WHERE lead_id = $1 AND dedupe_key = $2`,
		rec.LeadID, rec.DedupeKey,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load existing record: %w", err)
	}
	return id, false, nil
}

func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (followups.Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM followup_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return followups.Record{}, followups.ErrRecordNotFound
	}
	if err != nil {
		return followups.Record{}, err
	}
	return rec, nil
}

// UpdateRecord applies u only while the record is in the expected status.
func (r *Repository) UpdateRecord(ctx context.Context, id uuid.UUID, expected followups.Status, u followups.RecordUpdate) (bool, error) {
	var kind *string
	if u.FailureKind != nil {
		k := string(*u.FailureKind)
		kind = &k
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE followup_records SET
			status = COALESCE(NULLIF($3::text, ''), status),
			sent_at = COALESCE($4::timestamptz, sent_at),
			error_message = CASE
				WHEN $5::text IS NOT NULL THEN $5::text
				WHEN $6 THEN NULL
				ELSE error_message
			END,
			failure_kind = COALESCE($7::text, failure_kind),
			attempts = attempts + CASE WHEN $8 THEN 1 ELSE 0 END,
			scheduled_for = COALESCE($9::timestamptz, scheduled_for),
			updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(u.Status), u.SentAt, u.Error, u.ClearError, kind, u.IncrementAttempts, u.ScheduledFor,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FindDueRecords(ctx context.Context, now time.Time, limit int) ([]followups.Record, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM followup_records
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *Repository) ListRecords(ctx context.Context, filter followups.RecordFilter) ([]followups.Record, error) {
	conds := []string{"TRUE"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.LeadID != uuid.Nil {
		conds = append(conds, "lead_id = "+arg(filter.LeadID))
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(toStrings(filter.Statuses))+")")
	}
	if len(filter.RuleTypes) > 0 {
		conds = append(conds, "rule_type = ANY("+arg(toStrings(filter.RuleTypes))+")")
	}
	if len(filter.FailureKinds) > 0 {
		conds = append(conds, "failure_kind = ANY("+arg(toStrings(filter.FailureKinds))+")")
	}
	if filter.UpdatedBefore != nil {
		conds = append(conds, "updated_at < "+arg(*filter.UpdatedBefore))
	}
	if filter.AttemptsBelow > 0 {
		conds = append(conds, "attempts < "+arg(filter.AttemptsBelow))
	}
	if filter.After != nil {
		conds = append(conds, "(created_at, id) > ("+arg(filter.After.CreatedAt)+"::timestamptz, "+arg(filter.After.ID)+"::uuid)")
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM followup_records WHERE `+
		strings.Join(conds, " AND ")+` ORDER BY created_at ASC, id ASC LIMIT `+arg(limit), args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
