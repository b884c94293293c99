package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"travel_crm_backend/internal/followups"
	"travel_crm_backend/internal/leads/domain"
	"travel_crm_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

const recordColumns = `id, lead_id, rule_type, dedupe_key, subject, message, channel, status, priority,
	suggested_action, scheduled_for, sent_at, attempts, error_message, failure_kind, created_at, updated_at`

func scanRecord(row rowScanner) (followups.Record, error) {
	var (
		rec                                               followups.Record
		ruleType, channel, status, priority, action, kind string
		scheduledFor, createdAt, updatedAt                string
		sentAt, errMsg                                    sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.LeadID, &ruleType, &rec.DedupeKey, &rec.Subject, &rec.Message, &channel, &status, &priority,
		&action, &scheduledFor, &sentAt, &rec.Attempts, &errMsg, &kind, &createdAt, &updatedAt,
	)
	if err != nil {
		return followups.Record{}, err
	}
	if rec.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return followups.Record{}, err
	}
	if rec.SentAt, err = parseNullTime(sentAt); err != nil {
		return followups.Record{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return followups.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return followups.Record{}, err
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	rec.RuleType = followups.RuleType(ruleType)
	rec.Channel = domain.Channel(channel)
	rec.Status = followups.Status(status)
	rec.Priority = scoring.Priority(priority)
	rec.SuggestedAction = scoring.SuggestedAction(action)
	rec.FailureKind = followups.FailureKind(kind)
	return rec, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]followups.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make([]followups.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec followups.Record) (uuid.UUID, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = followups.StatusPending
	}
	now := formatTime(s.now())

	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO followup_records (id, lead_id, rule_type, dedupe_key, subject, message, channel, status,
			priority, suggested_action, scheduled_for, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lead_id, dedupe_key) DO NOTHING
		RETURNING id`,
		rec.ID, rec.LeadID, string(rec.RuleType), rec.DedupeKey, rec.Subject, rec.Message, string(rec.Channel),
		string(rec.Status), string(rec.Priority), string(rec.SuggestedAction), formatTime(rec.ScheduledFor), now, now,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM followup_records WHERE lead_id = ? AND dedupe_key = ?`,
		rec.LeadID, rec.DedupeKey,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load existing record: %w", err)
	}
	return id, false, nil
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (followups.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM followup_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return followups.Record{}, followups.ErrRecordNotFound
	}
	if err != nil {
		return followups.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateRecord(ctx context.Context, id uuid.UUID, expected followups.Status, u followups.RecordUpdate) (bool, error) {
	var kind *string
	if u.FailureKind != nil {
		k := string(*u.FailureKind)
		kind = &k
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE followup_records SET
			status = COALESCE(NULLIF(?, ''), status),
			sent_at = COALESCE(?, sent_at),
			error_message = CASE
				WHEN ? IS NOT NULL THEN ?
				WHEN ? THEN NULL
				ELSE error_message
			END,
			failure_kind = COALESCE(?, failure_kind),
			attempts = attempts + CASE WHEN ? THEN 1 ELSE 0 END,
			scheduled_for = COALESCE(?, scheduled_for),
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(u.Status),
		formatTimePtr(u.SentAt),
		u.Error, u.Error,
		u.ClearError,
		kind,
		u.IncrementAttempts,
		formatTimePtr(u.ScheduledFor),
		formatTime(s.now()),
		id, string(expected),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) FindDueRecords(ctx context.Context, now time.Time, limit int) ([]followups.Record, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM followup_records
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, created_at ASC
		LIMIT ?`,
		formatTime(now), limit,
	)
}

func (s *Store) ListRecords(ctx context.Context, filter followups.RecordFilter) ([]followups.Record, error) {
	conds := []string{"1 = 1"}
	var args []any
	var in string

	if filter.LeadID != uuid.Nil {
		conds = append(conds, "lead_id = ?")
		args = append(args, filter.LeadID)
	}
	if len(filter.Statuses) > 0 {
		in, args = placeholders(args, filter.Statuses)
		conds = append(conds, "status IN ("+in+")")
	}
	if len(filter.RuleTypes) > 0 {
		in, args = placeholders(args, filter.RuleTypes)
		conds = append(conds, "rule_type IN ("+in+")")
	}
	if len(filter.FailureKinds) > 0 {
		in, args = placeholders(args, filter.FailureKinds)
		conds = append(conds, "failure_kind IN ("+in+")")
	}
	if filter.UpdatedBefore != nil {
		conds = append(conds, "updated_at < ?")
		args = append(args, formatTime(*filter.UpdatedBefore))
	}
	if filter.AttemptsBelow > 0 {
		conds = append(conds, "attempts < ?")
		args = append(args, filter.AttemptsBelow)
	}
	if filter.After != nil {
		after := formatTime(filter.After.CreatedAt)
		conds = append(conds, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, after, after, filter.After.ID)
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM followup_records WHERE `+
		strings.Join(conds, " AND ")+` ORDER BY created_at ASC, id ASC LIMIT ?`, args...)
}
