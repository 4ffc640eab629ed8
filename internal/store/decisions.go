package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRecord = errors.New("invalid journal record")

type DecisionRecord struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	GroupID        string    `json:"group_id"`
	UserID         string    `json:"user_id,omitempty"`
	Kind           string    `json:"kind"`
	Mode           string    `json:"mode"`
	Reason         string    `json:"reason,omitempty"`
	Willingness    float64   `json:"willingness"`
	Interest       float64   `json:"interest"`
	DelayMS        int64     `json:"delay_ms"`
	FatigueAllowed bool      `json:"fatigue_allowed"`
	TransitionTo   string    `json:"transition_to,omitempty"`
	DecidedAt      time.Time `json:"decided_at"`
}

type ListDecisionsInput struct {
	GroupID string
	Kind    string
	Mode    string
	Limit   int
}

// RecordDecision stores record. A missing id is generated.
func (s *Store) RecordDecision(ctx context.Context, record DecisionRecord) (DecisionRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.GroupID = strings.TrimSpace(record.GroupID)
	record.Kind = strings.ToLower(strings.TrimSpace(record.Kind))
	if record.GroupID == "" || record.Kind == "" || strings.TrimSpace(record.MessageID) == "" {
		return DecisionRecord{}, fmt.Errorf("%w: decision needs group, message and kind", ErrInvalidRecord)
	}
	if record.DecidedAt.IsZero() {
		record.DecidedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decisions (
			id, message_id, group_id, user_id, kind, mode, reason, willingness, interest, delay_ms, fatigue_allowed, transition_to, decided_at_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.MessageID,
		record.GroupID,
		nullIfEmpty(record.UserID),
		record.Kind,
		record.Mode,
		nullIfEmpty(record.Reason),
		record.Willingness,
		record.Interest,
		record.DelayMS,
		boolToInt(record.FatigueAllowed),
		nullIfEmpty(record.TransitionTo),
		record.DecidedAt.UTC().UnixMilli(),
	); err != nil {
		return DecisionRecord{}, fmt.Errorf("insert decision: %w", err)
	}
	return record, nil
}

// ListDecisions returns the newest decisions first.
func (s *Store) ListDecisions(ctx context.Context, input ListDecisionsInput) ([]DecisionRecord, error) {
	whereParts := []string{"1=1"}
	args := make([]any, 0, 4)
	if groupID := strings.TrimSpace(input.GroupID); groupID != "" {
		whereParts = append(whereParts, "group_id = ?")
		args = append(args, groupID)
	}
	if kind := strings.ToLower(strings.TrimSpace(input.Kind)); kind != "" {
		whereParts = append(whereParts, "kind = ?")
		args = append(args, kind)
	}
	if mode := strings.ToLower(strings.TrimSpace(input.Mode)); mode != "" {
		whereParts = append(whereParts, "mode = ?")
		args = append(args, mode)
	}
	args = append(args, clampLimit(input.Limit))

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, message_id, group_id, user_id, kind, mode, reason, willingness, interest, delay_ms, fatigue_allowed, transition_to, decided_at_unix_ms
		FROM decisions
		WHERE `+strings.Join(whereParts, " AND ")+`
		ORDER BY decided_at_unix_ms DESC, rowid DESC
		LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	records := []DecisionRecord{}
	for rows.Next() {
		var (
			record         DecisionRecord
			userID         sql.NullString
			reason         sql.NullString
			transitionTo   sql.NullString
			fatigueAllowed int
			decidedAtMS    int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.MessageID,
			&record.GroupID,
			&userID,
			&record.Kind,
			&record.Mode,
			&reason,
			&record.Willingness,
			&record.Interest,
			&record.DelayMS,
			&fatigueAllowed,
			&transitionTo,
			&decidedAtMS,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		record.UserID = userID.String
		record.Reason = reason.String
		record.TransitionTo = transitionTo.String
		record.FatigueAllowed = fatigueAllowed == 1
		record.DecidedAt = time.UnixMilli(decidedAtMS).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return records, nil
}

// PurgeBefore deletes decisions and mode transitions older than cutoff and
// returns how many rows were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMS := cutoff.UTC().UnixMilli()
	var removed int64
	for _, query := range []string{
		`DELETE FROM decisions WHERE decided_at_unix_ms < ?`,
		`DELETE FROM mode_transitions WHERE at_unix_ms < ?`,
	} {
		result, err := s.db.ExecContext(ctx, query, cutoffMS)
		if err != nil {
			return removed, fmt.Errorf("purge journal: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("purge journal rows affected: %w", err)
		}
		removed += affected
	}
	return removed, nil
}
