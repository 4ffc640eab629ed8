package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ModeTransitionRecord struct {
	ID      string    `json:"id"`
	GroupID string    `json:"group_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

func (s *Store) RecordModeTransition(ctx context.Context, record ModeTransitionRecord) (ModeTransitionRecord, error) {
	record.ID = "mt_" + uuid.NewString()
	record.GroupID = strings.TrimSpace(record.GroupID)
	if record.GroupID == "" || record.From == "" || record.To == "" {
		return ModeTransitionRecord{}, fmt.Errorf("%w: transition needs group, from and to", ErrInvalidRecord)
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO mode_transitions (id, group_id, from_mode, to_mode, reason, at_unix_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.GroupID,
		record.From,
		record.To,
		nullIfEmpty(record.Reason),
		record.At.UTC().UnixMilli(),
	); err != nil {
		return ModeTransitionRecord{}, fmt.Errorf("insert mode transition: %w", err)
	}
	return record, nil
}

// ListModeTransitions returns the newest transitions of groupID first; an
// empty groupID lists every group.
func (s *Store) ListModeTransitions(ctx context.Context, groupID string, limit int) ([]ModeTransitionRecord, error) {
	query := `SELECT id, group_id, from_mode, to_mode, reason, at_unix_ms FROM mode_transitions`
	args := []any{}
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY at_unix_ms DESC, rowid DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mode transitions: %w", err)
	}
	defer rows.Close()

	records := []ModeTransitionRecord{}
	for rows.Next() {
		var (
			record ModeTransitionRecord
			reason sql.NullString
			atMS   int64
		)
		if err := rows.Scan(&record.ID, &record.GroupID, &record.From, &record.To, &reason, &atMS); err != nil {
			return nil, fmt.Errorf("scan mode transition: %w", err)
		}
		record.Reason = reason.String
		record.At = time.UnixMilli(atMS).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mode transitions: %w", err)
	}
	return records, nil
}
