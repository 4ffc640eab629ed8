package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is the decision journal. It records outcomes for inspection and
// never feeds them back into a decision.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			user_id TEXT,
			kind TEXT NOT NULL,
			mode TEXT NOT NULL,
			reason TEXT,
			willingness REAL NOT NULL DEFAULT 0,
			interest REAL NOT NULL DEFAULT 0,
			delay_ms INTEGER NOT NULL DEFAULT 0,
			fatigue_allowed INTEGER NOT NULL DEFAULT 1,
			transition_to TEXT,
			decided_at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_group_time ON decisions(group_id, decided_at_unix_ms);`,
		`CREATE TABLE IF NOT EXISTS mode_transitions (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			from_mode TEXT NOT NULL,
			to_mode TEXT NOT NULL,
			reason TEXT,
			at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mode_transitions_group_time ON mode_transitions(group_id, at_unix_ms);`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
