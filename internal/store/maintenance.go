package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"scribe/internal/pipeline"
)

// Stats returns a count of persisted tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[pipeline.Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[pipeline.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[pipeline.Status(status)] = count
	}
	return stats, rows.Err()
}

// DatabaseHealth is diagnostic information about the database file.
type DatabaseHealth struct {
	Path          string `json:"path"`
	SizeBytes     int64  `json:"size_bytes"`
	SchemaVersion int    `json:"schema_version"`
	IntegrityOK   bool   `json:"integrity_ok"`
	Integrity     string `json:"integrity,omitempty"`
	Tasks         int    `json:"tasks"`
	Rounds        int    `json:"rounds"`
}

// CheckHealth runs an integrity check and gathers row counts.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{Path: s.path}
	if info, err := os.Stat(s.path); err == nil {
		health.SizeBytes = info.Size()
	}
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		return health, fmt.Errorf("read schema version: %w", err)
	}
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityOK = strings.EqualFold(result, "ok")
	if !health.IntegrityOK {
		health.Integrity = result
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM tasks").Scan(&health.Tasks); err != nil {
		return health, fmt.Errorf("count tasks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM rounds").Scan(&health.Rounds); err != nil {
		return health, fmt.Errorf("count rounds: %w", err)
	}
	return health, nil
}
