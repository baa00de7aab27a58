package mysql

import (
	"context"
	"fmt"

	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/roster"
)

// AttendanceRepository provides MySQL-backed roster and attendance mark
// storage. Implements database.AttendanceStore.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new MySQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// LoadRoster returns the project's roster ordered by name.
func (r *AttendanceRepository) LoadRoster(ctx context.Context, user, project string) ([]database.RosterEntry, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT name, normalized_name
		FROM roster
		WHERE user_id = ? AND project_id = ?
		ORDER BY name
	`, user, project)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var entries []database.RosterEntry
	for rows.Next() {
		var e database.RosterEntry
		if err := rows.Scan(&e.Name, &e.NormalizedName); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster rows: %w", err)
	}
	return entries, nil
}

// SaveRoster replaces the project's roster with the given names.
func (r *AttendanceRepository) SaveRoster(ctx context.Context, user, project string, names []string) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM roster WHERE user_id = ? AND project_id = ?", user, project); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}

	for _, name := range names {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO roster (user_id, project_id, name, normalized_name)
			VALUES (?, ?, ?, ?)
		`, user, project, name, roster.NormalizeName(name))
		if err != nil {
			return fmt.Errorf("insert roster entry %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster: %w", err)
	}
	return nil
}

// IsMarked reports whether an identity already has a mark for the period.
func (r *AttendanceRepository) IsMarked(ctx context.Context, user, project, name, period string) (bool, error) {
	var count int
	err := r.pool.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_marks
		WHERE user_id = ? AND project_id = ? AND name = ? AND period = ?
	`, user, project, name, period).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check mark exists: %w", err)
	}
	return count > 0, nil
}

// RecordMark persists one attendance mark. INSERT IGNORE keeps retries after
// a partial failure idempotent against the (name, period) unique key.
func (r *AttendanceRepository) RecordMark(ctx context.Context, user, project string, mark database.Mark) error {
	_, err := r.pool.db.ExecContext(ctx, `
		INSERT IGNORE INTO attendance_marks (id, user_id, project_id, name, period, marked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, mark.ID, user, project, mark.Name, mark.Period, mark.MarkedAt)
	if err != nil {
		return fmt.Errorf("record mark for %q: %w", mark.Name, err)
	}
	return nil
}
