package postgres

import (
	"context"
	"fmt"

	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/roster"
)

// AttendanceRepository provides PostgreSQL-backed roster and attendance
// mark storage.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// LoadRoster returns the project's roster ordered by name.
func (r *AttendanceRepository) LoadRoster(ctx context.Context, user, project string) ([]database.RosterEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, normalized_name
		FROM roster
		WHERE user_id = $1 AND project_id = $2
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
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM roster WHERE user_id = $1 AND project_id = $2", user, project); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}

	for _, name := range names {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO roster (user_id, project_id, name, normalized_name)
			VALUES ($1, $2, $3, $4)
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
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM attendance_marks
			WHERE user_id = $1 AND project_id = $2 AND name = $3 AND period = $4
		)
	`, user, project, name, period).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check mark exists: %w", err)
	}
	return exists, nil
}

// RecordMark persists one attendance mark. A conflicting (name, period) row
// is left untouched so retries after a partial failure stay idempotent.
func (r *AttendanceRepository) RecordMark(ctx context.Context, user, project string, mark database.Mark) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendance_marks (id, user_id, project_id, name, period, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, project_id, name, period) DO NOTHING
	`, mark.ID, user, project, mark.Name, mark.Period, mark.MarkedAt)
	if err != nil {
		return fmt.Errorf("record mark for %q: %w", mark.Name, err)
	}
	return nil
}
