package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/presenceapp/presence/internal/database"
)

// TrainingRepository provides PostgreSQL-backed storage for trained galleries,
// training samples, and quality reports.
type TrainingRepository struct {
	pool *Pool
}

// NewTrainingRepository creates a new PostgreSQL training repository.
func NewTrainingRepository(pool *Pool) *TrainingRepository {
	return &TrainingRepository{pool: pool}
}

// LoadGallery returns the identity -> reference embedding mapping for a
// project. An untrained project yields an empty map, not an error.
func (r *TrainingRepository) LoadGallery(ctx context.Context, user, project string) (map[string][]float32, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, embedding
		FROM identities
		WHERE user_id = $1 AND project_id = $2
	`, user, project)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	gallery := make(map[string][]float32)
	for rows.Next() {
		var name string
		var vec pgvector.Vector
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery row: %w", err)
		}
		gallery[name] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery rows: %w", err)
	}
	return gallery, nil
}

// LoadQuality returns the latest quality report, or nil if the project has
// never been trained.
func (r *TrainingRepository) LoadQuality(ctx context.Context, user, project string) (*database.StoredQuality, error) {
	var q database.StoredQuality
	err := r.pool.QueryRow(ctx, `
		SELECT identities, samples, intra_class, inter_class, separation,
		       accuracy, precision_est, optimal_threshold, created_at
		FROM quality_reports
		WHERE user_id = $1 AND project_id = $2
	`, user, project).Scan(
		&q.Identities,
		&q.Samples,
		&q.IntraClass,
		&q.InterClass,
		&q.Separation,
		&q.Accuracy,
		&q.Precision,
		&q.OptimalThreshold,
		&q.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query quality report: %w", err)
	}
	return &q, nil
}

// SaveTrainingRun atomically replaces a project's samples, gallery, and
// quality report with the results of a new training run.
func (r *TrainingRepository) SaveTrainingRun(ctx context.Context, user, project string, samples []database.TrainingSample, gallery []database.IdentityEmbedding, quality database.StoredQuality) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"training_samples", "identities", "quality_reports"} {
		query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1 AND project_id = $2", table)
		if _, err := tx.ExecContext(ctx, query, user, project); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, s := range samples {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO training_samples (user_id, project_id, name, embedding, dim)
			VALUES ($1, $2, $3, $4, $5)
		`, user, project, s.Name, pgvector.NewVector(s.Embedding), len(s.Embedding))
		if err != nil {
			return fmt.Errorf("insert training sample for %q: %w", s.Name, err)
		}
	}

	for _, id := range gallery {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identities (user_id, project_id, name, embedding, dim)
			VALUES ($1, $2, $3, $4, $5)
		`, user, project, id.Name, pgvector.NewVector(id.Embedding), len(id.Embedding))
		if err != nil {
			return fmt.Errorf("insert identity %q: %w", id.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quality_reports (user_id, project_id, identities, samples,
			intra_class, inter_class, separation, accuracy, precision_est,
			optimal_threshold, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user, project, quality.Identities, quality.Samples, quality.IntraClass,
		quality.InterClass, quality.Separation, quality.Accuracy,
		quality.Precision, quality.OptimalThreshold, quality.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quality report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit training run: %w", err)
	}
	return nil
}

// LoadSamples returns all per-image training samples for a project.
func (r *TrainingRepository) LoadSamples(ctx context.Context, user, project string) ([]database.TrainingSample, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, embedding, dim, created_at
		FROM training_samples
		WHERE user_id = $1 AND project_id = $2
		ORDER BY id
	`, user, project)
	if err != nil {
		return nil, fmt.Errorf("query training samples: %w", err)
	}
	defer rows.Close()

	var samples []database.TrainingSample
	for rows.Next() {
		var s database.TrainingSample
		var vec pgvector.Vector
		if err := rows.Scan(&s.ID, &s.Name, &vec, &s.Dim, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan training sample: %w", err)
		}
		s.Embedding = vec.Slice()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training samples: %w", err)
	}
	return samples, nil
}
