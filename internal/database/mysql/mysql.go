// Package mysql provides an alternative attendance store for deployments
// that already run MySQL/MariaDB. Only roster and attendance marks live
// here; galleries and training data stay in PostgreSQL.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Pool manages a MySQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MySQL connection pool.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MySQL DSN is required")
	}

	// DATETIME columns must scan into time.Time.
	if strings.Contains(dsn, "?") {
		dsn += "&parseTime=true"
	} else {
		dsn += "?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Migrate creates the attendance tables if they do not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS roster (
			user_id         VARCHAR(255) NOT NULL,
			project_id      VARCHAR(255) NOT NULL,
			name            VARCHAR(255) NOT NULL,
			normalized_name VARCHAR(255) NOT NULL,
			PRIMARY KEY (user_id, project_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_marks (
			id         CHAR(36) NOT NULL,
			user_id    VARCHAR(255) NOT NULL,
			project_id VARCHAR(255) NOT NULL,
			name       VARCHAR(255) NOT NULL,
			period     VARCHAR(255) NOT NULL,
			marked_at  DATETIME NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY mark_once (user_id, project_id, name, period)
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating attendance tables: %w", err)
		}
	}
	return nil
}
