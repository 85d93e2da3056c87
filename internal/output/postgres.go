/**
 * PostgreSQL sink
 *
 * Keeps one row per (object_key, sequence). A redelivered item updates the
 * row and bumps seen_count instead of adding a second row.
 */

package output

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/visionpipe-worker/internal/errors"
)

// PostgresSink stores records in the detected_text table
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink connects to databaseURL and ensures the table exists
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sink, err := NewPostgresSinkFromDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSinkFromDB wraps an open database
func NewPostgresSinkFromDB(ctx context.Context, db *sql.DB) (*PostgresSink, error) {
	s := &PostgresSink{db: db}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure detected_text table: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS detected_text (
			object_key TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			lines TEXT[] NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1,
			PRIMARY KEY (object_key, sequence)
		)
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO detected_text (object_key, sequence, lines, detected_at, first_seen_at, seen_count)
		VALUES ($1, $2, $3, $4, NOW(), 1)
		ON CONFLICT (object_key, sequence) DO UPDATE
		SET lines = EXCLUDED.lines,
		    detected_at = EXCLUDED.detected_at,
		    seen_count = detected_text.seen_count + 1
	`

	_, err := s.db.ExecContext(ctx, query, rec.Key, rec.Sequence, pq.Array(rec.Text), rec.DetectedAt)
	if err != nil {
		return errors.NewSinkFailedError("postgres", rec.Key, rec.Sequence, err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
