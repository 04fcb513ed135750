package status

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// NewDB opens a Postgres connection pool for the queue and status
// tables.
func NewDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore is the durable Store implementation. Guarded UPDATEs
// carry the monotonic-progress and terminal-freeze invariants into the
// database, so concurrent duplicate deliveries cannot violate them.
//
// Schema:
//
//	CREATE TABLE job_statuses (
//	    model_name    TEXT NOT NULL,
//	    version       TEXT NOT NULL,
//	    status        TEXT NOT NULL,
//	    stage         TEXT NOT NULL,
//	    progress      INT NOT NULL DEFAULT 0,
//	    error_kind    TEXT,
//	    error_message TEXT,
//	    source_commit TEXT NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    completed_at  TIMESTAMPTZ,
//	    PRIMARY KEY (model_name, version)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create writes the initial queued record; resubmitting a queued
// (model, version) resets it, a running or terminal one is refused.
func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO job_statuses (model_name, version, status, stage, progress, source_commit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (model_name, version) DO UPDATE
		SET status = EXCLUDED.status,
		    stage = EXCLUDED.stage,
		    progress = EXCLUDED.progress,
		    error_kind = NULL,
		    error_message = NULL,
		    source_commit = EXCLUDED.source_commit,
		    updated_at = NOW()
		WHERE job_statuses.status = 'queued'
	`
	res, err := s.db.ExecContext(ctx, query,
		job.ModelName, job.Version, models.StatusQueued,
		models.StageQueued.Label, models.StageQueued.Progress, job.SourceCommit)
	if err != nil {
		return fmt.Errorf("failed to create status for %s: %w", job.Key(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var st string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM job_statuses WHERE model_name = $1 AND version = $2`,
			job.ModelName, job.Version).Scan(&st)
		if err != nil {
			return fmt.Errorf("failed to create status for %s: %w", job.Key(), err)
		}
		if models.Status(st).Terminal() {
			return ErrTerminal
		}
		return ErrInFlight
	}
	return nil
}

// SetStage advances a running record; the guarded UPDATE refuses
// terminal records and clamps progress regressions.
func (s *PostgresStore) SetStage(ctx context.Context, model, version string, stage models.Stage) error {
	query := `
		UPDATE job_statuses
		SET status = $3,
		    stage = $4,
		    progress = GREATEST(progress, $5),
		    updated_at = NOW()
		WHERE model_name = $1 AND version = $2
		  AND status NOT IN ('succeeded', 'failed')
	`
	return s.guardedWrite(ctx, model, version, query,
		model, version, models.StatusRunning, stage.Label, stage.Progress)
}

// MarkSucceeded finalizes the record at 100%.
func (s *PostgresStore) MarkSucceeded(ctx context.Context, model, version string) error {
	query := `
		UPDATE job_statuses
		SET status = $3,
		    stage = $4,
		    progress = $5,
		    updated_at = NOW(),
		    completed_at = NOW()
		WHERE model_name = $1 AND version = $2
		  AND status NOT IN ('succeeded', 'failed')
	`
	return s.guardedWrite(ctx, model, version, query,
		model, version, models.StatusSucceeded,
		models.StageComplete.Label, models.StageComplete.Progress)
}

// MarkFailed finalizes the record with kind and message; progress
// stays frozen where the job stopped.
func (s *PostgresStore) MarkFailed(ctx context.Context, model, version string, kind models.ErrorKind, message string) error {
	query := `
		UPDATE job_statuses
		SET status = $3,
		    error_kind = $4,
		    error_message = $5,
		    updated_at = NOW(),
		    completed_at = NOW()
		WHERE model_name = $1 AND version = $2
		  AND status NOT IN ('succeeded', 'failed')
	`
	return s.guardedWrite(ctx, model, version, query,
		model, version, models.StatusFailed, string(kind), message)
}

// guardedWrite runs a terminal-guarded UPDATE and translates a zero
// row count into the right sentinel.
func (s *PostgresStore) guardedWrite(ctx context.Context, model, version, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status for %s/%s: %w", model, version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either no record or a terminal one; look to distinguish.
		var st string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM job_statuses WHERE model_name = $1 AND version = $2`,
			model, version).Scan(&st)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}

// Get returns the record for (model, version).
func (s *PostgresStore) Get(ctx context.Context, model, version string) (*models.JobStatus, error) {
	query := `
		SELECT model_name, version, status, stage, progress, error_kind, error_message,
		       source_commit, updated_at, completed_at
		FROM job_statuses
		WHERE model_name = $1 AND version = $2
	`
	rec, err := scanStatus(s.db.QueryRowContext(ctx, query, model, version))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status for %s/%s: %w", model, version, err)
	}
	return rec, nil
}

// ListByModel returns all versions recorded for a model, newest first.
func (s *PostgresStore) ListByModel(ctx context.Context, model string) ([]*models.JobStatus, error) {
	query := `
		SELECT model_name, version, status, stage, progress, error_kind, error_message,
		       source_commit, updated_at, completed_at
		FROM job_statuses
		WHERE model_name = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses for %s: %w", model, err)
	}
	defer rows.Close()

	var out []*models.JobStatus
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatus(row rowScanner) (*models.JobStatus, error) {
	var (
		rec         models.JobStatus
		errKind     sql.NullString
		errMessage  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ModelName,
		&rec.Version,
		&rec.Status,
		&rec.Stage,
		&rec.Progress,
		&errKind,
		&errMessage,
		&rec.SourceCommit,
		&rec.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if errKind.Valid {
		rec.ErrorKind = errKind.String
	}
	if errMessage.Valid {
		rec.Error = errMessage.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
