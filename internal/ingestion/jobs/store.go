// Package jobs persists ingest job state in PostgreSQL.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

// Schema creates the job table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_jobs (
		id              UUID PRIMARY KEY,
		op              TEXT NOT NULL,
		index_name      TEXT NOT NULL,
		path            TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ingest_jobs_status_idx ON ingest_jobs (status, created_at)`,
}

const jobColumns = `id, op, index_name, path, status, error, COALESCE(idempotency_key, ''), created_at, updated_at`

type Store struct {
	db *postgres.Client
}

// NewStore migrates the schema and returns a store over db.
func NewStore(ctx context.Context, db *postgres.Client) (*Store, error) {
	if err := db.Migrate(ctx, Schema...); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Create inserts job. When job carries an idempotency key that was already
// used, nothing is inserted and the earlier job is returned with
// created=false.
func (s *Store) Create(ctx context.Context, job *ingestion.Job) (stored *ingestion.Job, created bool, err error) {
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO ingest_jobs (id, op, index_name, path, status, idempotency_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			 ON CONFLICT (idempotency_key) DO NOTHING
			 RETURNING `+jobColumns,
			job.ID, job.Op, job.IndexName, job.Path, job.Status, nullable(job.IdempotencyKey), job.CreatedAt)
		stored, err = scanJob(row)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		stored, err = scanJob(tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM ingest_jobs WHERE idempotency_key = $1`, job.IdempotencyKey))
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return stored, created, nil
}

func (s *Store) Get(ctx context.Context, id string) (*ingestion.Job, error) {
	job, err := scanJob(s.db.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(apperrors.ErrJobNotFound, fmt.Errorf("job %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// SetStatus records the outcome of a job.
func (s *Store) SetStatus(ctx context.Context, id string, status ingestion.JobStatus, message string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE ingest_jobs SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		id, status, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Wrap(apperrors.ErrJobNotFound, fmt.Errorf("job %s", id))
	}
	return nil
}

func scanJob(row *sql.Row) (*ingestion.Job, error) {
	var j ingestion.Job
	var op, status string
	if err := row.Scan(&j.ID, &op, &j.IndexName, &j.Path, &status, &j.Error, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Op = ingestion.Op(op)
	j.Status = ingestion.JobStatus(status)
	return &j, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
