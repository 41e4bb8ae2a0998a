package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// JobRepository stores asynchronous ingestion jobs.
type JobRepository struct {
	db *sql.DB
}

var _ ports.JobRepository = (*JobRepository)(nil)

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobSchema = `
CREATE TABLE IF NOT EXISTS ingest_jobs (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);
CREATE INDEX IF NOT EXISTS idx_ingest_jobs_created_at ON ingest_jobs(created_at DESC);
`

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, r.db, jobSchema)
}

func (r *JobRepository) Create(ctx context.Context, job *domain.IngestJob) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingest_jobs (
	id, filename, mime_type, storage_path, status, chunk_count, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		job.ID, job.Filename, job.MimeType, job.StoragePath, string(job.Status), job.ChunkCount,
		job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ingest job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.IngestJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, mime_type, storage_path, status, chunk_count, error_message, created_at, updated_at
FROM ingest_jobs
WHERE id = $1
`, id)

	var job domain.IngestJob
	var status string
	err := row.Scan(
		&job.ID, &job.Filename, &job.MimeType, &job.StoragePath, &status, &job.ChunkCount,
		&job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ingest job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan ingest job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE ingest_jobs
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update ingest job status: %w", err)
	}
	ok, err := checkAffected(res, "update ingest job status")
	if err != nil {
		return err
	}
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update ingest job status", fmt.Errorf("id=%s", id))
	}
	return nil
}

func (r *JobRepository) SaveChunkCount(ctx context.Context, id string, count int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE ingest_jobs
SET chunk_count = $2, updated_at = $3
WHERE id = $1
`, id, count, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save chunk count: %w", err)
	}
	ok, err := checkAffected(res, "save chunk count")
	if err != nil {
		return err
	}
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "save chunk count", fmt.Errorf("id=%s", id))
	}
	return nil
}
