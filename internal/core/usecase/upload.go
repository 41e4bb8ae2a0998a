package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// UploadUseCase stores a raw document and queues it for the ingestion worker.
type UploadUseCase struct {
	jobs    ports.JobRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewUploadUseCase(
	jobs ports.JobRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *UploadUseCase {
	return &UploadUseCase{
		jobs:    jobs,
		storage: storage,
		queue:   queue,
	}
}

func (uc *UploadUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.IngestJob, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("filename is required"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	job := &domain.IngestJob{
		ID:          id,
		Filename:    filepath.Base(filename),
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create ingest job: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}
	return job, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.txt"
	}
	return base
}
