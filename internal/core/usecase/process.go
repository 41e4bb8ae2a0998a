package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// ProcessDocumentUseCase runs a queued ingestion job inside the worker.
type ProcessDocumentUseCase struct {
	jobs      ports.JobRepository
	extractor ports.TextExtractor
	ingestor  ports.DocumentIngestor
}

func NewProcessDocumentUseCase(
	jobs ports.JobRepository,
	extractor ports.TextExtractor,
	ingestor ports.DocumentIngestor,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		jobs:      jobs,
		extractor: extractor,
		ingestor:  ingestor,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, jobID string) error {
	if err := uc.markStatus(ctx, jobID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	result, err := uc.processPipeline(ctx, jobID)
	if err != nil {
		if failErr := uc.markFailed(ctx, jobID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.jobs.SaveChunkCount(ctx, jobID, len(result.Chunks)); err != nil {
		err = fmt.Errorf("save chunk count: %w", err)
		if failErr := uc.markFailed(ctx, jobID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, jobID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, jobID string) (*domain.IngestResult, error) {
	job, err := uc.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch ingest job: %w", err)
	}

	text, err := uc.extractor.Extract(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "extract text", errors.New("empty extracted text"))
	}

	result, err := uc.ingestor.Ingest(ctx, text, job.Filename)
	if err != nil {
		return nil, fmt.Errorf("ingest document: %w", err)
	}
	return result, nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, jobID string, status domain.JobStatus, errMessage string) error {
	return uc.jobs.UpdateStatus(ctx, jobID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, jobID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, jobID, domain.StatusFailed, processErr.Error())
}
