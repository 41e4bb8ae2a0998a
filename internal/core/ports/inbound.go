package ports

import (
	"context"
	"io"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

// CitationMatcher is the inbound contract for structured and hybrid evidence matching.
type CitationMatcher interface {
	Match(ctx context.Context, message string, signal domain.EmotionalSignal) (*domain.CitationMatch, error)
	HybridMatch(ctx context.Context, message string, signal domain.EmotionalSignal) (*domain.HybridCitationMatch, error)
}

// DocumentIngestor turns raw document text into indexed chunks.
type DocumentIngestor interface {
	Ingest(ctx context.Context, text, sourceFile string) (*domain.IngestResult, error)
	IngestSections(ctx context.Context, sections []domain.ManualSection, sourceFile string) (*domain.IngestResult, error)
	ReembedMissing(ctx context.Context, limit int) (int, error)
}

// DocumentSearcher is raw vector search for administrative inspection.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, limit int, minSimilarity float64, filter domain.SearchFilter) ([]domain.DocumentMatch, bool, error)
}

// DocumentUploader accepts documents for asynchronous ingestion.
type DocumentUploader interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.IngestJob, error)
}

// DocumentProcessor is the inbound contract for the ingestion worker.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, jobID string) error
}
