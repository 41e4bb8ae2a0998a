package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

// TextEmbedder is the external embedding model. It returns the vector and the
// identifier of the model that produced it.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, string, error)
}

// Embedder always yields a vector, degrading to a deterministic fallback when
// the external model is unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
}

// Generator is the single text-generation capability; prompts are built by callers.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// DocumentParser isolates structural document parsing strategies.
type DocumentParser interface {
	Parse(text, sourceFile string) ([]domain.DocumentChunk, error)
	ParseSections(sections []domain.ManualSection, sourceFile string) ([]domain.DocumentChunk, error)
}

// ChunkStore persists chunk records keyed by id. Each chunk holds at most one
// model vector and one fallback vector; SetEmbedding picks the slot from
// Embedding.Fallback and ListEmbedded matches either slot by model.
// ListUnembedded returns chunks without a model vector.
type ChunkStore interface {
	Upsert(ctx context.Context, chunk domain.DocumentChunk) error
	GetByID(ctx context.Context, id string) (*domain.DocumentChunk, error)
	// PruneSource deletes the chunks of sourceFile whose id is not in keep.
	PruneSource(ctx context.Context, sourceFile string, keep []string) error
	SetEmbedding(ctx context.Context, id string, emb domain.Embedding) error
	ListEmbedded(ctx context.Context, model string, filter domain.SearchFilter) ([]EmbeddedChunk, error)
	ListUnembedded(ctx context.Context, limit int) ([]domain.DocumentChunk, error)
}

type EmbeddedChunk struct {
	Chunk  domain.DocumentChunk
	Vector []float32
}

// VectorIndex scores stored chunks against a query vector.
type VectorIndex interface {
	Upsert(ctx context.Context, chunk domain.DocumentChunk, emb domain.Embedding) error
	Search(ctx context.Context, query domain.Embedding, limit int, minSimilarity float64, filter domain.SearchFilter) ([]domain.ScoredChunk, error)
	PruneSource(ctx context.Context, sourceFile string, keep []string) error
}

// ResultCache is a best-effort byte cache with per-entry TTL.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// JobRepository persists asynchronous ingestion job state.
type JobRepository interface {
	Create(ctx context.Context, job *domain.IngestJob) error
	GetByID(ctx context.Context, id string) (*domain.IngestJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMessage string) error
	SaveChunkCount(ctx context.Context, id string, count int) error
}

// ObjectStorage stores raw uploaded documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, jobID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, job *domain.IngestJob) (string, error)
}

// EngineObserver receives engine events for metrics. Implementations must be
// safe for concurrent use.
type EngineObserver interface {
	ObserveMatch(mode string, tier domain.CitationTier)
	ObserveEscalation(from, to domain.CitationTier)
	ObserveEmbeddingFallback()
	ObserveRerankFailure()
	ObserveCache(outcome string)
	ObserveIngestedChunks(outcome string, n int)
}

// NopObserver discards engine events.
type NopObserver struct{}

func (NopObserver) ObserveMatch(string, domain.CitationTier) {}
func (NopObserver) ObserveEscalation(domain.CitationTier, domain.CitationTier) {}
func (NopObserver) ObserveEmbeddingFallback() {}
func (NopObserver) ObserveRerankFailure() {}
func (NopObserver) ObserveCache(string) {}
func (NopObserver) ObserveIngestedChunks(string, int) {}
