package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

const (
	DefaultIngestConcurrency = 4
	DefaultReembedBatch      = 100
)

type IngestOptions struct {
	Concurrency  int
	ReembedBatch int
	// Baseline embeds every chunk into the fallback space next to its model
	// vector, so queries embedded during a model outage still find it.
	Baseline ports.TextEmbedder
	Observer ports.EngineObserver
	Logger   *slog.Logger
}

// IngestUseCase parses documents into chunks, persists them and embeds them
// on a bounded worker pool.
type IngestUseCase struct {
	parser   ports.DocumentParser
	store    ports.ChunkStore
	index    ports.VectorIndex
	embedder ports.Embedder
	baseline ports.TextEmbedder
	pool     *ants.Pool
	batch    int
	observer ports.EngineObserver
	logger   *slog.Logger
}

func NewIngestUseCase(
	parser ports.DocumentParser,
	store ports.ChunkStore,
	index ports.VectorIndex,
	embedder ports.Embedder,
	opts IngestOptions,
) (*IngestUseCase, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultIngestConcurrency
	}
	if opts.ReembedBatch <= 0 {
		opts.ReembedBatch = DefaultReembedBatch
	}
	if opts.Observer == nil {
		opts.Observer = ports.NopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &IngestUseCase{
		parser:   parser,
		store:    store,
		index:    index,
		embedder: embedder,
		baseline: opts.Baseline,
		pool:     pool,
		batch:    opts.ReembedBatch,
		observer: opts.Observer,
		logger:   opts.Logger.With("component", "ingest"),
	}, nil
}

// Close releases the embedding pool.
func (uc *IngestUseCase) Close() {
	uc.pool.Release()
}

func (uc *IngestUseCase) Ingest(ctx context.Context, text, sourceFile string) (*domain.IngestResult, error) {
	sourceFile = strings.TrimSpace(sourceFile)
	if sourceFile == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("source file is required"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "ingest document", fmt.Errorf("source %q", sourceFile))
	}

	chunks, err := uc.parser.Parse(text, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return uc.replace(ctx, sourceFile, chunks)
}

func (uc *IngestUseCase) IngestSections(ctx context.Context, sections []domain.ManualSection, sourceFile string) (*domain.IngestResult, error) {
	sourceFile = strings.TrimSpace(sourceFile)
	if sourceFile == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest sections", errors.New("source file is required"))
	}
	usable := 0
	for _, s := range sections {
		if strings.TrimSpace(s.Text) != "" {
			usable++
		}
	}
	if usable == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "ingest sections", fmt.Errorf("source %q", sourceFile))
	}

	chunks, err := uc.parser.ParseSections(sections, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("parse sections: %w", err)
	}
	return uc.replace(ctx, sourceFile, chunks)
}

// ReembedMissing embeds up to limit chunks that have no model vector,
// including those that only got a fallback vector, and returns how many now
// have one.
func (uc *IngestUseCase) ReembedMissing(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = uc.batch
	}
	chunks, err := uc.store.ListUnembedded(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unembedded chunks: %w", err)
	}
	stats := uc.embedAll(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return stats.model, err
	}
	uc.logger.Info("reembed_completed",
		"candidates", len(chunks),
		"embedded", stats.model,
		"fallback_only", stats.fallback,
		"unembedded", stats.unembedded,
	)
	return stats.model, nil
}

// replace writes the new chunk set for sourceFile and then prunes chunks the
// new set no longer contains. A failed write leaves the previous version's
// remaining chunks in place; re-ingesting converges.
func (uc *IngestUseCase) replace(ctx context.Context, sourceFile string, chunks []domain.DocumentChunk) (*domain.IngestResult, error) {
	keep := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if err := uc.store.Upsert(ctx, chunk); err != nil {
			return nil, fmt.Errorf("store chunk %s: %w", chunk.ID, err)
		}
		keep = append(keep, chunk.ID)
	}

	stats := uc.embedAll(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := uc.store.PruneSource(ctx, sourceFile, keep); err != nil {
		return nil, fmt.Errorf("prune previous chunks: %w", err)
	}
	if err := uc.index.PruneSource(ctx, sourceFile, keep); err != nil {
		return nil, fmt.Errorf("prune previous vectors: %w", err)
	}

	result := &domain.IngestResult{
		SourceFile:       sourceFile,
		Chunks:           chunks,
		Embedded:         stats.model + stats.fallback,
		Unembedded:       stats.unembedded,
		FallbackEmbedded: stats.fallback,
	}
	if result.Chunks == nil {
		result.Chunks = []domain.DocumentChunk{}
	}
	uc.logger.Info("document_ingested",
		"source_file", sourceFile,
		"chunks", len(chunks),
		"embedded", stats.model,
		"fallback_only", stats.fallback,
		"unembedded", stats.unembedded,
	)
	return result, nil
}

type embedStats struct {
	model      int
	fallback   int
	unembedded int
}

// embedAll embeds chunks concurrently and records the model on each chunk
// that got a model vector.
func (uc *IngestUseCase) embedAll(ctx context.Context, chunks []domain.DocumentChunk) embedStats {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		stats embedStats
	)
	record := func(emb *domain.Embedding) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case emb == nil:
			stats.unembedded++
		case emb.Fallback:
			stats.fallback++
		default:
			stats.model++
		}
	}

	for i := range chunks {
		chunk := &chunks[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			emb, err := uc.embedChunk(ctx, *chunk)
			if err != nil {
				if ctx.Err() == nil {
					uc.logger.Warn("chunk_embedding_failed", "chunk_id", chunk.ID, "source_file", chunk.SourceFile, "error", err)
				}
				record(nil)
				return
			}
			if !emb.Fallback {
				chunk.EmbeddingModel = emb.Model
				chunk.Embedded = true
			}
			record(&emb)
		}
		if err := uc.pool.Submit(task); err != nil {
			uc.logger.Warn("embedding_pool_rejected", "chunk_id", chunk.ID, "error", err)
			task()
		}
	}
	wg.Wait()

	uc.observer.ObserveIngestedChunks("embedded", stats.model)
	uc.observer.ObserveIngestedChunks("fallback", stats.fallback)
	uc.observer.ObserveIngestedChunks("unembedded", stats.unembedded)
	return stats
}

func (uc *IngestUseCase) embedChunk(ctx context.Context, chunk domain.DocumentChunk) (domain.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return domain.Embedding{}, err
	}
	baselineModel := uc.embedBaseline(ctx, chunk)

	emb, err := uc.embedder.Embed(ctx, chunk.SearchText)
	if err != nil {
		return domain.Embedding{}, fmt.Errorf("embed chunk: %w", err)
	}
	if emb.Fallback && emb.Model == baselineModel {
		return emb, nil
	}
	if err := uc.persist(ctx, chunk, emb); err != nil {
		return domain.Embedding{}, err
	}
	return emb, nil
}

// embedBaseline writes the chunk's fallback-space vector and returns its
// model, or "" when there is none. Failures only cost outage-time recall.
func (uc *IngestUseCase) embedBaseline(ctx context.Context, chunk domain.DocumentChunk) string {
	if uc.baseline == nil {
		return ""
	}
	vector, model, err := uc.baseline.EmbedText(ctx, chunk.SearchText)
	if err == nil && len(vector) > 0 {
		err = uc.persist(ctx, chunk, domain.Embedding{Vector: vector, Model: model, Fallback: true})
	}
	if err != nil {
		if ctx.Err() == nil {
			uc.logger.Warn("baseline_embedding_failed", "chunk_id", chunk.ID, "error", err)
		}
		return ""
	}
	return model
}

// persist writes the index first: a chunk the store still reports as
// unembedded is retried by ReembedMissing and upserts are idempotent.
func (uc *IngestUseCase) persist(ctx context.Context, chunk domain.DocumentChunk, emb domain.Embedding) error {
	if !emb.Fallback {
		chunk.EmbeddingModel = emb.Model
		chunk.Embedded = true
	}
	if err := uc.index.Upsert(ctx, chunk, emb); err != nil {
		return fmt.Errorf("index chunk: %w", err)
	}
	if err := uc.store.SetEmbedding(ctx, chunk.ID, emb); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}
