package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// MatchOptions configures MatchUseCase. FallbackCacheTTL bounds hybrid results
// built from fallback embeddings.
type MatchOptions struct {
	TopN             int
	MinSimilarity    float64
	MaxEvidence      int
	CacheTTL         time.Duration
	FallbackCacheTTL time.Duration
	Observer         ports.EngineObserver
	Logger           *slog.Logger
}

// MatchUseCase serves structured and hybrid citation matching.
type MatchUseCase struct {
	matcher       *StructuredMatcher
	searcher      ports.DocumentSearcher
	cache         *resultCache
	observer      ports.EngineObserver
	logger        *slog.Logger
	topN          int
	minSimilarity float64
	maxEvidence   int
}

// NewMatchUseCase wires the matcher. searcher and cache may be nil; without a
// searcher HybridMatch degrades to the structured result.
func NewMatchUseCase(
	matcher *StructuredMatcher,
	searcher ports.DocumentSearcher,
	cache ports.ResultCache,
	opts MatchOptions,
) *MatchUseCase {
	if opts.TopN <= 0 {
		opts.TopN = DefaultSearchLimit
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.MaxEvidence <= 0 {
		opts.MaxEvidence = DefaultMaxEvidence
	}
	if opts.Observer == nil {
		opts.Observer = ports.NopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "matcher")
	return &MatchUseCase{
		matcher:       matcher,
		searcher:      searcher,
		cache:         newResultCache(cache, opts.CacheTTL, opts.FallbackCacheTTL, opts.Observer, logger),
		observer:      opts.Observer,
		logger:        logger,
		topN:          opts.TopN,
		minSimilarity: opts.MinSimilarity,
		maxEvidence:   opts.MaxEvidence,
	}
}

func (uc *MatchUseCase) Match(ctx context.Context, message string, signal domain.EmotionalSignal) (*domain.CitationMatch, error) {
	key := cacheKey("match", message, signal)
	var cached domain.CitationMatch
	if uc.cache.load(ctx, key, &cached) {
		return &cached, nil
	}

	result := uc.matcher.Match(message, signal)
	uc.observer.ObserveMatch("structured", result.Tier)
	uc.cache.save(ctx, key, result, false)
	return &result, nil
}

// HybridMatch combines the structured tier with document search. Search
// failures other than cancellation degrade to the structured result.
// Fallback-derived results are cached with the shorter fallback TTL so that
// recovery of the embedding service is picked up soon after.
func (uc *MatchUseCase) HybridMatch(ctx context.Context, message string, signal domain.EmotionalSignal) (*domain.HybridCitationMatch, error) {
	key := cacheKey("hybrid", message, signal)
	var cached domain.HybridCitationMatch
	if uc.cache.load(ctx, key, &cached) {
		return &cached, nil
	}

	structured := uc.matcher.Match(message, signal)

	var (
		docs     []domain.DocumentMatch
		fallback bool
	)
	if uc.searcher != nil {
		var err error
		docs, fallback, err = uc.searcher.Search(ctx, message, uc.topN, uc.minSimilarity, domain.SearchFilter{})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			uc.logger.Warn("document_search_failed", "error", err)
			docs = nil
		}
	}

	result := Combine(structured, docs, uc.maxEvidence, fallback)
	if result.Tier != result.StructuredTier {
		uc.observer.ObserveEscalation(result.StructuredTier, result.Tier)
	}
	uc.observer.ObserveMatch("hybrid", result.Tier)
	uc.logger.Debug("hybrid_match",
		"structured_tier", result.StructuredTier,
		"tier", result.Tier,
		"documents", len(result.Documents),
		"combined_confidence", result.CombinedConfidence,
		"embedding_fallback", result.EmbeddingFallback,
	)

	uc.cache.save(ctx, key, result, result.EmbeddingFallback)
	return &result, nil
}
