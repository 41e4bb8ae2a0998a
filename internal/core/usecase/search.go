package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

const (
	DefaultSearchLimit   = 5
	DefaultMinSimilarity = 0.3
)

type SearchUseCase struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	reranker *Reranker
}

// NewSearchUseCase builds vector search. A nil reranker ranks by cosine
// similarity alone.
func NewSearchUseCase(embedder ports.Embedder, index ports.VectorIndex, reranker *Reranker) *SearchUseCase {
	return &SearchUseCase{
		embedder: embedder,
		index:    index,
		reranker: reranker,
	}
}

// Search embeds the query, pulls 2×limit candidates above the similarity
// floor, reranks them and returns the top limit. The bool reports whether
// the query was embedded with the fallback model.
func (uc *SearchUseCase) Search(
	ctx context.Context,
	query string,
	limit int,
	minSimilarity float64,
	filter domain.SearchFilter,
) ([]domain.DocumentMatch, bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "search documents", errors.New("query is empty"))
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}

	emb, err := uc.embedder.Embed(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := uc.index.Search(ctx, emb, 2*limit, minSimilarity, filter)
	if err != nil {
		return nil, emb.Fallback, fmt.Errorf("search vector index: %w", err)
	}

	matches := make([]domain.DocumentMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, domain.DocumentMatch{
			Chunk:      c.Chunk,
			Similarity: c.Similarity,
			Relevance:  c.Similarity,
		})
	}

	if uc.reranker != nil && len(matches) > 0 {
		if err := uc.reranker.Rerank(ctx, query, matches); err != nil {
			return nil, emb.Fallback, err
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Relevance > matches[j].Relevance })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, emb.Fallback, nil
}
