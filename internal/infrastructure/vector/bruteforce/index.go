// Package bruteforce scores every stored vector against the query. It needs no
// external service and suits catalogues of a few thousand chunks.
package bruteforce

import (
	"context"
	"sort"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
	"github.com/kirillkom/evidence-engine/internal/core/similarity"
)

// Index reads vectors back from the chunk store, model and fallback slots
// alike, so Upsert and PruneSource have nothing to do beyond what the store
// already holds.
type Index struct {
	store ports.ChunkStore
}

var _ ports.VectorIndex = (*Index)(nil)

func New(store ports.ChunkStore) *Index {
	return &Index{store: store}
}

func (i *Index) Upsert(context.Context, domain.DocumentChunk, domain.Embedding) error {
	return nil
}

func (i *Index) PruneSource(context.Context, string, []string) error {
	return nil
}

func (i *Index) Search(
	ctx context.Context,
	query domain.Embedding,
	limit int,
	minSimilarity float64,
	filter domain.SearchFilter,
) ([]domain.ScoredChunk, error) {
	if len(query.Vector) == 0 || limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	candidates, err := i.store.ListEmbedded(ctx, query.Model, filter)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filter.Matches(c.Chunk) {
			continue
		}
		score := similarity.Cosine(query.Vector, c.Vector)
		if score < minSimilarity {
			continue
		}
		out = append(out, domain.ScoredChunk{Chunk: c.Chunk, Similarity: score})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Similarity != out[b].Similarity {
			return out[a].Similarity > out[b].Similarity
		}
		return out[a].Chunk.ID < out[b].Chunk.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
