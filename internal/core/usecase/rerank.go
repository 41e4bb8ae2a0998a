package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

const (
	DefaultRerankConcurrency = 4

	cosineWeight      = 0.4
	modelWeight       = 0.6
	rerankMaxTokens   = 8
	rerankTemperature = 0.0
	rerankPromptRunes = 1200
)

var scoreToken = regexp.MustCompile(`\d*\.?\d+`)

// BuildRelevancePrompt asks the generation model for a single relevance
// score in [0,1].
func BuildRelevancePrompt(query, searchText string) string {
	text := []rune(strings.TrimSpace(searchText))
	if len(text) > rerankPromptRunes {
		text = text[:rerankPromptRunes]
	}
	return fmt.Sprintf(`Rate how relevant the passage is to the user's message.
Reply with a single number between 0 and 1 and nothing else.

Message:
%s

Passage:
%s

Relevance:`, strings.TrimSpace(query), string(text))
}

func parseRelevanceScore(raw string) (float64, error) {
	token := scoreToken.FindString(raw)
	if token == "" {
		return 0, fmt.Errorf("no score in reranker output %q", raw)
	}
	score, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("parse reranker score %q: %w", token, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("reranker score %v outside [0,1]", score)
	}
	return score, nil
}

// Reranker blends cosine similarity with a model relevance score. Model
// failures degrade a candidate to cosine similarity alone.
type Reranker struct {
	generator   ports.Generator
	concurrency int
	observer    ports.EngineObserver
	logger      *slog.Logger
}

func NewReranker(generator ports.Generator, concurrency int, observer ports.EngineObserver, logger *slog.Logger) *Reranker {
	if concurrency <= 0 {
		concurrency = DefaultRerankConcurrency
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		generator:   generator,
		concurrency: concurrency,
		observer:    observer,
		logger:      logger.With("component", "reranker"),
	}
}

// Rerank scores matches in place. Only caller cancellation is returned as
// an error.
func (r *Reranker) Rerank(ctx context.Context, query string, matches []domain.DocumentMatch) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range matches {
		matches[i].Relevance = matches[i].Similarity
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r.score(gctx, query, &matches[i])
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (r *Reranker) score(ctx context.Context, query string, m *domain.DocumentMatch) {
	raw, err := r.generator.Generate(ctx, BuildRelevancePrompt(query, m.Chunk.SearchText), rerankMaxTokens, rerankTemperature)
	if err == nil {
		var score float64
		if score, err = parseRelevanceScore(raw); err == nil {
			m.ModelScore = &score
			m.Relevance = cosineWeight*m.Similarity + modelWeight*score
			m.Reranked = true
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	r.logger.Warn("rerank_failed", "chunk_id", m.Chunk.ID, "error", err)
	r.observer.ObserveRerankFailure()
}
