package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

type engineFixture struct {
	embedder  *embedderFake
	generator *generatorFake
	index     *indexFake
	cache     *cacheFake
	observer  *observerFake
	uc        *MatchUseCase
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		embedder:  &embedderFake{},
		generator: &generatorFake{reply: "0.9"},
		index: &indexFake{candidates: []domain.ScoredChunk{
			scored("a", "Envy", 0.8, evB),
			scored("b", "Pride", 0.7, evC),
		}},
		cache:    &cacheFake{},
		observer: &observerFake{},
	}
	reranker := NewReranker(f.generator, 2, f.observer, nil)
	searcher := NewSearchUseCase(f.embedder, f.index, reranker)
	f.uc = NewMatchUseCase(NewStructuredMatcher(testConditions(), 0), searcher, f.cache, MatchOptions{
		TopN:     3,
		CacheTTL: 30 * time.Minute,
		Observer: f.observer,
	})
	return f
}

func TestHybridMatchSecondCallIsServedFromCache(t *testing.T) {
	f := newEngineFixture(t)
	signal := domain.EmotionalSignal{Primary: "sadness", Intensity: 0.4}

	first, err := f.uc.HybridMatch(context.Background(), "nothing lines up with this", signal)
	require.NoError(t, err)
	embedCalls, generateCalls := f.embedder.calls.Load(), f.generator.calls.Load()
	assert.Equal(t, int32(1), embedCalls)
	assert.Equal(t, int32(2), generateCalls)

	second, err := f.uc.HybridMatch(context.Background(), "nothing lines up with this", signal)
	require.NoError(t, err)
	assert.Equal(t, embedCalls, f.embedder.calls.Load())
	assert.Equal(t, generateCalls, f.generator.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, 30*time.Minute, f.cache.lastTTL)
	assert.Equal(t, 1, f.observer.cache[cacheHit])
}

func TestHybridMatchEscalatesOnStrongDocuments(t *testing.T) {
	f := newEngineFixture(t)

	got, err := f.uc.HybridMatch(context.Background(), "nothing lines up with this", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierNoDirectMatch, got.StructuredTier)
	assert.Equal(t, domain.TierGeneralGuidance, got.Tier)
	assert.Len(t, got.Documents, 2)
	assert.Equal(t, []string{"no_direct_match->general_guidance"}, f.observer.escalations)
}

func TestHybridMatchCachesFallbackResultsBriefly(t *testing.T) {
	f := newEngineFixture(t)
	f.embedder.fallback = true

	got, err := f.uc.HybridMatch(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.True(t, got.EmbeddingFallback)
	assert.Equal(t, domain.TierPerfectMatch, got.Tier)
	assert.Equal(t, 1, f.cache.sets)
	assert.Equal(t, DefaultFallbackCacheTTL, f.cache.lastTTL)

	embedCalls := f.embedder.calls.Load()
	again, err := f.uc.HybridMatch(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, embedCalls, f.embedder.calls.Load())
}

func TestFallbackCacheTTLNeverOutlivesCacheTTL(t *testing.T) {
	cache := &cacheFake{}
	searcher := NewSearchUseCase(&embedderFake{fallback: true}, &indexFake{}, nil)
	uc := NewMatchUseCase(NewStructuredMatcher(testConditions(), 0), searcher, cache, MatchOptions{
		CacheTTL:         30 * time.Second,
		FallbackCacheTTL: 5 * time.Minute,
	})

	_, err := uc.HybridMatch(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cache.lastTTL)

	uc = NewMatchUseCase(NewStructuredMatcher(testConditions(), 0), searcher, cache, MatchOptions{
		FallbackCacheTTL: 10 * time.Second,
	})
	_, err = uc.HybridMatch(context.Background(), "I am calm", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cache.lastTTL)
}

func TestHybridMatchDegradesWhenSearchFails(t *testing.T) {
	f := newEngineFixture(t)
	f.index.err = errors.New("index down")

	got, err := f.uc.HybridMatch(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierPerfectMatch, got.Tier)
	assert.Empty(t, got.Documents)
	assert.Equal(t, 0.9, got.CombinedConfidence)
}

func TestHybridMatchReturnsCancellation(t *testing.T) {
	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.uc.HybridMatch(ctx, "I am furious", domain.EmotionalSignal{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchIsCachedAndBypassesBrokenCache(t *testing.T) {
	f := newEngineFixture(t)
	got, err := f.uc.Match(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierPerfectMatch, got.Tier)
	assert.Equal(t, 1, f.cache.sets)
	assert.Equal(t, int32(0), f.embedder.calls.Load())

	broken := &cacheFake{getErr: errors.New("disk full"), setErr: errors.New("disk full")}
	uc := NewMatchUseCase(NewStructuredMatcher(testConditions(), 0), nil, broken, MatchOptions{})
	got, err = uc.Match(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierPerfectMatch, got.Tier)

	hybrid, err := uc.HybridMatch(context.Background(), "I am furious", domain.EmotionalSignal{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierPerfectMatch, hybrid.Tier)
	assert.Equal(t, []domain.SourceClass{domain.SourceStructured, domain.SourceModelKnowledge}, hybrid.Sources)
}

func TestCacheKeyUsesSignalAndMessagePrefix(t *testing.T) {
	signal := domain.EmotionalSignal{Primary: "anger", Intensity: 0.5}
	long := "this message is definitely longer than fifty characters in total"
	assert.Equal(t, cacheKey("match", long, signal), cacheKey("match", long+" with a different tail", signal))
	assert.NotEqual(t, cacheKey("match", long, signal), cacheKey("match", long, domain.EmotionalSignal{Primary: "anger", Intensity: 0.6}))
	assert.NotEqual(t, cacheKey("match", long, signal), cacheKey("hybrid", long, signal))
	assert.Contains(t, cacheKey("match", "x", signal), "match:")
}
