package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

type textEmbedderFake struct {
	calls int
	err   error
}

func (f *textEmbedderFake) EmbedText(context.Context, string) ([]float32, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return []float32{0.1, 0.2, 0.3}, "nomic-embed-text", nil
}

type fallbackCounter struct {
	ports.NopObserver
	fallbacks int
}

func (c *fallbackCounter) ObserveEmbeddingFallback() { c.fallbacks++ }

func TestFailoverUsesPrimary(t *testing.T) {
	primary := &textEmbedderFake{}
	f := NewFailover(primary)

	emb, err := f.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.False(t, emb.Fallback)
	assert.Equal(t, "nomic-embed-text", emb.Model)
	assert.Equal(t, 1, primary.calls)
}

func TestFailoverFallsBackAndTagsResult(t *testing.T) {
	counter := &fallbackCounter{}
	f := NewFailover(&textEmbedderFake{err: errors.New("region unavailable")}, WithObserver(counter))

	emb, err := f.Embed(context.Background(), "I feel envious of my friend")

	require.NoError(t, err)
	assert.True(t, emb.Fallback)
	assert.Equal(t, HashedModel, emb.Model)
	assert.Len(t, emb.Vector, Dimensions)
	assert.Equal(t, 1, counter.fallbacks)
}

func TestFailoverWithoutPrimaryUsesFallback(t *testing.T) {
	emb, err := NewFailover(nil).Embed(context.Background(), "grief")

	require.NoError(t, err)
	assert.True(t, emb.Fallback)
}

func TestFailoverWithoutFallbackReturnsTemporaryError(t *testing.T) {
	f := NewFailover(&textEmbedderFake{err: errors.New("down")}, WithoutFallback())

	_, err := f.Embed(context.Background(), "grief")

	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
}

func TestFailoverDoesNotMaskCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFailover(&textEmbedderFake{err: context.Canceled})

	_, err := f.Embed(ctx, "grief")

	assert.ErrorIs(t, err, context.Canceled)
}
