package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

type matcherStub struct {
	signal  domain.EmotionalSignal
	message string
	err     error
}

func (m *matcherStub) Match(_ context.Context, message string, signal domain.EmotionalSignal) (*domain.CitationMatch, error) {
	m.message, m.signal = message, signal
	if m.err != nil {
		return nil, m.err
	}
	return &domain.CitationMatch{SchemaVersion: domain.SchemaVersion, Tier: domain.TierPerfectMatch, Evidence: []domain.Evidence{}, Confidence: 0.9}, nil
}

func (m *matcherStub) HybridMatch(_ context.Context, message string, signal domain.EmotionalSignal) (*domain.HybridCitationMatch, error) {
	m.message, m.signal = message, signal
	if m.err != nil {
		return nil, m.err
	}
	return &domain.HybridCitationMatch{SchemaVersion: domain.SchemaVersion, Tier: domain.TierRelatedTheme}, nil
}

type searcherStub struct {
	filter domain.SearchFilter
	limit  int
}

func (s *searcherStub) Search(_ context.Context, _ string, limit int, _ float64, filter domain.SearchFilter) ([]domain.DocumentMatch, bool, error) {
	s.filter, s.limit = filter, limit
	return nil, false, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestHandleMatchPassesSignal(t *testing.T) {
	matcher := &matcherStub{}
	s := New("evidence", "test", matcher, &searcherStub{}, nil)

	res, err := s.handleMatch(context.Background(), callRequest(map[string]any{
		"message":   "I am furious with my brother",
		"emotion":   " anger ",
		"intensity": 0.7,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "anger", matcher.signal.Primary)
	assert.InDelta(t, 0.7, matcher.signal.Intensity, 1e-9)

	var body domain.CitationMatch
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	assert.Equal(t, domain.TierPerfectMatch, body.Tier)
}

func TestHandleMatchRequiresMessage(t *testing.T) {
	s := New("evidence", "test", &matcherStub{}, &searcherStub{}, nil)

	res, err := s.handleHybridMatch(context.Background(), callRequest(map[string]any{"emotion": "grief"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleMatchRejectsIntensity(t *testing.T) {
	s := New("evidence", "test", &matcherStub{}, &searcherStub{}, nil)

	res, err := s.handleMatch(context.Background(), callRequest(map[string]any{"message": "x", "intensity": 2.0}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleMatchReportsEngineErrorInBand(t *testing.T) {
	matcher := &matcherStub{err: domain.WrapError(domain.ErrTemporary, "match", errors.New("store down"))}
	s := New("evidence", "test", matcher, &searcherStub{}, nil)

	res, err := s.handleHybridMatch(context.Background(), callRequest(map[string]any{"message": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "store down")
}

func TestHandleSearchBuildsFilter(t *testing.T) {
	searcher := &searcherStub{}
	s := New("evidence", "test", &matcherStub{}, searcher, nil)

	res, err := s.handleSearch(context.Background(), callRequest(map[string]any{
		"query":    "patience",
		"limit":    3,
		"topic":    "Anger",
		"category": "Tradition",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 3, searcher.limit)
	assert.Equal(t, domain.SearchFilter{Topic: "Anger", Category: domain.CategoryTradition}, searcher.filter)
	assert.JSONEq(t, `{"matches":[],"embedding_fallback":false}`, resultText(t, res))
}

func TestHandleSearchRejectsUnknownCategory(t *testing.T) {
	s := New("evidence", "test", &matcherStub{}, &searcherStub{}, nil)

	res, err := s.handleSearch(context.Background(), callRequest(map[string]any{"query": "x", "category": "poetry"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
