// Package mcpadapter exposes the evidence engine as Model Context Protocol tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

const (
	toolMatch       = "match_evidence"
	toolHybridMatch = "hybrid_match_evidence"
	toolSearch      = "search_documents"
)

type Server struct {
	matcher  ports.CitationMatcher
	searcher ports.DocumentSearcher
	logger   *slog.Logger
	mcp      *server.MCPServer
}

func New(name, version string, matcher ports.CitationMatcher, searcher ports.DocumentSearcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		matcher:  matcher,
		searcher: searcher,
		logger:   logger.With("component", "mcp"),
		mcp:      server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks until stdin closes or the process receives a signal.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	signalOpts := []mcp.ToolOption{
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's message."),
		),
		mcp.WithString("emotion",
			mcp.Description("Primary detected emotion, e.g. anger or grief."),
		),
		mcp.WithNumber("intensity",
			mcp.Description("Emotion intensity in [0,1]."),
		),
		mcp.WithString("context",
			mcp.Description("Optional situational context."),
		),
	}

	s.mcp.AddTool(mcp.NewTool(toolMatch, append([]mcp.ToolOption{
		mcp.WithDescription("Match a message and emotional signal against the curated condition catalogue and return scored evidence."),
	}, signalOpts...)...), s.handleMatch)

	s.mcp.AddTool(mcp.NewTool(toolHybridMatch, append([]mcp.ToolOption{
		mcp.WithDescription("Match against the catalogue and escalate to ingested documents when the structured result is weak."),
	}, signalOpts...)...), s.handleHybridMatch)

	s.mcp.AddTool(mcp.NewTool(toolSearch,
		mcp.WithDescription("Vector search over ingested document chunks."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of matches.")),
		mcp.WithNumber("min_similarity", mcp.Description("Cosine similarity floor.")),
		mcp.WithString("topic", mcp.Description("Restrict to a topic.")),
		mcp.WithString("source_file", mcp.Description("Restrict to a source document.")),
		mcp.WithString("category", mcp.Description("Restrict to chunks with scripture, tradition or scholar evidence.")),
	), s.handleSearch)
}

func signalFromRequest(req mcp.CallToolRequest) (string, domain.EmotionalSignal, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return "", domain.EmotionalSignal{}, err
	}
	intensity := req.GetFloat("intensity", 0)
	if intensity < 0 || intensity > 1 {
		return "", domain.EmotionalSignal{}, fmt.Errorf("intensity must be within [0,1], got %v", intensity)
	}
	return message, domain.EmotionalSignal{
		Primary:   strings.TrimSpace(req.GetString("emotion", "")),
		Intensity: intensity,
		Context:   req.GetString("context", ""),
	}, nil
}

func (s *Server) handleMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, signal, err := signalFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.matcher.Match(ctx, message, signal)
	if err != nil {
		return s.toolError(toolMatch, err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleHybridMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, signal, err := signalFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.matcher.HybridMatch(ctx, message, signal)
	if err != nil {
		return s.toolError(toolHybridMatch, err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category := domain.EvidenceCategory(strings.ToLower(strings.TrimSpace(req.GetString("category", ""))))
	switch category {
	case "", domain.CategoryScripture, domain.CategoryTradition, domain.CategoryScholar:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown category %q", category)), nil
	}

	matches, fallback, err := s.searcher.Search(ctx, query,
		req.GetInt("limit", 0),
		req.GetFloat("min_similarity", 0),
		domain.SearchFilter{
			Topic:      strings.TrimSpace(req.GetString("topic", "")),
			SourceFile: strings.TrimSpace(req.GetString("source_file", "")),
			Category:   category,
		},
	)
	if err != nil {
		return s.toolError(toolSearch, err), nil
	}
	if matches == nil {
		matches = []domain.DocumentMatch{}
	}
	return jsonResult(map[string]any{
		"matches":            matches,
		"embedding_fallback": fallback,
	})
}

// toolError reports failures in-band so the calling model can react; only
// non-input failures are logged.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		s.logger.Error("mcp_tool_failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
