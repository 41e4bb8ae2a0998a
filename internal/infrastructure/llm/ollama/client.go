package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
	Logger   *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		logger:     logger.With("component", "ollama"),
	}
}

// Embedder calls /api/embed, trying each configured model in order.
type Embedder struct {
	client *Client
	models []string
}

func NewEmbedder(client *Client, models ...string) *Embedder {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return &Embedder{client: client, models: out}
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, string, error) {
	if len(e.models) == 0 {
		return nil, "", fmt.Errorf("ollama embed: no models configured")
	}

	var errs []error
	for _, model := range e.models {
		vector, err := e.embedWith(ctx, model, text)
		if err == nil {
			return vector, model, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		e.client.logger.Warn("embedding_model_failed", "model", model, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
	}
	return nil, "", domain.WrapError(domain.ErrTemporary, "ollama embed", errors.Join(errs...))
}

func (e *Embedder) embedWith(ctx context.Context, model, text string) ([]float32, error) {
	request := map[string]any{
		"model": model,
		"input": []string{text},
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "embed", "/api/embed", request, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Generator calls /api/generate without streaming.
type Generator struct {
	client *Client
	model  string
}

func NewGenerator(client *Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	options := map[string]any{"temperature": temperature}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	request := map[string]any{
		"model":   g.model,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.call(ctx, "generate", "/api/generate", request, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
