package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/resilience"
)

// Client is a ports.VectorIndex over the Qdrant REST API. Each vector size gets
// its own collection named "<prefix>_<size>"; a chunk has one point per model.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger

	ensureMu sync.Mutex
	ensured  map[int]bool
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
	Logger   *slog.Logger
}

var _ ports.VectorIndex = (*Client)(nil)

func New(baseURL, prefix string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     prefix,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		logger:     logger.With("component", "qdrant"),
		ensured:    make(map[int]bool),
	}
}

// pointNamespace derives point ids from (model, chunk id).
var pointNamespace = uuid.MustParse("4f6b1c2e-9d7a-5e13-8c0f-2a6d3b9e7f41")

func pointID(chunkID, model string) string {
	return uuid.NewSHA1(pointNamespace, []byte(model+"\x00"+chunkID)).String()
}

type payload struct {
	Chunk          domain.DocumentChunk `json:"chunk"`
	ChunkID        string               `json:"chunk_id"`
	EmbeddingModel string               `json:"embedding_model"`
	SourceFile     string               `json:"source_file"`
	TopicKey       string               `json:"topic_key"`
	Categories     []string             `json:"categories"`
}

func (c *Client) Upsert(ctx context.Context, chunk domain.DocumentChunk, emb domain.Embedding) error {
	size := len(emb.Vector)
	if size == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", errors.New("empty vector"))
	}
	if err := c.ensureCollection(ctx, size); err != nil {
		return err
	}

	if !emb.Fallback {
		chunk.EmbeddingModel = emb.Model
		chunk.Embedded = true
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(chunk.ID, emb.Model),
			"vector":  emb.Vector,
			"payload": payloadOf(chunk, emb.Model),
		}},
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection(size))
	return c.call(ctx, "upsert", http.MethodPut, path, body, nil)
}

func (c *Client) Search(
	ctx context.Context,
	query domain.Embedding,
	limit int,
	minSimilarity float64,
	filter domain.SearchFilter,
) ([]domain.ScoredChunk, error) {
	if len(query.Vector) == 0 || limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	body := map[string]any{
		"vector":          query.Vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": minSimilarity,
		"filter":          searchFilter(query.Model, filter),
	}

	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection(len(query.Vector)))
	if err := c.call(ctx, "search", http.MethodPost, path, body, &resp); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return []domain.ScoredChunk{}, nil
		}
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, domain.ScoredChunk{Chunk: r.Payload.Chunk, Similarity: r.Score})
	}
	return out, nil
}

// PruneSource removes the source's points whose chunk is not in keep from
// every collection under the prefix, including those created by earlier
// processes.
func (c *Client) PruneSource(ctx context.Context, sourceFile string, keep []string) error {
	names, err := c.listCollections(ctx)
	if err != nil {
		return err
	}
	filter := map[string]any{
		"must": []map[string]any{matchValue("source_file", sourceFile)},
	}
	if len(keep) > 0 {
		filter["must_not"] = []map[string]any{{
			"key":   "chunk_id",
			"match": map[string]any{"any": keep},
		}}
	}
	body := map[string]any{"filter": filter}
	for _, name := range names {
		path := fmt.Sprintf("/collections/%s/points/delete?wait=true", name)
		if err := c.call(ctx, "delete", http.MethodPost, path, body, nil); err != nil && !hasStatus(err, http.StatusNotFound) {
			return err
		}
	}
	return nil
}

func (c *Client) listCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := c.call(ctx, "list_collections", http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Result.Collections))
	for _, col := range resp.Result.Collections {
		if strings.HasPrefix(col.Name, c.prefix+"_") {
			out = append(out, col.Name)
		}
	}
	return out, nil
}

func (c *Client) collection(size int) string {
	return fmt.Sprintf("%s_%d", c.prefix, size)
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensured[vectorSize] {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := c.call(ctx, "ensure_collection", http.MethodPut, "/collections/"+c.collection(vectorSize), body, nil)
	// 409 when the collection already exists.
	if err != nil && !hasStatus(err, http.StatusConflict) {
		return err
	}

	c.ensureMu.Lock()
	c.ensured[vectorSize] = true
	c.ensureMu.Unlock()
	c.logger.Debug("qdrant_collection_ensured", "collection", c.collection(vectorSize))
	return nil
}

func (c *Client) call(ctx context.Context, operation, method, path string, in, out any) error {
	do := func(ctx context.Context) error {
		return c.doJSON(ctx, operation, method, path, in, out)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant."+operation, do, resilience.ClassifyHTTP)
	} else {
		err = do(ctx)
	}
	return resilience.WrapTemporary("qdrant "+operation, err, resilience.ClassifyHTTP)
}

func (c *Client) doJSON(ctx context.Context, operation, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func hasStatus(err error, code int) bool {
	var statusErr *resilience.HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func payloadOf(chunk domain.DocumentChunk, model string) payload {
	categories := make([]string, 0, 3)
	seen := map[domain.EvidenceCategory]bool{}
	for _, ev := range chunk.Evidence {
		if !seen[ev.Category] {
			seen[ev.Category] = true
			categories = append(categories, string(ev.Category))
		}
	}
	return payload{
		Chunk:          chunk,
		ChunkID:        chunk.ID,
		EmbeddingModel: model,
		SourceFile:     chunk.SourceFile,
		TopicKey:       topicKey(chunk.Topic),
		Categories:     categories,
	}
}

func searchFilter(model string, filter domain.SearchFilter) map[string]any {
	must := []map[string]any{matchValue("embedding_model", model)}
	if filter.Topic != "" {
		must = append(must, matchValue("topic_key", topicKey(filter.Topic)))
	}
	if filter.SourceFile != "" {
		must = append(must, matchValue("source_file", filter.SourceFile))
	}
	if filter.Category != "" {
		must = append(must, matchValue("categories", string(filter.Category)))
	}
	return map[string]any{"must": must}
}

func matchValue(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func topicKey(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
