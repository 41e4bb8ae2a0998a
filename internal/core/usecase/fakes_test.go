package usecase

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// embedderFake maps text to a vector. Texts containing failOn fail.
type embedderFake struct {
	calls    atomic.Int32
	vector   []float32
	model    string
	fallback bool
	failOn   string
}

func (f *embedderFake) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return domain.Embedding{}, err
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return domain.Embedding{}, domain.WrapError(domain.ErrTemporary, "embed", errors.New("model down"))
	}
	vector := f.vector
	if vector == nil {
		vector = []float32{1, 0, 0}
	}
	model := f.model
	if model == "" {
		model = "test-embed"
	}
	return domain.Embedding{Vector: vector, Model: model, Fallback: f.fallback}, nil
}

// textEmbedderFake is an external model that can be taken down.
type textEmbedderFake struct {
	down   atomic.Bool
	vector []float32
}

func (f *textEmbedderFake) EmbedText(ctx context.Context, _ string) ([]float32, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if f.down.Load() {
		return nil, "", errors.New("model unreachable")
	}
	return f.vector, "test-embed", nil
}

// generatorFake answers relevance prompts. A passage containing a key of
// scores gets that reply; failOn makes the call fail.
type generatorFake struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	scores   map[string]string
	reply    string
	failOn   string
}

func (f *generatorFake) Generate(ctx context.Context, prompt string, _ int, _ float64) (string, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	passage := prompt[strings.Index(prompt, "Passage:"):]
	if f.failOn != "" && strings.Contains(passage, f.failOn) {
		return "", errors.New("generator unavailable")
	}
	for key, reply := range f.scores {
		if strings.Contains(passage, key) {
			return reply, nil
		}
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "0.5", nil
}

// indexFake returns fixed candidates and records the requested limit.
type indexFake struct {
	mu         sync.Mutex
	candidates []domain.ScoredChunk
	err        error
	lastLimit  int
	upserts    map[string]domain.Embedding
	deleted    []string
	searches   int
}

func (f *indexFake) Upsert(_ context.Context, chunk domain.DocumentChunk, emb domain.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserts == nil {
		f.upserts = make(map[string]domain.Embedding)
	}
	f.upserts[chunk.ID] = emb
	return nil
}

func (f *indexFake) Search(_ context.Context, _ domain.Embedding, limit int, minSimilarity float64, _ domain.SearchFilter) ([]domain.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ScoredChunk
	for _, c := range f.candidates {
		if c.Similarity >= minSimilarity {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *indexFake) PruneSource(_ context.Context, sourceFile string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sourceFile)
	return nil
}

// chunkStoreFake is an in-memory ports.ChunkStore with a model and a
// fallback vector slot per chunk.
type chunkStoreFake struct {
	mu       sync.Mutex
	chunks   map[string]domain.DocumentChunk
	vectors  map[string][]float32
	fallback map[string]domain.Embedding
	upsertFn func(domain.DocumentChunk) error
}

func newChunkStoreFake() *chunkStoreFake {
	return &chunkStoreFake{
		chunks:   make(map[string]domain.DocumentChunk),
		vectors:  make(map[string][]float32),
		fallback: make(map[string]domain.Embedding),
	}
}

func (f *chunkStoreFake) Upsert(_ context.Context, chunk domain.DocumentChunk) error {
	if f.upsertFn != nil {
		if err := f.upsertFn(chunk); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	chunk.Embedded = false
	chunk.EmbeddingModel = ""
	f.chunks[chunk.ID] = chunk
	delete(f.vectors, chunk.ID)
	delete(f.fallback, chunk.ID)
	return nil
}

func (f *chunkStoreFake) GetByID(_ context.Context, id string) (*domain.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get chunk", errors.New(id))
	}
	return &c, nil
}

func (f *chunkStoreFake) PruneSource(_ context.Context, sourceFile string, keep []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	for id, c := range f.chunks {
		if c.SourceFile == sourceFile && !kept[id] {
			delete(f.chunks, id)
			delete(f.vectors, id)
			delete(f.fallback, id)
		}
	}
	return nil
}

func (f *chunkStoreFake) SetEmbedding(_ context.Context, id string, emb domain.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "set embedding", errors.New(id))
	}
	if emb.Fallback {
		f.fallback[id] = emb
		return nil
	}
	c.Embedded = true
	c.EmbeddingModel = emb.Model
	f.chunks[id] = c
	f.vectors[id] = emb.Vector
	return nil
}

func (f *chunkStoreFake) ListEmbedded(_ context.Context, model string, filter domain.SearchFilter) ([]ports.EmbeddedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.EmbeddedChunk
	for id, c := range f.chunks {
		if !filter.Matches(c) {
			continue
		}
		if c.Embedded && c.EmbeddingModel == model {
			out = append(out, ports.EmbeddedChunk{Chunk: c, Vector: f.vectors[id]})
		} else if fb, ok := f.fallback[id]; ok && fb.Model == model {
			out = append(out, ports.EmbeddedChunk{Chunk: c, Vector: fb.Vector})
		}
	}
	return out, nil
}

func (f *chunkStoreFake) ListUnembedded(_ context.Context, limit int) ([]domain.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DocumentChunk
	for _, c := range f.chunks {
		if !c.Embedded {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// parserFake returns prepared chunks for any input.
type parserFake struct {
	chunks   []domain.DocumentChunk
	sections []domain.ManualSection
	err      error
}

func (f *parserFake) Parse(string, string) ([]domain.DocumentChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.DocumentChunk(nil), f.chunks...), nil
}

func (f *parserFake) ParseSections(sections []domain.ManualSection, _ string) ([]domain.DocumentChunk, error) {
	f.sections = sections
	return f.Parse("", "")
}

// cacheFake is an in-memory ports.ResultCache.
type cacheFake struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	setErr  error
	sets    int
	lastTTL time.Duration
}

func (f *cacheFake) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.entries[key]
	return v, ok, nil
}

func (f *cacheFake) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.lastTTL = ttl
	if f.setErr != nil {
		return f.setErr
	}
	if f.entries == nil {
		f.entries = make(map[string][]byte)
	}
	f.entries[key] = value
	return nil
}

// observerFake counts engine events.
type observerFake struct {
	ports.NopObserver
	mu             sync.Mutex
	rerankFailures int
	escalations    []string
	cache          map[string]int
}

func (f *observerFake) ObserveRerankFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rerankFailures++
}

func (f *observerFake) ObserveEscalation(from, to domain.CitationTier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, string(from)+"->"+string(to))
}

func (f *observerFake) ObserveCache(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cache == nil {
		f.cache = make(map[string]int)
	}
	f.cache[outcome]++
}

type jobRepoFake struct {
	job         *domain.IngestJob
	created     *domain.IngestJob
	createErr   error
	getErr      error
	countErr    error
	statusCalls []domain.JobStatus
	errMessages []string
	chunkCount  int
}

func (f *jobRepoFake) Create(_ context.Context, job *domain.IngestJob) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *job
	f.created = &copied
	return nil
}

func (f *jobRepoFake) GetByID(context.Context, string) (*domain.IngestJob, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copied := *f.job
	return &copied, nil
}

func (f *jobRepoFake) UpdateStatus(_ context.Context, _ string, status domain.JobStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, status)
	f.errMessages = append(f.errMessages, errMessage)
	return nil
}

func (f *jobRepoFake) SaveChunkCount(_ context.Context, _ string, count int) error {
	if f.countErr != nil {
		return f.countErr
	}
	f.chunkCount = count
	return nil
}

type storageFake struct {
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

type queueFake struct {
	jobID string
	err   error
}

func (f *queueFake) PublishDocumentIngested(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.jobID = jobID
	return nil
}

func (f *queueFake) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func scored(id, topic string, sim float64, evidence ...domain.Evidence) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.DocumentChunk{
			ID:           id,
			Topic:        topic,
			SearchText:   topic + " search text",
			EvidenceText: strings.Repeat("evidence ", 15),
			Evidence:     evidence,
			SourceFile:   "book.pdf",
		},
		Similarity: sim,
	}
}
