package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/evidence-engine/internal/config"
	"github.com/kirillkom/evidence-engine/internal/core/evidence"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
	"github.com/kirillkom/evidence-engine/internal/core/usecase"
	badgercache "github.com/kirillkom/evidence-engine/internal/infrastructure/cache/badger"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/chunking"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/embedding"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/queue/nats"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/resilience"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/vector/bruteforce"
	"github.com/kirillkom/evidence-engine/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/evidence-engine/internal/observability/metrics"
	"github.com/kirillkom/evidence-engine/internal/taxonomy"
)

const cacheGCInterval = 10 * time.Minute

type Options struct {
	// Service labels engine metrics.
	Service string
	// Registerer receives engine metrics; nil disables them.
	Registerer prometheus.Registerer
	// WithQueue connects to NATS and wires the asynchronous upload path.
	WithQueue bool
	Logger    *slog.Logger
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Taxonomy *taxonomy.Taxonomy
	Jobs     *postgres.JobRepository

	// Queue, UploadUC and ProcessUC are nil unless Options.WithQueue is set.
	Queue     *nats.Queue
	UploadUC  ports.DocumentUploader
	ProcessUC ports.DocumentProcessor

	MatchUC  ports.CitationMatcher
	IngestUC ports.DocumentIngestor
	SearchUC ports.DocumentSearcher

	closers []func()
}

// New wires every component. On failure the resources acquired so far are
// released before the error is returned.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: opts.Logger}
	if err := app.wire(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) wire(ctx context.Context, opts Options) error {
	cfg, logger := app.Config, app.Logger

	var observer ports.EngineObserver = ports.NopObserver{}
	if opts.Registerer != nil {
		observer = metrics.NewEngineMetrics(opts.Service, opts.Registerer)
	}
	executor := resilience.NewExecutor(cfg.Resilience, resilience.WithLogger(logger))

	parser := evidence.NewParser(evidence.Options{
		ScriptureTokens: cfg.ScriptureTokens,
		TraditionTokens: cfg.TraditionTokens,
		Logger:          logger,
	})
	catalogue, err := taxonomy.Load(cfg.TaxonomyPath, parser)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	app.Taxonomy = catalogue
	logger.Info("taxonomy_loaded", "version", catalogue.Version(), "conditions", catalogue.Len())

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })

	chunks, jobs, err := openRepositories(ctx, db)
	if err != nil {
		return err
	}
	app.Jobs = jobs

	index, err := newVectorIndex(cfg, chunks, executor, logger)
	if err != nil {
		return err
	}

	ollamaClient := ollama.New(cfg.OllamaURL, ollama.Options{
		Timeout:  cfg.OllamaTimeout(),
		Executor: executor,
		Logger:   logger,
	})
	textEmbedder := ollama.NewEmbedder(ollamaClient, cfg.OllamaEmbedModels...)
	embedder := embedding.NewFailover(textEmbedder, embedding.WithObserver(observer), embedding.WithLogger(logger))
	ingestEmbedder := embedder
	if !cfg.IngestEmbedFallback {
		ingestEmbedder = embedding.NewFailover(textEmbedder, embedding.WithoutFallback(), embedding.WithObserver(observer), embedding.WithLogger(logger))
	}

	builder := chunking.NewBuilder(chunking.Config{
		MinEvidenceChars: cfg.MinEvidenceChars,
		Parser:           parser,
		Logger:           logger,
	})
	ingestUC, err := usecase.NewIngestUseCase(builder, chunks, index, ingestEmbedder, usecase.IngestOptions{
		Concurrency:  cfg.IngestConcurrency,
		ReembedBatch: cfg.ReembedBatch,
		Baseline:     embedding.NewHashed(),
		Observer:     observer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	app.onClose(ingestUC.Close)
	app.IngestUC = ingestUC

	var reranker *usecase.Reranker
	if cfg.RerankEnabled {
		reranker = usecase.NewReranker(ollama.NewGenerator(ollamaClient, cfg.OllamaGenModel), cfg.RerankConcurrency, observer, logger)
	}
	searchUC := usecase.NewSearchUseCase(embedder, index, reranker)
	app.SearchUC = searchUC

	var cache ports.ResultCache
	if cfg.CacheEnabled {
		badgerCache, err := badgercache.Open(cfg.CacheDir, logger)
		if err != nil {
			return fmt.Errorf("open result cache: %w", err)
		}
		gcCtx, stopGC := context.WithCancel(context.Background())
		go badgerCache.RunGC(gcCtx, cacheGCInterval)
		app.onClose(func() {
			stopGC()
			_ = badgerCache.Close()
		})
		cache = badgerCache
	}

	app.MatchUC = usecase.NewMatchUseCase(
		usecase.NewStructuredMatcher(catalogue.Conditions(), cfg.MaxEvidence),
		searchUC,
		cache,
		usecase.MatchOptions{
			TopN:             cfg.SearchTopN,
			MinSimilarity:    cfg.MinSimilarity,
			MaxEvidence:      cfg.MaxEvidence,
			CacheTTL:         cfg.CacheTTL(),
			FallbackCacheTTL: cfg.FallbackCacheTTL(),
			Observer:         observer,
			Logger:           logger,
		},
	)

	if !opts.WithQueue {
		return nil
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ClientName:         opts.Service,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(queue.Close)
	app.Queue = queue
	app.UploadUC = usecase.NewUploadUseCase(jobs, storage, queue)
	app.ProcessUC = usecase.NewProcessDocumentUseCase(jobs, plaintext.NewExtractor(storage), ingestUC)
	return nil
}

func openRepositories(ctx context.Context, db *sql.DB) (*postgres.ChunkRepository, *postgres.JobRepository, error) {
	chunks := postgres.NewChunkRepository(db)
	if err := chunks.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensure chunk schema: %w", err)
	}
	jobs := postgres.NewJobRepository(db)
	if err := jobs.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensure job schema: %w", err)
	}
	return chunks, jobs, nil
}

func newVectorIndex(cfg config.Config, store ports.ChunkStore, executor *resilience.Executor, logger *slog.Logger) (ports.VectorIndex, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendBruteForce, "":
		return bruteforce.New(store), nil
	case config.VectorBackendQdrant:
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix, qdrant.Options{
			Executor: executor,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func (app *App) onClose(fn func()) {
	app.closers = append(app.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}
