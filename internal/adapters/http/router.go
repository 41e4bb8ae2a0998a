package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
	"github.com/kirillkom/evidence-engine/internal/observability/metrics"
)

const maxJSONBodyBytes = 8 << 20

// JobReader exposes ingestion job state to the API.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.IngestJob, error)
}

type Options struct {
	Service        string
	MaxUploadBytes int64
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        *metrics.HTTPServerMetrics
	Logger         *slog.Logger
}

type Router struct {
	matcher  ports.CitationMatcher
	ingestor ports.DocumentIngestor
	searcher ports.DocumentSearcher
	uploader ports.DocumentUploader
	jobs     JobReader
	opts     Options
	logger   *slog.Logger
}

// NewRouter wires the API. uploader and jobs may be nil when the async
// ingestion path is not configured; their routes then answer 503.
func NewRouter(
	matcher ports.CitationMatcher,
	ingestor ports.DocumentIngestor,
	searcher ports.DocumentSearcher,
	uploader ports.DocumentUploader,
	jobs JobReader,
	opts Options,
) *Router {
	if opts.Service == "" {
		opts.Service = "evidence-api"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		matcher:  matcher,
		ingestor: ingestor,
		searcher: searcher,
		uploader: uploader,
		jobs:     jobs,
		opts:     opts,
		logger:   logger.With("component", "http"),
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.logger))
	r.Use(middleware.Recoverer)
	if rt.opts.Metrics != nil {
		r.Use(rt.opts.Metrics.Middleware(rt.opts.Service))
	}

	r.Get("/healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.Metrics.Handler())
	}

	var onLimited func()
	if rt.opts.Metrics != nil {
		onLimited = func() { rt.opts.Metrics.RecordRateLimited(rt.opts.Service) }
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, onLimited))

		r.Post("/match", rt.match)
		r.Post("/match/hybrid", rt.hybridMatch)
		r.Post("/search", rt.search)

		r.Post("/documents", rt.ingestDocument)
		r.Post("/documents/reembed", rt.reembed)
		r.Post("/documents/upload", rt.uploadDocument)
		r.Get("/documents/{id}", rt.getJob)
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signalRequest struct {
	Primary   string   `json:"primary"`
	Intensity float64  `json:"intensity"`
	Triggers  []string `json:"triggers"`
	Context   string   `json:"context"`
}

type matchRequest struct {
	Message string        `json:"message"`
	Signal  signalRequest `json:"signal"`
}

func (req matchRequest) validate() (domain.EmotionalSignal, error) {
	if req.Signal.Intensity < 0 || req.Signal.Intensity > 1 {
		return domain.EmotionalSignal{}, errors.New("signal.intensity must be within [0,1]")
	}
	return domain.EmotionalSignal{
		Primary:   strings.TrimSpace(req.Signal.Primary),
		Intensity: req.Signal.Intensity,
		Triggers:  req.Signal.Triggers,
		Context:   req.Signal.Context,
	}, nil
}

func (rt *Router) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !rt.decode(w, r, &req) {
		return
	}
	signal, err := req.validate()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := rt.matcher.Match(r.Context(), req.Message, signal)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) hybridMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !rt.decode(w, r, &req) {
		return
	}
	signal, err := req.validate()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := rt.matcher.HybridMatch(r.Context(), req.Message, signal)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
	Filter        struct {
		Topic      string `json:"topic"`
		SourceFile string `json:"source_file"`
		Category   string `json:"category"`
	} `json:"filter"`
}

type searchResponse struct {
	Matches           []domain.DocumentMatch `json:"matches"`
	EmbeddingFallback bool                   `json:"embedding_fallback"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !rt.decode(w, r, &req) {
		return
	}
	category, err := parseCategory(req.Filter.Category)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	matches, fallback, err := rt.searcher.Search(r.Context(), req.Query, req.Limit, req.MinSimilarity, domain.SearchFilter{
		Topic:      strings.TrimSpace(req.Filter.Topic),
		SourceFile: strings.TrimSpace(req.Filter.SourceFile),
		Category:   category,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if matches == nil {
		matches = []domain.DocumentMatch{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Matches: matches, EmbeddingFallback: fallback})
}

type ingestRequest struct {
	SourceFile string                 `json:"source_file"`
	Text       string                 `json:"text"`
	Sections   []domain.ManualSection `json:"sections"`
}

func (rt *Router) ingestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !rt.decode(w, r, &req) {
		return
	}
	sourceFile := strings.TrimSpace(req.SourceFile)
	if sourceFile == "" {
		writeError(w, r, http.StatusBadRequest, "source_file is required")
		return
	}

	var (
		result *domain.IngestResult
		err    error
	)
	if len(req.Sections) > 0 {
		result, err = rt.ingestor.IngestSections(r.Context(), req.Sections, sourceFile)
	} else {
		result, err = rt.ingestor.Ingest(r.Context(), req.Text, sourceFile)
	}
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) reembed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if r.ContentLength != 0 && !rt.decode(w, r, &req) {
		return
	}
	n, err := rt.ingestor.ReembedMissing(r.Context(), req.Limit)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reembedded": n})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.uploader == nil {
		writeError(w, r, http.StatusServiceUnavailable, "asynchronous ingestion is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	job, err := rt.uploader.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	if rt.jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "asynchronous ingestion is not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "document id is required")
		return
	}
	job, err := rt.jobs.GetByID(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, r, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, r, http.StatusBadRequest, "invalid json")
		}
		return false
	}
	return true
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, r, status, err.Error())
}

func parseCategory(raw string) (domain.EvidenceCategory, error) {
	category := domain.EvidenceCategory(strings.ToLower(strings.TrimSpace(raw)))
	switch category {
	case "", domain.CategoryScripture, domain.CategoryTradition, domain.CategoryScholar:
		return category, nil
	default:
		return "", fmt.Errorf("unknown category %q", raw)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
