package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// EngineMetrics records citation engine events.
type EngineMetrics struct {
	service string

	matches           *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	embeddingFallback *prometheus.CounterVec
	rerankFailures    *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	ingestedChunks    *prometheus.CounterVec
}

var _ ports.EngineObserver = (*EngineMetrics)(nil)

func NewEngineMetrics(service string, registerer prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		service: service,
		matches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "matches_total",
				Help:      "Citation matches by mode and resulting tier.",
			},
			[]string{"service", "mode", "tier"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "tier_escalations_total",
				Help:      "Tier escalations caused by document evidence.",
			},
			[]string{"service", "from", "to"},
		),
		embeddingFallback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "embedding_fallback_total",
				Help:      "Embeddings produced by the deterministic fallback.",
			},
			[]string{"service"},
		),
		rerankFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "rerank_failures_total",
				Help:      "Candidates scored by cosine alone after a re-ranking failure.",
			},
			[]string{"service"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"service", "outcome"},
		),
		ingestedChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "ingested_chunks_total",
				Help:      "Ingested chunks by embedding outcome.",
			},
			[]string{"service", "outcome"},
		),
	}
	registerer.MustRegister(
		m.matches,
		m.escalations,
		m.embeddingFallback,
		m.rerankFailures,
		m.cacheLookups,
		m.ingestedChunks,
	)
	return m
}

func (m *EngineMetrics) ObserveMatch(mode string, tier domain.CitationTier) {
	m.matches.WithLabelValues(m.service, mode, string(tier)).Inc()
}

func (m *EngineMetrics) ObserveEscalation(from, to domain.CitationTier) {
	m.escalations.WithLabelValues(m.service, string(from), string(to)).Inc()
}

func (m *EngineMetrics) ObserveEmbeddingFallback() {
	m.embeddingFallback.WithLabelValues(m.service).Inc()
}

func (m *EngineMetrics) ObserveRerankFailure() {
	m.rerankFailures.WithLabelValues(m.service).Inc()
}

func (m *EngineMetrics) ObserveCache(outcome string) {
	m.cacheLookups.WithLabelValues(m.service, outcome).Inc()
}

func (m *EngineMetrics) ObserveIngestedChunks(outcome string, n int) {
	if n <= 0 {
		return
	}
	m.ingestedChunks.WithLabelValues(m.service, outcome).Add(float64(n))
}
