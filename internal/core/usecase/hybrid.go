package usecase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

const (
	structuredWeight = 0.4
	documentWeight   = 0.6

	escalateToGeneral = 0.7
	escalateToRelated = 0.8

	excerptRunes = 500
)

// Combine merges a structured match with ranked document matches. The
// resulting tier is never below the structured tier.
func Combine(structured domain.CitationMatch, docs []domain.DocumentMatch, maxEvidence int, fallback bool) domain.HybridCitationMatch {
	if maxEvidence <= 0 {
		maxEvidence = DefaultMaxEvidence
	}

	out := domain.HybridCitationMatch{
		SchemaVersion:        domain.SchemaVersion,
		Tier:                 structured.Tier,
		StructuredTier:       structured.Tier,
		Condition:            structured.Condition,
		StructuredConfidence: structured.Confidence,
		CombinedConfidence:   structured.Confidence,
		Documents:            docs,
		EmbeddingFallback:    fallback,
	}
	if out.Documents == nil {
		out.Documents = []domain.DocumentMatch{}
	}

	out.Evidence = mergeEvidence(structured, docs, maxEvidence)

	if len(docs) > 0 {
		mean := meanRelevance(docs)
		out.CombinedConfidence = structuredWeight*structured.Confidence + documentWeight*mean
		if len(out.Evidence) > 0 {
			out.Tier = escalate(structured.Tier, mean)
		}
	}

	if structured.Tier.Rank() > domain.TierNoDirectMatch.Rank() {
		out.Sources = append(out.Sources, domain.SourceStructured)
	}
	if len(docs) > 0 {
		out.Sources = append(out.Sources, domain.SourceDocuments)
	}
	out.Sources = append(out.Sources, domain.SourceModelKnowledge)
	return out
}

func escalate(tier domain.CitationTier, mean float64) domain.CitationTier {
	switch {
	case tier == domain.TierNoDirectMatch && mean > escalateToGeneral:
		return domain.TierGeneralGuidance
	case tier == domain.TierGeneralGuidance && mean > escalateToRelated:
		return domain.TierRelatedTheme
	default:
		return tier
	}
}

func meanRelevance(docs []domain.DocumentMatch) float64 {
	if len(docs) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range docs {
		sum += d.Relevance
	}
	return sum / float64(len(docs))
}

// mergeEvidence lists structured evidence first, then document evidence in
// match order, sorts stably by relevance (or structured confidence when an
// item has no relevance) and truncates.
func mergeEvidence(structured domain.CitationMatch, docs []domain.DocumentMatch, limit int) []domain.RankedEvidence {
	seen := make(map[string]struct{})
	var merged []domain.RankedEvidence
	add := func(item domain.RankedEvidence) {
		key := strings.ToLower(item.Quote) + "\x00" + strings.ToLower(item.Reference)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, item)
	}

	for _, ev := range structured.Evidence {
		add(domain.RankedEvidence{Evidence: ev, Source: domain.SourceStructured})
	}
	for _, d := range docs {
		relevance := d.Relevance
		items := d.Chunk.Evidence
		if len(items) == 0 {
			items = []domain.Evidence{excerpt(d.Chunk)}
		}
		for _, ev := range items {
			add(domain.RankedEvidence{
				Evidence:  ev,
				Source:    domain.SourceDocuments,
				Relevance: &relevance,
				ChunkID:   d.Chunk.ID,
			})
		}
	}

	score := func(item domain.RankedEvidence) float64 {
		if item.Relevance != nil {
			return *item.Relevance
		}
		return structured.Confidence
	}
	sort.SliceStable(merged, func(i, j int) bool { return score(merged[i]) > score(merged[j]) })

	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []domain.RankedEvidence{}
	}
	return merged
}

// excerpt stands in for a chunk whose evidence block could not be parsed
// into quote/reference pairs.
func excerpt(chunk domain.DocumentChunk) domain.Evidence {
	text := []rune(strings.TrimSpace(chunk.EvidenceText))
	if len(text) > excerptRunes {
		text = text[:excerptRunes]
	}
	return domain.Evidence{
		Locator:   fmt.Sprintf("%s#%d", chunk.SourceFile, chunk.ChunkIndex),
		Quote:     string(text),
		Reference: chunk.Topic,
		Category:  domain.CategoryScholar,
		Role:      domain.RoleGeneral,
	}
}
