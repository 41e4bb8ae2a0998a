package domain

// SchemaVersion tags every match result; bump it when a result shape changes.
const SchemaVersion = "v1"

type CitationTier string

const (
	TierPerfectMatch    CitationTier = "perfect_match"
	TierRelatedTheme    CitationTier = "related_theme"
	TierGeneralGuidance CitationTier = "general_guidance"
	TierNoDirectMatch   CitationTier = "no_direct_match"
)

// Rank orders tiers by specificity: no_direct_match is 0, perfect_match is 3.
func (t CitationTier) Rank() int {
	switch t {
	case TierPerfectMatch:
		return 3
	case TierRelatedTheme:
		return 2
	case TierGeneralGuidance:
		return 1
	default:
		return 0
	}
}

func (t CitationTier) AtLeast(other CitationTier) bool {
	return t.Rank() >= other.Rank()
}

type SourceClass string

const (
	SourceStructured     SourceClass = "structured"
	SourceDocuments      SourceClass = "documents"
	SourceModelKnowledge SourceClass = "model_knowledge"
)

type CitationMatch struct {
	SchemaVersion string       `json:"schema_version"`
	Tier          CitationTier `json:"tier"`
	Condition     *Condition   `json:"condition,omitempty"`
	Evidence      []Evidence   `json:"evidence"`
	Confidence    float64      `json:"confidence"`
}

type DocumentMatch struct {
	Chunk      DocumentChunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
	ModelScore *float64      `json:"model_score,omitempty"`
	Relevance  float64       `json:"relevance"`
	Reranked   bool          `json:"reranked"`
}

// RankedEvidence is evidence merged from several sources. Relevance is set only
// for evidence that came from a scored document match.
type RankedEvidence struct {
	Evidence
	Source    SourceClass `json:"source"`
	Relevance *float64    `json:"relevance,omitempty"`
	ChunkID   string      `json:"chunk_id,omitempty"`
}

type HybridCitationMatch struct {
	SchemaVersion        string           `json:"schema_version"`
	Tier                 CitationTier     `json:"tier"`
	StructuredTier       CitationTier     `json:"structured_tier"`
	Condition            *Condition       `json:"condition,omitempty"`
	Evidence             []RankedEvidence `json:"evidence"`
	StructuredConfidence float64          `json:"structured_confidence"`
	CombinedConfidence   float64          `json:"combined_confidence"`
	Sources              []SourceClass    `json:"sources"`
	Documents            []DocumentMatch  `json:"documents"`
	EmbeddingFallback    bool             `json:"embedding_fallback"`
}
