package domain

import "time"

type JobStatus string

const (
	StatusUploaded   JobStatus = "uploaded"
	StatusProcessing JobStatus = "processing"
	StatusReady      JobStatus = "ready"
	StatusFailed     JobStatus = "failed"
)

// IngestJob tracks an asynchronously ingested source document.
type IngestJob struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	StoragePath string    `json:"storage_path"`
	Status      JobStatus `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DocumentChunk is an indexed unit: SearchText is embedded, EvidenceText is only returned.
// EmbeddingModel and Embedded describe the model vector only; a fallback
// vector is kept beside it and does not count as embedded.
type DocumentChunk struct {
	ID             string     `json:"id"`
	Topic          string     `json:"topic"`
	SearchText     string     `json:"search_text"`
	EvidenceText   string     `json:"evidence_text"`
	Evidence       []Evidence `json:"evidence"`
	SourceFile     string     `json:"source_file"`
	ChunkIndex     int        `json:"chunk_index"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	Embedded       bool       `json:"embedded"`
}

func (c DocumentChunk) HasCategory(category EvidenceCategory) bool {
	for _, ev := range c.Evidence {
		if ev.Category == category {
			return true
		}
	}
	return false
}

func (c DocumentChunk) EvidenceCount() int {
	return len(c.Evidence)
}

// ManualSection is an operator-supplied topic boundary used instead of heuristic splitting.
type ManualSection struct {
	Topic string `json:"topic" yaml:"topic"`
	Text  string `json:"text" yaml:"text"`
}

// IngestResult counts chunks with any vector as Embedded; FallbackEmbedded of
// them only have a fallback vector and stay queued for ReembedMissing.
type IngestResult struct {
	SourceFile       string          `json:"source_file"`
	Chunks           []DocumentChunk `json:"chunks"`
	Embedded         int             `json:"embedded"`
	Unembedded       int             `json:"unembedded"`
	FallbackEmbedded int             `json:"fallback_embedded"`
}

// Embedding is a vector tagged with its model. Fallback marks the
// deterministic fallback space, which stores and searches apart from models.
type Embedding struct {
	Vector   []float32 `json:"vector"`
	Model    string    `json:"model"`
	Fallback bool      `json:"fallback"`
}

type SearchFilter struct {
	Topic      string           `json:"topic,omitempty"`
	SourceFile string           `json:"source_file,omitempty"`
	Category   EvidenceCategory `json:"category,omitempty"`
}

// Matches reports whether a chunk satisfies every non-empty filter field.
func (f SearchFilter) Matches(chunk DocumentChunk) bool {
	if f.Topic != "" && !equalFold(f.Topic, chunk.Topic) {
		return false
	}
	if f.SourceFile != "" && f.SourceFile != chunk.SourceFile {
		return false
	}
	if f.Category != "" && !chunk.HasCategory(f.Category) {
		return false
	}
	return true
}

type ScoredChunk struct {
	Chunk      DocumentChunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
}
