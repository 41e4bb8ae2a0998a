package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// ChunkRepository persists chunk records with their evidence and vectors: one
// model vector and one fallback vector per chunk. Vectors are JSONB arrays so
// no extension is needed.
type ChunkRepository struct {
	db *sql.DB
}

var _ ports.ChunkStore = (*ChunkRepository)(nil)

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

const chunkSchema = `
CREATE TABLE IF NOT EXISTS evidence_chunks (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	search_text TEXT NOT NULL,
	evidence_text TEXT NOT NULL,
	evidence JSONB NOT NULL DEFAULT '[]'::jsonb,
	evidence_count INTEGER NOT NULL DEFAULT 0,
	has_scripture BOOLEAN NOT NULL DEFAULT FALSE,
	has_tradition BOOLEAN NOT NULL DEFAULT FALSE,
	has_scholar BOOLEAN NOT NULL DEFAULT FALSE,
	source_file TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	embedding JSONB,
	embedding_model TEXT,
	fallback_embedding JSONB,
	fallback_model TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

ALTER TABLE evidence_chunks ADD COLUMN IF NOT EXISTS fallback_embedding JSONB;
ALTER TABLE evidence_chunks ADD COLUMN IF NOT EXISTS fallback_model TEXT;

CREATE INDEX IF NOT EXISTS idx_evidence_chunks_source ON evidence_chunks(source_file);
CREATE INDEX IF NOT EXISTS idx_evidence_chunks_model ON evidence_chunks(embedding_model);
CREATE INDEX IF NOT EXISTS idx_evidence_chunks_topic ON evidence_chunks(lower(topic));
`

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, r.db, chunkSchema)
}

const chunkColumns = `id, topic, search_text, evidence_text, evidence, source_file, chunk_index, embedding_model`

// Upsert writes the chunk content. A rewritten chunk loses its previous
// vectors and must be embedded again.
func (r *ChunkRepository) Upsert(ctx context.Context, chunk domain.DocumentChunk) error {
	evidenceJSON, err := json.Marshal(nonNilEvidence(chunk.Evidence))
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO evidence_chunks (
	id, topic, search_text, evidence_text, evidence, evidence_count,
	has_scripture, has_tradition, has_scholar, source_file, chunk_index, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
ON CONFLICT (id) DO UPDATE SET
	topic = EXCLUDED.topic,
	search_text = EXCLUDED.search_text,
	evidence_text = EXCLUDED.evidence_text,
	evidence = EXCLUDED.evidence,
	evidence_count = EXCLUDED.evidence_count,
	has_scripture = EXCLUDED.has_scripture,
	has_tradition = EXCLUDED.has_tradition,
	has_scholar = EXCLUDED.has_scholar,
	source_file = EXCLUDED.source_file,
	chunk_index = EXCLUDED.chunk_index,
	embedding = NULL,
	embedding_model = NULL,
	fallback_embedding = NULL,
	fallback_model = NULL,
	updated_at = EXCLUDED.updated_at
`,
		chunk.ID, chunk.Topic, chunk.SearchText, chunk.EvidenceText, evidenceJSON, chunk.EvidenceCount(),
		chunk.HasCategory(domain.CategoryScripture), chunk.HasCategory(domain.CategoryTradition),
		chunk.HasCategory(domain.CategoryScholar), chunk.SourceFile, chunk.ChunkIndex, now,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	return nil
}

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.DocumentChunk, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM evidence_chunks WHERE id = $1`, id)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get chunk", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return &chunk, nil
}

// PruneSource deletes the chunks of sourceFile that are not listed in keep.
func (r *ChunkRepository) PruneSource(ctx context.Context, sourceFile string, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	keepJSON, err := json.Marshal(keep)
	if err != nil {
		return fmt.Errorf("marshal kept chunk ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
DELETE FROM evidence_chunks
WHERE source_file = $1
AND id NOT IN (SELECT jsonb_array_elements_text($2::jsonb))
`, sourceFile, keepJSON)
	if err != nil {
		return fmt.Errorf("prune chunks by source: %w", err)
	}
	return nil
}

// SetEmbedding stores emb in the fallback slot when emb.Fallback is set and
// in the model slot otherwise.
func (r *ChunkRepository) SetEmbedding(ctx context.Context, id string, emb domain.Embedding) error {
	vectorJSON, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	query := `
UPDATE evidence_chunks
SET embedding = $2, embedding_model = $3, updated_at = $4
WHERE id = $1
`
	if emb.Fallback {
		query = `
UPDATE evidence_chunks
SET fallback_embedding = $2, fallback_model = $3, updated_at = $4
WHERE id = $1
`
	}
	res, err := r.db.ExecContext(ctx, query, id, vectorJSON, emb.Model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set chunk embedding: %w", err)
	}
	ok, err := checkAffected(res, "set chunk embedding")
	if err != nil {
		return err
	}
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "set chunk embedding", fmt.Errorf("id=%s", id))
	}
	return nil
}

// ListEmbedded returns chunks with a vector from model in either slot,
// narrowed by filter in SQL.
func (r *ChunkRepository) ListEmbedded(ctx context.Context, model string, filter domain.SearchFilter) ([]ports.EmbeddedChunk, error) {
	query, args := embeddedQuery(model, filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list embedded chunks: %w", err)
	}
	defer rows.Close()

	out := make([]ports.EmbeddedChunk, 0)
	for rows.Next() {
		var (
			chunk      domain.DocumentChunk
			evidence   []byte
			chunkModel sql.NullString
			vectorRaw  []byte
		)
		if err := rows.Scan(
			&chunk.ID, &chunk.Topic, &chunk.SearchText, &chunk.EvidenceText, &evidence,
			&chunk.SourceFile, &chunk.ChunkIndex, &chunkModel, &vectorRaw,
		); err != nil {
			return nil, fmt.Errorf("scan embedded chunk: %w", err)
		}
		if err := finishChunk(&chunk, evidence, chunkModel); err != nil {
			return nil, err
		}
		var vector []float32
		if err := json.Unmarshal(vectorRaw, &vector); err != nil {
			return nil, fmt.Errorf("unmarshal embedding for %s: %w", chunk.ID, err)
		}
		out = append(out, ports.EmbeddedChunk{Chunk: chunk, Vector: vector})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedded chunks: %w", err)
	}
	return out, nil
}

func (r *ChunkRepository) ListUnembedded(ctx context.Context, limit int) ([]domain.DocumentChunk, error) {
	if limit <= 0 {
		return []domain.DocumentChunk{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+chunkColumns+`
FROM evidence_chunks
WHERE embedding IS NULL
ORDER BY source_file, chunk_index
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unembedded chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentChunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unembedded chunks: %w", err)
	}
	return out, nil
}

func embeddedQuery(model string, filter domain.SearchFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + chunkColumns + `,
	CASE WHEN embedding_model = $1 THEN embedding ELSE fallback_embedding END
FROM evidence_chunks
WHERE ((embedding IS NOT NULL AND embedding_model = $1)
	OR (fallback_embedding IS NOT NULL AND fallback_model = $1))`)
	args := []any{model}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Topic != "" {
		b.WriteString(" AND lower(topic) = lower(" + next(strings.TrimSpace(filter.Topic)) + ")")
	}
	if filter.SourceFile != "" {
		b.WriteString(" AND source_file = " + next(filter.SourceFile))
	}
	switch filter.Category {
	case domain.CategoryScripture:
		b.WriteString(" AND has_scripture")
	case domain.CategoryTradition:
		b.WriteString(" AND has_tradition")
	case domain.CategoryScholar:
		b.WriteString(" AND has_scholar")
	}
	b.WriteString("\nORDER BY source_file, chunk_index")
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (domain.DocumentChunk, error) {
	var (
		chunk    domain.DocumentChunk
		evidence []byte
		model    sql.NullString
	)
	if err := row.Scan(
		&chunk.ID, &chunk.Topic, &chunk.SearchText, &chunk.EvidenceText, &evidence,
		&chunk.SourceFile, &chunk.ChunkIndex, &model,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chunk, err
		}
		return chunk, fmt.Errorf("scan chunk: %w", err)
	}
	if err := finishChunk(&chunk, evidence, model); err != nil {
		return chunk, err
	}
	return chunk, nil
}

func finishChunk(chunk *domain.DocumentChunk, evidence []byte, model sql.NullString) error {
	chunk.Evidence = []domain.Evidence{}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &chunk.Evidence); err != nil {
			return fmt.Errorf("unmarshal evidence for %s: %w", chunk.ID, err)
		}
	}
	chunk.EmbeddingModel = model.String
	chunk.Embedded = model.Valid && model.String != ""
	return nil
}

func nonNilEvidence(items []domain.Evidence) []domain.Evidence {
	if items == nil {
		return []domain.Evidence{}
	}
	return items
}
