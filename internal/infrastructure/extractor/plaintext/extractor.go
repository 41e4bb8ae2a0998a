package plaintext

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/ports"
)

// maxDocumentBytes bounds a single uploaded source.
const maxDocumentBytes = 32 << 20

type Extractor struct {
	storage ports.ObjectStorage
}

var _ ports.TextExtractor = (*Extractor)(nil)

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

// Extract returns the stored text with a leading byte order mark removed.
// Whitespace-only sources yield "".
func (e *Extractor) Extract(ctx context.Context, job *domain.IngestJob) (string, error) {
	reader, err := e.storage.Open(ctx, job.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxDocumentBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("%s exceeds %d bytes", job.Filename, maxDocumentBytes))
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("%s is not UTF-8 text", job.Filename))
	}

	text := strings.TrimPrefix(string(raw), "\ufeff")
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return text, nil
}
