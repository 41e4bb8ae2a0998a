package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/core/evidence"
)

const (
	DefaultMinEvidenceChars = 100
	maxSymptomRunes         = 600
	evidenceRunesPerQuote   = 1500
	maxExpectedQuotes       = 3
)

var chunkNamespace = uuid.MustParse("8d1f6a52-3c47-5b0e-9a61-2f4e7c0b9d13")

type Config struct {
	MinEvidenceChars int
	Parser           *evidence.Parser
	Logger           *slog.Logger
}

// Builder turns extracted document text into condition-shaped chunks.
type Builder struct {
	minEvidence int
	parser      *evidence.Parser
	logger      *slog.Logger
}

func NewBuilder(cfg Config) *Builder {
	if cfg.MinEvidenceChars <= 0 {
		cfg.MinEvidenceChars = DefaultMinEvidenceChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Parser == nil {
		cfg.Parser = evidence.NewParser(evidence.Options{Logger: cfg.Logger})
	}
	return &Builder{
		minEvidence: cfg.MinEvidenceChars,
		parser:      cfg.Parser,
		logger:      cfg.Logger.With("component", "chunk_builder"),
	}
}

// Parse splits text into topic sections and builds one chunk per section that
// carries enough evidence text.
func (b *Builder) Parse(text, sourceFile string) ([]domain.DocumentChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "parse document", fmt.Errorf("source %q has no text", sourceFile))
	}

	sections := splitSections(prepareLines(text))
	drafts := make([]draft, 0, len(sections))
	for i, s := range sections {
		topic, consumed := extractTopic(s, fmt.Sprintf("Section %d", i+1))
		drafts = append(drafts, b.draftFrom(topic, s.lines[consumed:]))
	}
	return b.finish(drafts, sourceFile, len(sections)), nil
}

// ParseSections builds chunks from operator-supplied topic boundaries. An
// empty section topic falls back to heading extraction.
func (b *Builder) ParseSections(sections []domain.ManualSection, sourceFile string) ([]domain.DocumentChunk, error) {
	if len(sections) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "parse sections", fmt.Errorf("source %q has no sections", sourceFile))
	}

	drafts := make([]draft, 0, len(sections))
	for i, ms := range sections {
		lines := prepareLines(ms.Text)
		topic := strings.TrimSpace(ms.Topic)
		consumed := 0
		if topic == "" {
			topic, consumed = extractTopic(section{lines: lines}, fmt.Sprintf("Section %d", i+1))
		}
		drafts = append(drafts, b.draftFrom(topic, lines[consumed:]))
	}
	return b.finish(drafts, sourceFile, len(sections)), nil
}

type draft struct {
	topic        string
	symptoms     string
	evidenceText string
	evidence     []domain.Evidence
}

func (b *Builder) draftFrom(topic string, lines []string) draft {
	blocks := splitBlocks(lines)
	d := draft{topic: topic}

	var symptomParts []string
	for _, blk := range blocksOf(blocks, blockSymptom) {
		if text := cleanLines(blk.lines); text != "" {
			symptomParts = append(symptomParts, text)
		}
	}
	if len(symptomParts) == 0 {
		for _, blk := range blocksOf(blocks, blockIntro) {
			if text := cleanLines(blk.lines); text != "" {
				symptomParts = append(symptomParts, text)
			}
		}
	}
	d.symptoms = truncateRunes(strings.Join(symptomParts, " "), maxSymptomRunes)

	var raw, content []string
	for _, blk := range blocksOf(blocks, blockEvidence) {
		text := cleanLines(blk.lines)
		if text == "" {
			continue
		}
		content = append(content, text)
		raw = append(raw, blk.header+":\n"+text)
	}
	joined := strings.Join(content, "\n\n")
	if joined == "" {
		return d
	}

	parsed := b.parser.Parse(joined, topic)
	if len(parsed) < expectedQuotes(joined) {
		b.logger.Debug("evidence_raw_fallback", "topic", topic, "parsed", len(parsed), "text_len", utf8.RuneCountInString(joined))
		d.evidenceText = strings.Join(raw, "\n\n")
		return d
	}
	d.evidence = parsed
	d.evidenceText = evidence.Format(parsed)
	return d
}

// expectedQuotes is the minimum number of parsed pairs an evidence block of
// this size should yield before the structured result is trusted.
func expectedQuotes(text string) int {
	n := 1 + utf8.RuneCountInString(text)/evidenceRunesPerQuote
	if n > maxExpectedQuotes {
		n = maxExpectedQuotes
	}
	return n
}

func (b *Builder) finish(drafts []draft, sourceFile string, sections int) []domain.DocumentChunk {
	chunks := make([]domain.DocumentChunk, 0, len(drafts))
	dropped := 0
	for _, d := range drafts {
		if utf8.RuneCountInString(d.evidenceText) < b.minEvidence {
			dropped++
			continue
		}
		index := len(chunks)
		locator := fmt.Sprintf("%s#%d", sourceFile, index)
		for i := range d.evidence {
			d.evidence[i].Locator = locator
		}
		chunks = append(chunks, domain.DocumentChunk{
			ID:           ChunkID(sourceFile, index),
			Topic:        d.topic,
			SearchText:   searchText(d.topic, d.symptoms),
			EvidenceText: d.evidenceText,
			Evidence:     d.evidence,
			SourceFile:   sourceFile,
			ChunkIndex:   index,
		})
	}
	b.logger.Info("document_parsed", "source_file", sourceFile, "sections", sections, "chunks", len(chunks), "dropped", dropped)
	return chunks
}

// ChunkID is stable for a (source, index) pair so re-ingestion overwrites.
func ChunkID(sourceFile string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", sourceFile, index))).String()
}

// searchText is what gets embedded: the topic, its symptom description and a
// few first-person paraphrases that resemble how users describe the problem.
func searchText(topic, symptoms string) string {
	lower := strings.ToLower(topic)
	parts := []string{topic}
	if symptoms != "" {
		parts = append(parts, symptoms)
	}
	parts = append(parts,
		"I feel "+lower,
		"I am struggling with "+lower,
		"how to overcome "+lower,
		"how to deal with "+lower,
	)
	return strings.Join(parts, "\n")
}
