// Package evidence extracts quoted, referenced assertions from raw document text.
package evidence

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

const (
	minQuoteLen = 15
	maxQuoteLen = 500
)

// quotedReference is the universal pattern: a quoted span followed by a bracketed
// reference. The span may cross line breaks.
var quotedReference = regexp.MustCompile(
	fmt.Sprintf(`["“]([^"“”]{%d,%d})["”]\s*\[([^\[\]]{1,200})\]`, minQuoteLen, maxQuoteLen),
)

// introducedQuote matches "<speaker> said: "quote"" for text without bracketed references.
var introducedQuote = regexp.MustCompile(
	`(?i)((?:the\s+)?(?:prophet|messenger of allah|messenger|allah|quran|qur'an|imam\s+[\w'-]+|ibn\s+[\w'-]+|al-[\w'-]+|shaykh\s+[\w'-]+|sheikh\s+[\w'-]+))` +
		`(?:\s*\([^)]{0,40}\))?\s+(?:said|says|stated|wrote|narrated|mentioned)\s*:?\s*` +
		fmt.Sprintf(`["“]([^"“”]{%d,%d})["”]`, minQuoteLen, maxQuoteLen),
)

var (
	speakerScripture = tokenSet([]string{"allah", "quran", "qur'an"})
	speakerTradition = tokenSet([]string{"prophet", "messenger"})
)

type Options struct {
	ScriptureTokens []string
	TraditionTokens []string
	Logger          *slog.Logger
}

type Parser struct {
	classifier classifier
	logger     *slog.Logger
}

func NewParser(opts Options) *Parser {
	scripture := opts.ScriptureTokens
	if len(scripture) == 0 {
		scripture = DefaultScriptureTokens
	}
	tradition := opts.TraditionTokens
	if len(tradition) == 0 {
		tradition = DefaultTraditionTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		classifier: newClassifier(scripture, tradition),
		logger:     logger.With("component", "evidence_parser"),
	}
}

// Classify returns the category a reference string belongs to.
func (p *Parser) Classify(reference string) domain.EvidenceCategory {
	return p.classifier.classify(reference)
}

// Parse returns every quote/reference pair in text. label names the owning
// topic and is used for logging only. Parse never fails: on an internal error
// it returns what it collected so far.
func (p *Parser) Parse(text, label string) (out []domain.Evidence) {
	out = []domain.Evidence{}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("evidence_parse_failed", "label", label, "collected", len(out), "error", r)
		}
	}()

	seen := make(map[string]struct{})
	add := func(quote, reference string, category domain.EvidenceCategory) {
		key := strings.ToLower(quote) + "\x00" + strings.ToLower(reference)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, domain.Evidence{
			Quote:     quote,
			Reference: reference,
			Category:  category,
			Role:      domain.RoleGeneral,
		})
	}

	for _, m := range quotedReference.FindAllStringSubmatch(text, -1) {
		quote := normalizeSpace(m[1])
		reference := normalizeSpace(m[2])
		if quote == "" || reference == "" {
			continue
		}
		add(quote, reference, p.classifier.classify(reference))
	}
	if len(out) > 0 {
		return out
	}

	for _, m := range introducedQuote.FindAllStringSubmatch(text, -1) {
		speaker := normalizeSpace(m[1])
		quote := normalizeSpace(m[2])
		if quote == "" {
			continue
		}
		add(quote, speaker, p.classifySpeaker(speaker))
	}

	if len(out) == 0 {
		p.logger.Debug("no_evidence_found", "label", label, "text_len", len(text))
	}
	return out
}

func (p *Parser) classifySpeaker(speaker string) domain.EvidenceCategory {
	words := referenceWords(speaker)
	if containsAny(words, speakerScripture) {
		return domain.CategoryScripture
	}
	if containsAny(words, speakerTradition) {
		return domain.CategoryTradition
	}
	return p.classifier.classify(speaker)
}

// Format renders evidence in the same "quote" [reference] shape the parser reads.
func Format(items []domain.Evidence) string {
	var b strings.Builder
	for i, ev := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\"%s\" [%s]", ev.Quote, ev.Reference)
	}
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
