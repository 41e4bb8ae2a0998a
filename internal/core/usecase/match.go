package usecase

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

const (
	DefaultMaxEvidence = 5

	perfectConfidence  = 0.9
	generalConfidence  = 0.4
	noMatchConfidence  = 0.1
	relatedThreshold   = 0.6
	triggerOverlapGain = 0.3
	generalEvidenceCap = 3
	minContentWordLen  = 4
)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "because": {}, "been": {}, "being": {},
	"could": {}, "does": {}, "from": {}, "have": {}, "into": {}, "just": {},
	"like": {}, "more": {}, "much": {}, "only": {}, "other": {}, "over": {},
	"really": {}, "should": {}, "some": {}, "than": {}, "that": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"very": {}, "what": {}, "when": {}, "which": {}, "will": {}, "with": {},
	"would": {}, "your": {},
}

// StructuredMatcher applies the four-tier trigger policy over an immutable
// set of conditions.
type StructuredMatcher struct {
	conditions  []domain.Condition
	maxEvidence int
}

// NewStructuredMatcher copies conditions; later changes to the caller's slice
// are not observed.
func NewStructuredMatcher(conditions []domain.Condition, maxEvidence int) *StructuredMatcher {
	if maxEvidence <= 0 {
		maxEvidence = DefaultMaxEvidence
	}
	owned := make([]domain.Condition, len(conditions))
	for i, c := range conditions {
		owned[i] = cloneCondition(c)
	}
	return &StructuredMatcher{conditions: owned, maxEvidence: maxEvidence}
}

func cloneCondition(c domain.Condition) domain.Condition {
	c.Triggers = append([]string(nil), c.Triggers...)
	c.Evidence = append([]domain.Evidence(nil), c.Evidence...)
	c.IntensityRules = append([]domain.IntensityRule(nil), c.IntensityRules...)
	return c
}

// Match evaluates perfect, related, general and none tiers in order. The
// first tier that produces evidence wins.
func (m *StructuredMatcher) Match(message string, signal domain.EmotionalSignal) domain.CitationMatch {
	lowerMessage := strings.ToLower(message)
	lowerPrimary := strings.ToLower(strings.TrimSpace(signal.Primary))

	if c, ok := m.perfect(lowerMessage, lowerPrimary); ok {
		return m.result(domain.TierPerfectMatch, c, c.Evidence, perfectConfidence)
	}

	messageWords := wordSet(lowerMessage)
	if c, score, ok := m.related(messageWords, signal); ok {
		evidence := c.EvidenceByRole(domain.RoleSymptom, domain.RoleTreatment)
		if len(evidence) == 0 {
			evidence = c.Evidence
		}
		return m.result(domain.TierRelatedTheme, c, evidence, min(score, 1))
	}

	if evidence := m.general(messageWords); len(evidence) > 0 {
		return m.result(domain.TierGeneralGuidance, nil, evidence, generalConfidence)
	}

	return domain.CitationMatch{
		SchemaVersion: domain.SchemaVersion,
		Tier:          domain.TierNoDirectMatch,
		Evidence:      []domain.Evidence{},
		Confidence:    noMatchConfidence,
	}
}

func (m *StructuredMatcher) result(tier domain.CitationTier, c *domain.Condition, evidence []domain.Evidence, confidence float64) domain.CitationMatch {
	if len(evidence) > m.maxEvidence {
		evidence = evidence[:m.maxEvidence]
	}
	out := domain.CitationMatch{
		SchemaVersion: domain.SchemaVersion,
		Tier:          tier,
		Evidence:      append([]domain.Evidence(nil), evidence...),
		Confidence:    confidence,
	}
	if c != nil {
		cond := cloneCondition(*c)
		out.Condition = &cond
	}
	return out
}

func (m *StructuredMatcher) perfect(message, primary string) (*domain.Condition, bool) {
	for i := range m.conditions {
		c := &m.conditions[i]
		if len(c.Evidence) == 0 {
			continue
		}
		for _, trigger := range c.Triggers {
			t := strings.ToLower(strings.TrimSpace(trigger))
			if t == "" {
				continue
			}
			if strings.Contains(message, t) || (primary != "" && strings.Contains(primary, t)) {
				return c, true
			}
		}
	}
	return nil, false
}

// related scores each condition by fractional trigger-word overlap plus
// intensity bonuses and returns the best one above the threshold. Ties keep
// taxonomy order.
func (m *StructuredMatcher) related(messageWords map[string]struct{}, signal domain.EmotionalSignal) (*domain.Condition, float64, bool) {
	var (
		best      *domain.Condition
		bestScore float64
	)
	for i := range m.conditions {
		c := &m.conditions[i]
		if len(c.Evidence) == 0 {
			continue
		}
		score := 0.0
		for _, trigger := range c.Triggers {
			score += wordOverlap(trigger, messageWords) * triggerOverlapGain
		}
		for _, rule := range c.IntensityRules {
			if rule.Applies(signal) {
				score += rule.Bonus
			}
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil || bestScore <= relatedThreshold {
		return nil, 0, false
	}
	return best, bestScore, true
}

// general collects curated quotes sharing a content word with the message,
// ranked by the number of shared words.
func (m *StructuredMatcher) general(messageWords map[string]struct{}) []domain.Evidence {
	content := make(map[string]struct{}, len(messageWords))
	for w := range messageWords {
		if isContentWord(w) {
			content[w] = struct{}{}
		}
	}
	if len(content) == 0 {
		return nil
	}

	type scored struct {
		evidence domain.Evidence
		shared   int
	}
	var hits []scored
	for _, c := range m.conditions {
		for _, ev := range c.Evidence {
			shared := 0
			for w := range wordSet(strings.ToLower(ev.Quote)) {
				if _, ok := content[w]; ok {
					shared++
				}
			}
			if shared > 0 {
				hits = append(hits, scored{evidence: ev, shared: shared})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].shared > hits[j].shared })

	limit := min(generalEvidenceCap, m.maxEvidence, len(hits))
	out := make([]domain.Evidence, 0, limit)
	for _, h := range hits[:limit] {
		out = append(out, h.evidence)
	}
	return out
}

// wordOverlap is the fraction of the trigger's words present in the message.
func wordOverlap(trigger string, messageWords map[string]struct{}) float64 {
	words := splitWords(strings.ToLower(trigger))
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if _, ok := messageWords[strings.Trim(w, "'")]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func isContentWord(w string) bool {
	if utf8.RuneCountInString(w) < minContentWordLen {
		return false
	}
	_, stop := stopwords[w]
	return !stop
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range splitWords(s) {
		out[strings.Trim(w, "'")] = struct{}{}
	}
	return out
}
