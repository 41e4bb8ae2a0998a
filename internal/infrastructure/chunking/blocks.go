package chunking

import (
	"regexp"
	"strings"
)

type blockKind int

const (
	blockIntro blockKind = iota
	blockEvidence
	blockSymptom
	blockTreatment
)

var headerLine = regexp.MustCompile(`(?i)^\s*(?:\d+[.)]\s*)?(` +
	`evidences?\s+from\s+(?:the\s+)?(?:holy\s+)?(?:qur'?an|quran|scriptures?|hadiths?|sunnah|traditions?|scholars?)` +
	`|(?:qur'?anic|quranic|scriptural|prophetic|hadith|scholarly)\s+(?:evidences?|proofs?|views|opinions|statements|quotes)` +
	`|statements\s+of\s+(?:the\s+)?scholars` +
	`|evidences?|proofs?` +
	`|symptoms?|signs?|description|definition|causes?` +
	`|treatments?|cures?|remed(?:y|ies))` +
	`(?:\s+(?:of|for)\s+[\p{L}' -]{1,40})?\s*(?:[:\-–]\s*(.*))?$`)

type block struct {
	kind   blockKind
	header string
	lines  []string
}

func headerKind(name string) blockKind {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "symptom"), strings.HasPrefix(name, "sign"),
		strings.HasPrefix(name, "description"), strings.HasPrefix(name, "definition"),
		strings.HasPrefix(name, "cause"):
		return blockSymptom
	case strings.HasPrefix(name, "treatment"), strings.HasPrefix(name, "cure"), strings.HasPrefix(name, "remed"):
		return blockTreatment
	default:
		return blockEvidence
	}
}

// splitBlocks groups section lines under the header that precedes them. Lines
// before the first header form an intro block.
func splitBlocks(lines []string) []block {
	current := block{kind: blockIntro}
	var out []block
	for _, line := range lines {
		m := headerLine.FindStringSubmatch(line)
		if m == nil {
			current.lines = append(current.lines, line)
			continue
		}
		if current.kind != blockIntro || len(current.lines) > 0 {
			out = append(out, current)
		}
		header := strings.TrimSpace(line)
		if m[2] != "" {
			header = strings.TrimSpace(strings.TrimSuffix(header, m[2]))
		}
		header = strings.TrimRight(header, ":-– ")
		current = block{kind: headerKind(m[1]), header: header}
		if inline := strings.TrimSpace(m[2]); inline != "" {
			current.lines = append(current.lines, inline)
		}
	}
	if current.kind != blockIntro || len(current.lines) > 0 {
		out = append(out, current)
	}
	return out
}

func blocksOf(blocks []block, kinds ...blockKind) []block {
	var out []block
	for _, b := range blocks {
		for _, k := range kinds {
			if b.kind == k {
				out = append(out, b)
				break
			}
		}
	}
	return out
}
