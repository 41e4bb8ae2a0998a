package chunking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	pageArtifact   = regexp.MustCompile(`(?i)^\s*(?:page\s+)?[-–]?\s*\d{1,4}\s*[-–]?\s*$|^\s*\d{1,4}\s*/\s*\d{1,4}\s*$`)
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)
	glueBefore     = regexp.MustCompile(`([^\s(\[])\[`)
	glueAfter      = regexp.MustCompile(`\]([^\s.,;:!?)\]"”])`)
	bracketPadding = regexp.MustCompile(`\[\s+|\s+\]`)
	verseSpacing   = regexp.MustCompile(`(\d)\s+:\s*(\d)|(\d)\s*:\s+(\d)`)
	spaceRun       = regexp.MustCompile(`[ \t]+`)
)

// capitalSplit finds a capital split from the rest of its word at the start of
// a sentence. A, I and O stand alone as words and are never rejoined.
var capitalSplit = regexp.MustCompile(`(^|[.!?:;]["”’)]?\s+)([B-HJ-NP-Z]) ([a-z]{2,})`)

// prepareLines normalizes line endings and drops page-number artifacts. Line
// structure is kept because section and header detection are line based.
func prepareLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n\n")

	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if pageArtifact.MatchString(line) {
			continue
		}
		out = append(out, strings.TrimRightFunc(line, unicode.IsSpace))
	}
	return out
}

// cleanText collapses single line breaks inside paragraphs, keeps paragraph
// breaks, and repairs column-extraction damage.
func cleanText(text string) string {
	paragraphs := paragraphBreak.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = joinLines(strings.Split(p, "\n"))
		p = capitalSplit.ReplaceAllString(p, "$1$2$3")
		p = fixBrackets(p)
		p = strings.TrimSpace(spaceRun.ReplaceAllString(p, " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func cleanLines(lines []string) string {
	return cleanText(strings.Join(lines, "\n"))
}

func joinLines(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(line)
			continue
		}
		current := b.String()
		first, _ := utf8.DecodeRuneInString(line)
		if strings.HasSuffix(current, "-") && unicode.IsLower(first) {
			b.Reset()
			b.WriteString(strings.TrimSuffix(current, "-"))
			b.WriteString(line)
			continue
		}
		b.WriteByte(' ')
		b.WriteString(line)
	}
	return b.String()
}

func fixBrackets(s string) string {
	s = bracketPadding.ReplaceAllStringFunc(s, strings.TrimSpace)
	s = glueBefore.ReplaceAllString(s, "$1 [")
	s = glueAfter.ReplaceAllString(s, "] $1")
	s = verseSpacing.ReplaceAllString(s, "$1$3:$2$4")
	return s
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
