package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var connectiveWords = map[string]bool{
	"A": true, "AN": true, "AND": true, "AS": true, "AT": true, "BY": true,
	"FOR": true, "I": true, "IN": true, "IS": true, "IT": true, "MY": true,
	"OF": true, "ON": true, "OR": true, "THE": true, "TO": true,
	"BE": true, "DO": true, "GO": true, "HE": true, "IF": true, "ME": true,
	"NO": true, "SO": true, "UP": true, "US": true, "WE": true,
}

var lowerInTitle = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "by": true,
	"for": true, "in": true, "of": true, "on": true, "or": true, "the": true, "to": true,
}

// extractTopic returns the section topic and the number of leading lines it
// consumed. The headline after a structural marker counts as the first title
// line.
func extractTopic(s section, fallback string) (string, int) {
	var parts []string
	if s.headline != "" {
		parts = append(parts, s.headline)
	}

	i := 0
	if len(parts) == 0 {
		for i < len(s.lines) && strings.TrimSpace(s.lines[i]) == "" {
			i++
		}
	}
	for i < len(s.lines) && isTitleLine(s.lines[i]) {
		parts = append(parts, strings.TrimSpace(s.lines[i]))
		i++
	}
	if len(parts) == 0 {
		return fallback, 0
	}

	topic := strings.Join(mergeFragments(strings.Fields(strings.Join(parts, " "))), " ")
	topic = strings.Trim(topic, " .:-–")
	if isUpper(topic) {
		topic = titleCase(topic)
	}
	if topic == "" {
		return fallback, i
	}
	return truncateRunes(topic, 80), i
}

// mergeFragments glues word pieces split by layout extraction, such as
// "EN VY" or "ENV Y", back together.
func mergeFragments(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if isFragment(prev) || isFragment(w) {
				out[len(out)-1] = prev + w
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

func isFragment(word string) bool {
	letters := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
		letters++
	}
	return letters > 0 && letters <= 2 && !connectiveWords[strings.ToUpper(word)]
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if i > 0 && lowerInTitle[w] {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
