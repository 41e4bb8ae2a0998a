package evidence

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/evidence-engine/internal/core/domain"
)

var verseLocator = regexp.MustCompile(`\d+\s*:\s*\d+`)

// DefaultScriptureTokens are reference words that mark a scripture citation.
var DefaultScriptureTokens = []string{
	"quran", "qur'an", "qur’an", "koran", "surah", "surat", "sura", "ayah", "ayat",
	"al-baqarah", "al-imran", "aal-imran", "an-nisa", "al-maidah", "al-an'am", "al-a'raf",
	"ar-ra'd", "al-isra", "al-kahf", "al-hajj", "al-mu'minun", "an-nur", "al-furqan",
	"az-zumar", "ash-shura", "al-hujurat", "al-hadid", "al-hashr", "at-talaq", "al-mulk",
	"al-qalam", "al-a'la", "ash-sharh", "al-asr", "al-ikhlas", "al-falaq", "an-nas",
}

// DefaultTraditionTokens are names of tradition (hadith) collections.
var DefaultTraditionTokens = []string{
	"bukhari", "muslim", "tirmidhi", "dawud", "dawood", "nasai", "nasa'i", "majah",
	"musnad", "ahmad", "muwatta", "sunan", "sahih", "hadith", "bayhaqi", "tabarani",
	"darimi", "hakim", "riyad", "riyadh",
}

type classifier struct {
	scripture map[string]struct{}
	tradition map[string]struct{}
}

func newClassifier(scripture, tradition []string) classifier {
	return classifier{
		scripture: tokenSet(scripture),
		tradition: tokenSet(tradition),
	}
}

// classify decides the category from the reference text alone. Anything that
// is neither scripture nor tradition is attributed to a scholar.
func (c classifier) classify(reference string) domain.EvidenceCategory {
	words := referenceWords(reference)
	if verseLocator.MatchString(reference) || containsAny(words, c.scripture) {
		return domain.CategoryScripture
	}
	if containsAny(words, c.tradition) {
		return domain.CategoryTradition
	}
	return domain.CategoryScholar
}

func tokenSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token != "" {
			out[token] = struct{}{}
		}
	}
	return out
}

func containsAny(words []string, set map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
		// "at-tirmidhi" should match "tirmidhi".
		if i := strings.LastIndexByte(w, '-'); i >= 0 {
			if _, ok := set[w[i+1:]]; ok {
				return true
			}
		}
	}
	return false
}

// referenceWords lowercases and splits a reference keeping apostrophes and
// hyphens, so transliterated names like "al-baqarah" stay whole.
func referenceWords(reference string) []string {
	return strings.FieldsFunc(strings.ToLower(reference), func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
		return r != '\'' && r != '’' && r != '-'
	})
}
