// Package embedding provides the failover embedding provider and its
// deterministic hashed fallback.
package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/kirillkom/evidence-engine/internal/core/similarity"
)

const (
	// Dimensions is the fixed length of hashed vectors.
	Dimensions = 1536
	// HashedModel identifies vectors produced by Hashed.
	HashedModel = "hashed-v1"

	conceptRegion   = 256
	anchorsPerGroup = 16
	anchorsPerTerm  = 8
	scatterRegion   = Dimensions - conceptRegion
	scatterStride   = 31
)

type conceptGroup struct {
	name  string
	terms []string
}

// conceptGroups place related vocabulary on shared anchor dimensions so the
// fallback keeps a rough notion of topic. Order fixes each group's anchor block.
var conceptGroups = []conceptGroup{
	{"identity", []string{"gay", "lesbian", "bisexual", "transgender", "queer", "orientation", "identity", "attraction", "attracted", "gender", "sexuality"}},
	{"family", []string{"family", "parent", "mother", "mom", "father", "dad", "brother", "sister", "sibling", "husband", "wife", "spouse", "marriage", "married", "divorce", "child", "children", "son", "daughter"}},
	{"mental_health_risk", []string{"suicide", "suicidal", "kill", "die", "dying", "death", "self-harm", "harm", "hopeless", "worthless", "depressed", "depression", "cutting", "overdose"}},
	{"anger", []string{"anger", "angry", "rage", "furious", "mad", "hate", "resent", "irritated", "temper", "annoyed"}},
	{"envy", []string{"envy", "envious", "jealous", "jealousy", "covet", "resent"}},
	{"pride", []string{"pride", "proud", "arrogance", "arrogant", "ego", "superior", "vanity", "boast", "showing"}},
	{"grief", []string{"grief", "grieve", "sad", "sadness", "loss", "mourning", "cry", "crying", "sorrow", "lost"}},
	{"anxiety", []string{"anxiety", "anxious", "worry", "worried", "fear", "afraid", "scared", "panic", "nervous", "stress"}},
	{"loneliness", []string{"lonely", "loneliness", "alone", "isolated", "isolation", "abandoned", "rejected"}},
	{"guilt", []string{"guilt", "guilty", "sin", "shame", "ashamed", "regret", "repent", "repentance", "forgive", "forgiveness"}},
	{"faith", []string{"faith", "pray", "prayer", "god", "allah", "worship", "doubt", "belief", "believe", "religion", "mosque", "quran"}},
	{"greed", []string{"greed", "greedy", "money", "wealth", "rich", "stingy", "miserly", "possessions", "worldly"}},
	{"desire", []string{"lust", "desire", "temptation", "tempted", "addiction", "addicted", "craving"}},
	{"patience", []string{"patience", "patient", "hardship", "trial", "struggle", "struggling", "endure", "tested"}},
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "i": {}, "im": {}, "in": {}, "is": {}, "it": {},
	"me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "so": {}, "the": {}, "to": {}, "was": {},
	"with": {},
}

type termRef struct {
	group int
	term  int
}

// Hashed is a pure, deterministic pseudo-embedding. It is lower quality than a
// real model and exists so search degrades instead of failing.
type Hashed struct {
	exact    map[string][]termRef
	prefixes []prefixTerm
}

type prefixTerm struct {
	prefix string
	ref    termRef
}

func NewHashed() *Hashed {
	h := &Hashed{exact: make(map[string][]termRef)}
	for g, group := range conceptGroups {
		for t, term := range group.terms {
			ref := termRef{group: g, term: t}
			h.exact[term] = append(h.exact[term], ref)
			if len(term) >= 4 {
				h.prefixes = append(h.prefixes, prefixTerm{prefix: term, ref: ref})
			}
		}
	}
	return h
}

// EmbedText satisfies ports.TextEmbedder.
func (h *Hashed) EmbedText(_ context.Context, text string) ([]float32, string, error) {
	return h.Vector(text), HashedModel, nil
}

// Vector maps text to a unit-length vector. Only the empty string yields the
// zero vector.
func (h *Hashed) Vector(text string) []float32 {
	vec := make([]float32, Dimensions)
	if text == "" {
		return vec
	}

	tokens := contentTokens(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for _, token := range tokens {
		refs := h.lookup(token)
		for rank, ref := range refs {
			weight := float32(1.0 / float64(rank+1))
			base := ref.group * anchorsPerGroup
			for k := 0; k < anchorsPerTerm; k++ {
				vec[base+(ref.term+k)%anchorsPerGroup] += weight
			}
		}

		scatterWeight := float32(1.0)
		if len(refs) > 0 {
			scatterWeight = 0.5
		}
		sum := hashToken(token)
		vec[conceptRegion+int(sum%scatterRegion)] += scatterWeight
		vec[conceptRegion+int((sum*scatterStride+7)%scatterRegion)] += scatterWeight / 2
	}

	return similarity.Normalize(vec)
}

// lookup returns concept matches for a token ordered by match rank: exact term
// matches first, then stem (prefix) matches. Each group counts once.
func (h *Hashed) lookup(token string) []termRef {
	var out []termRef
	seen := make(map[int]struct{})
	for _, ref := range h.exact[token] {
		if _, ok := seen[ref.group]; ok {
			continue
		}
		seen[ref.group] = struct{}{}
		out = append(out, ref)
	}
	for _, p := range h.prefixes {
		if _, ok := seen[p.ref.group]; ok {
			continue
		}
		if len(token) > len(p.prefix) && strings.HasPrefix(token, p.prefix) {
			seen[p.ref.group] = struct{}{}
			out = append(out, p.ref)
		}
	}
	return out
}

func contentTokens(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.Trim(token, "-")
		if token == "" {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		out = append(out, token)
	}
	if len(out) == 0 {
		for _, token := range raw {
			if token = strings.Trim(token, "-"); token != "" {
				out = append(out, token)
			}
		}
	}
	return out
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}
