package chunking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	sectionMarker = regexp.MustCompile(`(?i)^\s*(?:chapter|section|part)\s+(?:\d{1,3}|[ivxlcdm]{1,7})\b\s*[.:\-–]?\s*(.*)$`)
	symptomCue    = regexp.MustCompile(`(?i)^\s*(?:\d+[.)]\s*)?(?:symptoms?|signs?|description|definition)\b`)
)

type section struct {
	// headline is the text after the structural marker on the marker line.
	headline string
	lines    []string
	marked   bool
}

// splitSections cuts the document at chapter/section/part markers, then
// recovers topic sections the markers missed: an all-caps title line followed
// by a symptom or description cue opens a new section.
func splitSections(lines []string) []section {
	var (
		out     []section
		current *section
		preface []string
	)
	for _, line := range lines {
		if m := sectionMarker.FindStringSubmatch(line); m != nil && utf8.RuneCountInString(strings.TrimSpace(line)) <= 100 {
			if current != nil {
				out = append(out, *current)
			}
			current = &section{headline: strings.TrimSpace(m[1]), marked: true}
			continue
		}
		if current == nil {
			preface = append(preface, line)
			continue
		}
		current.lines = append(current.lines, line)
	}
	if current != nil {
		out = append(out, *current)
	}
	if len(out) == 0 {
		return recoverSections(section{lines: preface})
	}

	// Text before the first marker still gets the title/cue pass so that a
	// front-matter topic is not lost.
	var recovered []section
	if len(preface) > 0 {
		for _, s := range recoverSections(section{lines: preface}) {
			if len(titleBoundaries(s.lines)) > 0 {
				recovered = append(recovered, s)
			}
		}
	}
	for _, s := range out {
		recovered = append(recovered, recoverSections(s)...)
	}
	return recovered
}

func recoverSections(s section) []section {
	bounds := titleBoundaries(s.lines)
	if len(bounds) == 0 {
		return []section{s}
	}

	var out []section
	if s.marked {
		// The marker section keeps everything up to its second title.
		first := section{headline: s.headline, marked: true}
		end := len(s.lines)
		if len(bounds) > 1 {
			end = bounds[1]
		}
		first.lines = s.lines[:end]
		out = append(out, first)
		bounds = bounds[1:]
	}
	for i, start := range bounds {
		end := len(s.lines)
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		out = append(out, section{lines: s.lines[start:end]})
	}
	return out
}

// titleBoundaries returns the indexes of title lines that are followed, within
// a few lines, by a symptom or description cue.
func titleBoundaries(lines []string) []int {
	var out []int
	for i := 0; i < len(lines); i++ {
		if !isTitleLine(lines[i]) {
			continue
		}
		j := i + 1
		for j < len(lines) && j <= i+3 && (strings.TrimSpace(lines[j]) == "" || isTitleLine(lines[j])) {
			j++
		}
		if j < len(lines) && symptomCue.MatchString(lines[j]) {
			out = append(out, i)
			i = j
		}
	}
	return out
}

// isTitleLine reports whether a line looks like an all-caps topic heading.
func isTitleLine(line string) bool {
	t := strings.TrimSpace(line)
	n := utf8.RuneCountInString(t)
	if n < 2 || n > 60 {
		return false
	}
	if headerLine.MatchString(t) || sectionMarker.MatchString(t) || strings.ContainsAny(t, "\"“”[]") {
		return false
	}
	letters := 0
	for _, r := range t {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 2 && len(strings.Fields(t)) <= 6
}
