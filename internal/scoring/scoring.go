// Package scoring assigns the integer quality weight stored with every page.
package scoring

import (
	"strings"
	"unicode/utf8"
)

// Weight bounds.
const (
	MaxWeight = 3
	MinWeight = -1
)

const (
	summarySentences = 2
	summaryMinWords  = 4
	summaryMaxRunes  = 300
)

// Signals are the extracted facts a weight is computed from.
type Signals struct {
	HasTitle       bool
	HasDescription bool
	Body           string
	Boilerplate    string
}

// Weigh returns 3 for pages with title and description, 2 without a
// description, 1 without a title and 0 without either. One point is taken
// off when the body has fewer spaces than the boilerplate or yields no
// summary. No floor is applied so the result ranges over [-1, 3].
func Weigh(s Signals) int {
	weight := MaxWeight
	switch {
	case !s.HasTitle && !s.HasDescription:
		weight = 0
	case !s.HasTitle:
		weight = 1
	case !s.HasDescription:
		weight = 2
	}
	if LowQuality(s.Body, s.Boilerplate) {
		weight--
	}
	return weight
}

// LowQuality reports whether body looks like a poor content extraction.
func LowQuality(body, boilerplate string) bool {
	return strings.Count(body, " ") < strings.Count(boilerplate, " ") || Summarize(body) == ""
}

// Summarize returns up to two leading sentences of body that carry at least
// four words each, capped at 300 runes. It returns "" when none qualify.
func Summarize(body string) string {
	var picked []string
	for _, sentence := range sentences(body) {
		if len(strings.Fields(sentence)) < summaryMinWords {
			continue
		}
		picked = append(picked, sentence)
		if len(picked) == summarySentences {
			break
		}
	}
	summary := strings.Join(picked, " ")
	if utf8.RuneCountInString(summary) > summaryMaxRunes {
		summary = strings.TrimSpace(string([]rune(summary)[:summaryMaxRunes]))
	}
	return summary
}

// sentences splits text on terminal punctuation followed by whitespace
// and on line breaks.
func sentences(text string) []string {
	var out []string
	var cur strings.Builder
	emit := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			emit()
			continue
		}
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				emit()
			}
		}
	}
	emit()
	return out
}
