// Package transcript turns revised recognizer output into translatable units.
package transcript

import (
	"regexp"
	"strings"
)

// sentencePattern matches a run of non-boundary text followed by one or more
// boundary characters. The Arabic question mark and newlines count as boundaries.
var sentencePattern = regexp.MustCompile(`[^.!?؟\n]*[.!?؟\n]+`)

// Unit is a piece of source text ready for translation.
type Unit struct {
	Text           string
	SourceLanguage string
	// IsFinalSentence is true when the unit ended on sentence punctuation and
	// false when it was cut loose by the flush timer or a topic change.
	IsFinalSentence bool
}

// Segment splits text into complete sentences and the trailing remainder that
// has no terminating boundary yet. Boundary characters stay attached to the
// sentence they close. Blank sentences are dropped.
func Segment(text string) ([]string, string) {
	if text == "" {
		return nil, ""
	}

	var sentences []string
	end := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		end = loc[1]
		if s := strings.TrimSpace(text[loc[0]:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences, strings.TrimSpace(text[end:])
}
