// Package chunker splits raw narration text into bounded-size chunks for
// the read-along pipeline.
//
// Two split modes are supported: paragraph mode splits on blank lines,
// line mode splits on single newlines. Units longer than the configured
// character ceiling are re-split on sentence boundaries and greedily
// packed back together. A single sentence that exceeds the ceiling is
// emitted whole rather than truncated, since silent truncation would
// corrupt narration.
package chunker

import (
	"regexp"
	"strings"
)

// Mode selects how raw text is divided into narration units.
type Mode string

const (
	// ModeParagraph splits on runs of two or more newlines.
	ModeParagraph Mode = "paragraph"

	// ModeLine splits on single newlines.
	ModeLine Mode = "line"
)

// Default chunking limits. These match the tool's settings defaults.
const (
	DefaultMaxChunks        = 30
	DefaultMaxCharsPerChunk = 1200
)

var (
	paragraphSep = regexp.MustCompile(`\n{2,}`)

	// A sentence runs up to terminal punctuation plus trailing whitespace.
	// Abbreviations like "Dr." trigger false boundaries; that behavior is
	// inherited from the original tool and kept as-is.
	sentencePattern = regexp.MustCompile(`[^.!?]*[.!?]+\s*`)
)

// Split divides text into trimmed, non-empty chunks in input order.
// Units longer than maxChars are subdivided on sentence boundaries.
// maxChars <= 0 disables the size ceiling.
func Split(text string, mode Mode, maxChars int) []string {
	var units []string
	if mode == ModeLine {
		units = strings.Split(text, "\n")
	} else {
		units = paragraphSep.Split(text, -1)
	}

	chunks := make([]string, 0, len(units))
	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if maxChars <= 0 || len(unit) <= maxChars {
			chunks = append(chunks, unit)
			continue
		}
		chunks = append(chunks, splitOversized(unit, maxChars)...)
	}
	return chunks
}

// splitOversized breaks a too-long unit into sentences and greedily packs
// consecutive sentences into chunks of at most maxChars. A lone sentence
// longer than maxChars is emitted whole.
func splitOversized(unit string, maxChars int) []string {
	sentences := sentencePattern.FindAllString(unit, -1)

	// Whatever follows the last terminal punctuation is a final sentence.
	consumed := 0
	for _, s := range sentences {
		consumed += len(s)
	}
	if tail := strings.TrimSpace(unit[consumed:]); tail != "" {
		sentences = append(sentences, tail)
	}

	var chunks []string
	var acc strings.Builder
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if acc.Len() == 0 {
			acc.WriteString(sentence)
			continue
		}
		// +1 accounts for the joining space.
		if acc.Len()+1+len(sentence) > maxChars {
			chunks = append(chunks, acc.String())
			acc.Reset()
			acc.WriteString(sentence)
			continue
		}
		acc.WriteByte(' ')
		acc.WriteString(sentence)
	}
	if acc.Len() > 0 {
		chunks = append(chunks, acc.String())
	}
	return chunks
}
