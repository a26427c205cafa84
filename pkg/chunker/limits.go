package chunker

import (
	"fmt"
	"strings"
)

// Result is the outcome of a limit check. When Valid is false, Message
// holds a human-readable summary of every violation. The chunk set is
// never mutated; the caller decides whether to proceed anyway.
type Result struct {
	Valid   bool
	Message string
}

// CheckLimits validates a chunk set against the configured maximum chunk
// count and maximum chunk size. Limits <= 0 are not enforced.
func CheckLimits(chunks []string, maxChunks, maxChars int) Result {
	var problems []string

	if maxChunks > 0 && len(chunks) > maxChunks {
		problems = append(problems, fmt.Sprintf(
			"Text has %d chunks, but max is %d. Shorten the text or raise the chunk limit.",
			len(chunks), maxChunks))
	}

	if maxChars > 0 {
		var oversized []string
		for i, c := range chunks {
			if len(c) > maxChars {
				oversized = append(oversized, fmt.Sprintf("chunk %d is %d chars", i+1, len(c)))
			}
		}
		if len(oversized) > 0 {
			problems = append(problems, fmt.Sprintf(
				"%d chunk(s) exceed the %d character limit: %s.",
				len(oversized), maxChars, strings.Join(oversized, ", ")))
		}
	}

	if len(problems) > 0 {
		return Result{Valid: false, Message: strings.Join(problems, " ")}
	}
	return Result{Valid: true}
}
