// Package locate maps a finding's target text to line numbers in the
// reviewed document. Matching is exact, case-sensitive substring
// matching against the raw file text: false negatives from text drift
// are preferred over a wrong line being silently suggested.
package locate

import (
	"strings"

	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// Locate scans fileText for all non-overlapping occurrences of target
// and returns the resolution outcome. Line numbers are 1-indexed; a
// target spanning multiple lines is anchored on the line containing
// the start of the match.
//
// Empty targets are rejected by the validator and never reach this
// function; the guard keeps the outcome well-defined regardless.
func Locate(fileText, target string) models.Outcome {
	if target == "" {
		return models.Invalid("empty target text")
	}

	var lines []int
	offset := 0
	for {
		i := strings.Index(fileText[offset:], target)
		if i < 0 {
			break
		}
		start := offset + i
		lines = append(lines, lineNumberAt(fileText, start))
		offset = start + len(target)
	}

	switch len(lines) {
	case 0:
		return models.NotFound()
	case 1:
		return models.Located(lines[0])
	default:
		return models.MultipleMatches(lines)
	}
}

// lineNumberAt returns the 1-indexed line containing the byte at
// offset: the number of line terminators before it, plus one.
func lineNumberAt(text string, offset int) int {
	return strings.Count(text[:offset], "\n") + 1
}
