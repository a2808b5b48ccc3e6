// Package suggestion formats the comment bodies GitLab renders as
// one-click-appliable suggestions.
package suggestion

import (
	"fmt"

	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// offsetTag encodes a zero-line-offset replacement: the suggestion
// replaces exactly the anchored line. Multi-line suggestions would
// need varying offsets; current scope is single-line replacement only.
const offsetTag = "suggestion:-0+0"

// Body renders the discussion body for one finding. GitLab parses the
// fenced block, so the format is exact: context lines describing the
// problem and the current text, then a suggestion block containing
// exactly the corrected text.
func Body(f models.Finding) string {
	return fmt.Sprintf("**Problem:** %s\n\nCurrent text: `%s`\n\n```%s\n%s\n```",
		f.ProblemDescription, f.InitialText, offsetTag, f.CorrectedText)
}
