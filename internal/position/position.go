// Package position converts resolved line numbers into the positional
// anchors the GitLab discussions API expects.
package position

import (
	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// Context holds the per-run anchoring inputs: the three commit SHAs of
// the merge request version and the path of the reviewed file. It is
// obtained once per run and shared by all anchors of that run.
type Context struct {
	BaseSHA  string
	HeadSHA  string
	StartSHA string
	Path     string
}

// Build derives the anchor for one located finding. The merge request
// is opened branch-to-itself, so the anchored file is unchanged between
// base and head: old and new path and line are always equal.
func Build(ctx Context, line int) models.PositionAnchor {
	return models.PositionAnchor{
		BaseSHA:  ctx.BaseSHA,
		HeadSHA:  ctx.HeadSHA,
		StartSHA: ctx.StartSHA,
		OldPath:  ctx.Path,
		NewPath:  ctx.Path,
		OldLine:  line,
		NewLine:  line,
	}
}
