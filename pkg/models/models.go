package models

// Finding is one proposed textual correction produced by an upstream
// review pipeline. It is immutable once loaded; nothing mutates a
// Finding after validation.
type Finding struct {
	InitialText        string `json:"initial_text"`
	CorrectedText      string `json:"corrected_text"`
	ProblemDescription string `json:"problem_description"`
}

// OutcomeKind tags the result of resolving a finding against the file snapshot.
type OutcomeKind string

const (
	OutcomeLocated         OutcomeKind = "located"
	OutcomeNotFound        OutcomeKind = "not_found"
	OutcomeMultipleMatches OutcomeKind = "multiple_matches"
	OutcomeInvalid         OutcomeKind = "invalid"
)

// Outcome is the tagged resolution result for a single finding.
// Line is set only for Located, Lines (ascending) only for
// MultipleMatches, Reason only for Invalid.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Line   int         `json:"line,omitempty"`
	Lines  []int       `json:"lines,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Located builds a Located outcome for a 1-indexed line number.
func Located(line int) Outcome {
	return Outcome{Kind: OutcomeLocated, Line: line}
}

// NotFound builds a NotFound outcome.
func NotFound() Outcome {
	return Outcome{Kind: OutcomeNotFound}
}

// MultipleMatches builds a MultipleMatches outcome carrying every
// matched line number in ascending order.
func MultipleMatches(lines []int) Outcome {
	return Outcome{Kind: OutcomeMultipleMatches, Lines: lines}
}

// Invalid builds an Invalid outcome with a human-readable reason.
func Invalid(reason string) Outcome {
	return Outcome{Kind: OutcomeInvalid, Reason: reason}
}

// LocatedFinding is a Finding annotated with its resolution outcome.
// The outcome is computed exactly once per run against a single
// immutable file snapshot.
type LocatedFinding struct {
	Finding Finding `json:"finding"`
	Outcome Outcome `json:"outcome"`
}

// PositionAnchor carries the wire-ready positioning data for one
// discussion. The anchored file is the unmodified tip of the default
// branch, so old and new coordinates are always equal, and the three
// SHAs are shared by every anchor of a run.
type PositionAnchor struct {
	BaseSHA  string `json:"base_sha"`
	HeadSHA  string `json:"head_sha"`
	StartSHA string `json:"start_sha"`
	OldPath  string `json:"old_path"`
	NewPath  string `json:"new_path"`
	OldLine  int    `json:"old_line"`
	NewLine  int    `json:"new_line"`
}

// RunSummary is the aggregate result of one review run. It is created
// once at the end of the run and never mutated afterwards.
//
// Created + SkippedNotFound + SkippedMultiple + SkippedInvalid +
// FailedSubmissions == Total for every completed run; FailedSubmissions
// is zero unless a discussion submission exhausted its retries.
type RunSummary struct {
	Total             int      `json:"total"`
	Created           int      `json:"created"`
	SkippedNotFound   int      `json:"skipped_not_found"`
	SkippedMultiple   int      `json:"skipped_multiple"`
	SkippedInvalid    int      `json:"skipped_invalid"`
	FailedSubmissions int      `json:"failed_submissions"`
	MRReference       string   `json:"mr_reference"`
	DiscussionIDs     []string `json:"discussion_ids"`
}
