package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmazure/GitLabDocumentReview/internal/findings"
	"github.com/lmazure/GitLabDocumentReview/internal/gitlab"
	"github.com/lmazure/GitLabDocumentReview/internal/retry"
	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// fakeRemote records every call so tests can assert on mutation counts
// and submission order.
type fakeRemote struct {
	fileText string

	projectErr    error
	mrErr         error
	discussionErr func(call int) error

	mrCalls         int
	versionCalls    int
	discussionCalls int
	bodies          []string
	anchors         []models.PositionAnchor
}

func (f *fakeRemote) GetProject(ctx context.Context, projectURL string) (*gitlab.Project, error) {
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	return &gitlab.Project{ID: 42, PathWithNamespace: "group/docs", DefaultBranch: "main"}, nil
}

func (f *fakeRemote) GetFileContent(ctx context.Context, projectID int, path, ref string) (string, error) {
	return f.fileText, nil
}

func (f *fakeRemote) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (*gitlab.MergeRequest, error) {
	f.mrCalls++
	if f.mrErr != nil {
		return nil, f.mrErr
	}
	return &gitlab.MergeRequest{IID: 7, WebURL: "https://gitlab.example.com/group/docs/-/merge_requests/7"}, nil
}

func (f *fakeRemote) GetLatestMRVersion(ctx context.Context, projectID, mrIID int) (*gitlab.MRVersion, error) {
	f.versionCalls++
	return &gitlab.MRVersion{BaseCommitSHA: "b1", HeadCommitSHA: "h1", StartCommitSHA: "s1"}, nil
}

func (f *fakeRemote) CreateDiscussion(ctx context.Context, projectID, mrIID int, body string, anchor models.PositionAnchor) (string, error) {
	f.discussionCalls++
	if f.discussionErr != nil {
		if err := f.discussionErr(f.discussionCalls); err != nil {
			return "", err
		}
	}
	f.bodies = append(f.bodies, body)
	f.anchors = append(f.anchors, anchor)
	return fmt.Sprintf("disc-%d", f.discussionCalls), nil
}

func writeFindings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "findings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestOrchestrator(remote Remote, opts Options) *Orchestrator {
	retrier := retry.New(retry.Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}, nil).WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return New(remote, nil, retrier, opts)
}

func TestRun_HappyPathWithMultipleMatchSkip(t *testing.T) {
	remote := &fakeRemote{
		fileText: "Line one.\nThe quck fox.\nDuplicate token a.\nDuplicate token b.\n",
	}
	path := writeFindings(t, `[
		{"initial_text": "quck", "corrected_text": "quick", "problem_description": "typo"},
		{"initial_text": "Duplicate token", "corrected_text": "Unique token", "problem_description": "ambiguous"}
	]`)

	o := newTestOrchestrator(remote, Options{
		ProjectURL:   "https://gitlab.example.com/group/docs",
		FilePath:     "guide.md",
		FindingsPath: path,
		MRTitle:      "Review",
	})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.SkippedMultiple)
	assert.Equal(t, 0, summary.SkippedNotFound)
	assert.Equal(t, 0, summary.SkippedInvalid)
	assert.Equal(t, summary.Total,
		summary.Created+summary.SkippedNotFound+summary.SkippedMultiple+summary.SkippedInvalid+summary.FailedSubmissions)

	assert.Equal(t, "https://gitlab.example.com/group/docs/-/merge_requests/7", summary.MRReference)
	assert.Equal(t, []string{"disc-1"}, summary.DiscussionIDs)

	require.Len(t, remote.anchors, 1)
	anchor := remote.anchors[0]
	assert.Equal(t, 2, anchor.OldLine)
	assert.Equal(t, 2, anchor.NewLine)
	assert.Equal(t, "b1", anchor.BaseSHA)
	assert.Equal(t, "guide.md", anchor.NewPath)

	require.Len(t, remote.bodies, 1)
	assert.Contains(t, remote.bodies[0], "```suggestion:-0+0\nquick\n```")
	assert.Contains(t, remote.bodies[0], "typo")
}

func TestRun_DryRunPerformsNoRemoteMutation(t *testing.T) {
	remote := &fakeRemote{fileText: "The quck fox.\n"}
	path := writeFindings(t, `[{"initial_text": "quck", "corrected_text": "quick", "problem_description": "typo"}]`)

	o := newTestOrchestrator(remote, Options{
		FindingsPath: path,
		FilePath:     "guide.md",
		DryRun:       true,
	})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, remote.mrCalls, "dry run must not create a merge request")
	assert.Equal(t, 0, remote.discussionCalls, "dry run must not create discussions")
	assert.Equal(t, 1, summary.Created, "would-submit counts as created")
	assert.Empty(t, summary.MRReference)
	assert.Empty(t, summary.DiscussionIDs)
}

func TestRun_FatalDiscussionErrorAbortsRun(t *testing.T) {
	remote := &fakeRemote{
		fileText: "first target\nsecond target\n",
		discussionErr: func(call int) error {
			return &retry.RemoteError{Op: "create discussion", StatusCode: http.StatusForbidden, Err: errors.New("forbidden")}
		},
	}
	path := writeFindings(t, `[
		{"initial_text": "first target", "corrected_text": "a", "problem_description": "p"},
		{"initial_text": "second target", "corrected_text": "b", "problem_description": "q"}
	]`)

	o := newTestOrchestrator(remote, Options{FindingsPath: path, FilePath: "guide.md"})

	summary, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary, "aborted run returns no summary")
	assert.True(t, retry.IsFatal(err))
	assert.Equal(t, 1, remote.discussionCalls, "no further findings processed after a fatal error")
}

func TestRun_ExhaustedTransientDowngradesToSkip(t *testing.T) {
	remote := &fakeRemote{
		fileText: "first target\nsecond target\n",
		discussionErr: func(call int) error {
			// Every attempt for the first finding fails transiently;
			// the second finding succeeds.
			if call <= 2 {
				return &retry.RemoteError{Op: "create discussion", StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
			}
			return nil
		},
	}
	path := writeFindings(t, `[
		{"initial_text": "first target", "corrected_text": "a", "problem_description": "p"},
		{"initial_text": "second target", "corrected_text": "b", "problem_description": "q"}
	]`)

	o := newTestOrchestrator(remote, Options{FindingsPath: path, FilePath: "guide.md"})

	summary, err := o.Run(context.Background())
	require.NoError(t, err, "exhausted transient on a discussion must not abort the run")

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.FailedSubmissions)
	assert.Equal(t, summary.Total,
		summary.Created+summary.SkippedNotFound+summary.SkippedMultiple+summary.SkippedInvalid+summary.FailedSubmissions)
}

func TestRun_MergeRequestFailureIsFatal(t *testing.T) {
	remote := &fakeRemote{
		fileText: "some target\n",
		mrErr:    &retry.RemoteError{Op: "create merge request", StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")},
	}
	path := writeFindings(t, `[{"initial_text": "some target", "corrected_text": "a", "problem_description": "p"}]`)

	o := newTestOrchestrator(remote, Options{FindingsPath: path, FilePath: "guide.md"})

	_, err := o.Run(context.Background())
	require.Error(t, err, "merge request creation is a run-level prerequisite")
	assert.Equal(t, 0, remote.discussionCalls)
}

func TestRun_ZeroValidFindings(t *testing.T) {
	remote := &fakeRemote{fileText: "irrelevant"}
	path := writeFindings(t, `[{"initial_text": "x", "corrected_text": "y"}]`)

	o := newTestOrchestrator(remote, Options{FindingsPath: path, FilePath: "guide.md"})

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, findings.ErrNoValidFindings)
	assert.Equal(t, 0, remote.mrCalls, "no remote call before the fatal input error")
}

func TestRun_NoLocatedFindingsSkipsMergeRequest(t *testing.T) {
	remote := &fakeRemote{fileText: "completely different content\n"}
	path := writeFindings(t, `[{"initial_text": "missing text", "corrected_text": "a", "problem_description": "p"}]`)

	o := newTestOrchestrator(remote, Options{FindingsPath: path, FilePath: "guide.md"})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, remote.mrCalls)
	assert.Equal(t, 1, summary.SkippedNotFound)
	assert.Equal(t, 0, summary.Created)
	assert.Empty(t, summary.MRReference)
}

func TestRun_SubmitsInInputOrder(t *testing.T) {
	remote := &fakeRemote{fileText: "alpha line\nbeta line\ngamma line\n"}
	path := writeFindings(t, `[
		{"initial_text": "gamma line", "corrected_text": "g", "problem_description": "third"},
		{"initial_text": "alpha line", "corrected_text": "a", "problem_description": "first"},
		{"initial_text": "beta line", "corrected_text": "b", "problem_description": "second"}
	]`)

	o := newTestOrchestrator(remote, Options{FindingsPath: path, FilePath: "guide.md"})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)

	// Input order, not line order.
	require.Len(t, remote.anchors, 3)
	assert.Equal(t, 3, remote.anchors[0].NewLine)
	assert.Equal(t, 1, remote.anchors[1].NewLine)
	assert.Equal(t, 2, remote.anchors[2].NewLine)
}

func TestRun_PersistsSummary(t *testing.T) {
	remote := &fakeRemote{fileText: "The quck fox.\n"}
	findingsPath := writeFindings(t, `[{"initial_text": "quck", "corrected_text": "quick", "problem_description": "typo"}]`)
	summaryPath := filepath.Join(t.TempDir(), "summary.json")

	o := newTestOrchestrator(remote, Options{
		FindingsPath: findingsPath,
		FilePath:     "guide.md",
		SummaryPath:  summaryPath,
	})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)

	var persisted struct {
		models.RunSummary
		DryRun    bool   `json:"dry_run"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &persisted))

	assert.Equal(t, 1, persisted.Created)
	assert.False(t, persisted.DryRun)
	_, err = time.Parse(time.RFC3339, persisted.Timestamp)
	assert.NoError(t, err, "timestamp must be ISO-8601")
}
