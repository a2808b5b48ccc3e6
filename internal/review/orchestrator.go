// Package review drives the pipeline that turns validated findings
// into positioned suggestion discussions on a merge request.
package review

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/lmazure/GitLabDocumentReview/internal/findings"
	"github.com/lmazure/GitLabDocumentReview/internal/gitlab"
	"github.com/lmazure/GitLabDocumentReview/internal/locate"
	"github.com/lmazure/GitLabDocumentReview/internal/logging"
	"github.com/lmazure/GitLabDocumentReview/internal/position"
	"github.com/lmazure/GitLabDocumentReview/internal/retry"
	"github.com/lmazure/GitLabDocumentReview/internal/suggestion"
	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// Remote is the hosted-repository surface the orchestrator drives. The
// GitLab client implements it; tests substitute a fake.
type Remote interface {
	GetProject(ctx context.Context, projectURL string) (*gitlab.Project, error)
	GetFileContent(ctx context.Context, projectID int, path, ref string) (string, error)
	CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (*gitlab.MergeRequest, error)
	GetLatestMRVersion(ctx context.Context, projectID, mrIID int) (*gitlab.MRVersion, error)
	CreateDiscussion(ctx context.Context, projectID, mrIID int, body string, anchor models.PositionAnchor) (string, error)
}

// Options configures one review run. Values come from the CLI and the
// configuration file; the orchestrator never reads the environment.
type Options struct {
	ProjectURL   string
	FilePath     string
	FindingsPath string
	MRTitle      string
	SummaryPath  string
	DryRun       bool
	Delay        time.Duration // pacing between discussion creations
}

// Orchestrator sequences the pipeline: validate, locate, create the
// merge request, position, submit discussions, accumulate the summary.
// Findings are processed strictly in input order on a single goroutine.
type Orchestrator struct {
	remote  Remote
	logger  *logging.RunLogger
	retrier *retry.Executor
	limiter *rate.Limiter
	opts    Options
}

// New creates an Orchestrator.
func New(remote Remote, logger *logging.RunLogger, retrier *retry.Executor, opts Options) *Orchestrator {
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Orchestrator{
		remote:  remote,
		logger:  logger,
		retrier: retrier,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
	}
}

// Run executes the whole pipeline and returns the finalized summary.
// A fatal remote error aborts immediately; the partial summary is then
// neither returned nor persisted.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	records, valid, err := findings.Load(o.opts.FindingsPath)
	for _, record := range records {
		if record.Invalid {
			o.logger.Warn("Rejected finding: %s", record.Reason)
		}
	}
	if err != nil {
		return nil, err
	}
	o.logger.Info("Loaded %d findings (%d valid, %d rejected)", len(records), valid, len(records)-valid)

	project, err := o.getProject(ctx)
	if err != nil {
		return nil, err
	}

	fileText, err := o.getFileContent(ctx, project)
	if err != nil {
		return nil, err
	}

	located, summary := o.locateAll(records, fileText)

	if err := o.submitAll(ctx, project, located, summary); err != nil {
		return nil, err
	}

	if o.opts.SummaryPath != "" {
		if err := WriteSummary(o.opts.SummaryPath, summary, o.logger.RunID(), o.opts.DryRun); err != nil {
			return nil, fmt.Errorf("failed to persist summary: %w", err)
		}
	}

	o.logger.Success("Done: %d created, %d not found, %d multiple, %d invalid, %d failed (of %d)",
		summary.Created, summary.SkippedNotFound, summary.SkippedMultiple,
		summary.SkippedInvalid, summary.FailedSubmissions, summary.Total)
	return summary, nil
}

func (o *Orchestrator) getProject(ctx context.Context) (*gitlab.Project, error) {
	var project *gitlab.Project
	err := o.retrier.Do(ctx, "get project", func() error {
		var err error
		project, err = o.remote.GetProject(ctx, o.opts.ProjectURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("Project %s (id=%d, default branch %s)",
		project.PathWithNamespace, project.ID, project.DefaultBranch)
	return project, nil
}

// getFileContent fetches the reviewed file once; the returned text is
// the immutable snapshot every finding is resolved against.
func (o *Orchestrator) getFileContent(ctx context.Context, project *gitlab.Project) (string, error) {
	var fileText string
	err := o.retrier.Do(ctx, "get file content", func() error {
		var err error
		fileText, err = o.remote.GetFileContent(ctx, project.ID, o.opts.FilePath, project.DefaultBranch)
		return err
	})
	if err != nil {
		return "", err
	}
	o.logger.Info("Fetched %s at %s (%d bytes)", o.opts.FilePath, project.DefaultBranch, len(fileText))
	return fileText, nil
}

// locateAll resolves every record in input order, tagging each with its
// outcome and pre-counting the skip categories.
func (o *Orchestrator) locateAll(records []findings.Record, fileText string) ([]models.LocatedFinding, *models.RunSummary) {
	summary := &models.RunSummary{Total: len(records)}
	located := make([]models.LocatedFinding, 0, len(records))

	for _, record := range records {
		if record.Invalid {
			summary.SkippedInvalid++
			located = append(located, models.LocatedFinding{
				Finding: record.Finding,
				Outcome: models.Invalid(record.Reason),
			})
			continue
		}

		outcome := locate.Locate(fileText, record.Finding.InitialText)
		located = append(located, models.LocatedFinding{Finding: record.Finding, Outcome: outcome})

		switch outcome.Kind {
		case models.OutcomeLocated:
			o.logger.Debug("Located %q at line %d", record.Finding.InitialText, outcome.Line)
		case models.OutcomeNotFound:
			summary.SkippedNotFound++
			o.logger.Warn("Skipping finding, text not found: %q", record.Finding.InitialText)
		case models.OutcomeMultipleMatches:
			summary.SkippedMultiple++
			o.logger.Warn("Skipping finding, %d matches at lines %v: %q",
				len(outcome.Lines), outcome.Lines, record.Finding.InitialText)
		case models.OutcomeInvalid:
			summary.SkippedInvalid++
			o.logger.Warn("Skipping finding: %s", outcome.Reason)
		}
	}

	return located, summary
}

// submitAll creates the merge request and one positioned discussion per
// located finding. In dry-run mode every remote mutation is skipped and
// Submitted becomes WouldSubmit.
func (o *Orchestrator) submitAll(ctx context.Context, project *gitlab.Project, located []models.LocatedFinding, summary *models.RunSummary) error {
	anyLocated := false
	for _, lf := range located {
		if lf.Outcome.Kind == models.OutcomeLocated {
			anyLocated = true
			break
		}
	}
	if !anyLocated {
		o.logger.Warn("No finding resolved to a unique line; not opening a merge request")
		return nil
	}

	if o.opts.DryRun {
		o.logger.Info("[dry-run] would create merge request %q on %s", o.opts.MRTitle, project.DefaultBranch)
		for _, lf := range located {
			if lf.Outcome.Kind != models.OutcomeLocated {
				continue
			}
			anchor := position.Build(position.Context{Path: o.opts.FilePath}, lf.Outcome.Line)
			summary.Created++
			o.logger.Info("[dry-run] would create suggestion at %s:%d", anchor.NewPath, anchor.NewLine)
		}
		return nil
	}

	// The MR is opened branch-to-itself: a zero-diff base on which line
	// comments can still be anchored.
	var mr *gitlab.MergeRequest
	err := o.retrier.Do(ctx, "create merge request", func() error {
		var err error
		mr, err = o.remote.CreateMergeRequest(ctx, project.ID,
			project.DefaultBranch, project.DefaultBranch,
			o.opts.MRTitle, fmt.Sprintf("Review suggestions for `%s`.", o.opts.FilePath))
		return err
	})
	if err != nil {
		return fmt.Errorf("merge request creation failed: %w", err)
	}
	summary.MRReference = mr.WebURL
	o.logger.Success("Created merge request !%d: %s", mr.IID, mr.WebURL)

	var version *gitlab.MRVersion
	err = o.retrier.Do(ctx, "get merge request versions", func() error {
		var err error
		version, err = o.remote.GetLatestMRVersion(ctx, project.ID, mr.IID)
		return err
	})
	if err != nil {
		return fmt.Errorf("merge request version lookup failed: %w", err)
	}

	posCtx := position.Context{
		BaseSHA:  version.BaseCommitSHA,
		HeadSHA:  version.HeadCommitSHA,
		StartSHA: version.StartCommitSHA,
		Path:     o.opts.FilePath,
	}

	for _, lf := range located {
		if lf.Outcome.Kind != models.OutcomeLocated {
			continue
		}

		// Fixed pacing between discussion creations, independent of
		// retry backoff.
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}

		anchor := position.Build(posCtx, lf.Outcome.Line)
		body := suggestion.Body(lf.Finding)

		var discussionID string
		err := o.retrier.Do(ctx, "create discussion", func() error {
			var err error
			discussionID, err = o.remote.CreateDiscussion(ctx, project.ID, mr.IID, body, anchor)
			return err
		})
		if err != nil {
			if retry.IsFatal(err) {
				return err
			}
			summary.FailedSubmissions++
			o.logger.Error("Submission failed for suggestion at line %d: %v", lf.Outcome.Line, err)
			continue
		}

		summary.Created++
		summary.DiscussionIDs = append(summary.DiscussionIDs, discussionID)
		o.logger.Success("Created suggestion at %s:%d (discussion %s)",
			anchor.NewPath, anchor.NewLine, discussionID)
	}

	return nil
}
