package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lmazure/GitLabDocumentReview/internal/config"
	"github.com/lmazure/GitLabDocumentReview/internal/findings"
	"github.com/lmazure/GitLabDocumentReview/internal/gitlab"
	"github.com/lmazure/GitLabDocumentReview/internal/logging"
	"github.com/lmazure/GitLabDocumentReview/internal/retry"
	"github.com/lmazure/GitLabDocumentReview/internal/review"
)

// Exit codes owned by the orchestrator's caller.
const (
	exitInvalidInput    = 1 // invalid arguments or environment
	exitAuthFailure     = 2 // authentication or permission failure
	exitProcessingError = 3 // file or processing error
	exitNoValidFindings = 4 // zero valid findings after filtering
)

// ReviewCommand returns the review command
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Post findings as one-click suggestion comments on a merge request",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Resolve and report findings without any remote mutation",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose output for this command",
			},
			&cli.Float64Flag{
				Name:  "delay",
				Usage: "Seconds to wait between discussion creations (overrides config)",
			},
		},
		ArgsUsage: "PROJECT_URL FILE_PATH FINDINGS_FILE",
		Action:    runReview,
	}
}

func runReview(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.Exit("usage: docreview review PROJECT_URL FILE_PATH FINDINGS_FILE", exitInvalidInput)
	}

	projectURL := c.Args().Get(0)
	filePath := c.Args().Get(1)
	findingsFile := c.Args().Get(2)

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), exitInvalidInput)
	}
	if c.IsSet("delay") {
		cfg.Review.DelaySeconds = c.Float64("delay")
	}
	if err := config.Validate(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitInvalidInput)
	}

	baseURL := cfg.GitLab.URL
	if baseURL == "" {
		baseURL, err = gitlab.BaseURLFromProject(projectURL)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
	}

	logger, err := logging.NewRunLogger(c.Bool("verbose"), cfg.Review.LogDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to set up logging: %v", err), exitInvalidInput)
	}
	defer logger.Close()

	client, err := gitlab.New(gitlab.Config{URL: baseURL, Token: cfg.GitLab.Token})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create GitLab client: %v", err), exitInvalidInput)
	}

	orchestrator := review.New(
		client,
		logger,
		retry.New(cfg.RetryConfig(), logger),
		review.Options{
			ProjectURL:   projectURL,
			FilePath:     filePath,
			FindingsPath: findingsFile,
			MRTitle:      cfg.Review.MRTitle,
			SummaryPath:  cfg.Review.SummaryPath,
			DryRun:       c.Bool("dry-run"),
			Delay:        cfg.Delay(),
		},
	)

	if _, err := orchestrator.Run(context.Background()); err != nil {
		switch {
		case errors.Is(err, findings.ErrNoValidFindings):
			return cli.Exit(err.Error(), exitNoValidFindings)
		case retry.IsFatal(err):
			return cli.Exit(fmt.Sprintf("authentication or permission failure: %v", err), exitAuthFailure)
		default:
			return cli.Exit(err.Error(), exitProcessingError)
		}
	}
	return nil
}
