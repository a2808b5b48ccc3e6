// Package gitlab talks to the GitLab API. Typed project and repository
// file calls go through the official client; merge request creation,
// versions, and discussions use a custom HTTP client against the
// documented endpoints.
package gitlab

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/lmazure/GitLabDocumentReview/internal/retry"
	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// ErrBinaryContent reports a file whose content cannot be reviewed as
// text. It is rejected before any finding is resolved against it.
var ErrBinaryContent = errors.New("file content is binary")

// Project holds the project attributes the review pipeline needs.
type Project struct {
	ID                int
	PathWithNamespace string
	DefaultBranch     string
}

// Client combines the official GitLab client with the custom HTTP
// client for the merge request and discussion endpoints.
type Client struct {
	api        *gitlab.Client
	httpClient *HTTPClient
}

// Config contains configuration for the GitLab client.
type Config struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// New creates a Client for the instance at config.URL.
func New(config Config) (*Client, error) {
	api, err := gitlab.NewClient(config.Token,
		gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", strings.TrimSuffix(config.URL, "/"))))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	return &Client{
		api:        api,
		httpClient: NewHTTPClient(config.URL, config.Token),
	}, nil
}

// BaseURLFromProject derives the instance base URL (scheme and host)
// from a full project URL.
func BaseURLFromProject(projectURL string) (string, error) {
	parsed, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("invalid project URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("project URL %q must include scheme and host", projectURL)
	}
	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), nil
}

// ProjectPathFromURL extracts the namespaced project path from a full
// project URL, e.g. https://gitlab.example.com/group/docs -> group/docs.
func ProjectPathFromURL(projectURL string) (string, error) {
	parsed, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("invalid project URL: %w", err)
	}

	path := strings.Trim(parsed.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	if path == "" {
		return "", fmt.Errorf("could not extract project path from URL: %s", projectURL)
	}
	return path, nil
}

// GetProject resolves a project URL to its ID and default branch.
func (c *Client) GetProject(ctx context.Context, projectURL string) (*Project, error) {
	projectPath, err := ProjectPathFromURL(projectURL)
	if err != nil {
		return nil, err
	}

	project, resp, err := c.api.Projects.GetProject(projectPath, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, remoteErr("get project", resp, err)
	}

	return &Project{
		ID:                project.ID,
		PathWithNamespace: project.PathWithNamespace,
		DefaultBranch:     project.DefaultBranch,
	}, nil
}

// GetFileContent fetches one file at ref and returns its decoded text.
// Content that is not valid text is rejected with ErrBinaryContent.
func (c *Client) GetFileContent(ctx context.Context, projectID int, path, ref string) (string, error) {
	file, resp, err := c.api.RepositoryFiles.GetFile(projectID, path,
		&gitlab.GetFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	if err != nil {
		return "", remoteErr("get file content", resp, err)
	}

	content := file.Content
	if file.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(file.Content)
		if err != nil {
			return "", fmt.Errorf("failed to decode file %s: %w", path, err)
		}
		content = string(decoded)
	}

	if !utf8.ValidString(content) || strings.ContainsRune(content, 0) {
		return "", fmt.Errorf("%s: %w", path, ErrBinaryContent)
	}

	return content, nil
}

// CreateMergeRequest opens a merge request for the project.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (*MergeRequest, error) {
	return c.httpClient.CreateMergeRequest(ctx, projectID, sourceBranch, targetBranch, title, description)
}

// GetLatestMRVersion returns the version SHAs needed to position
// discussions in the merge request diff.
func (c *Client) GetLatestMRVersion(ctx context.Context, projectID, mrIID int) (*MRVersion, error) {
	return c.httpClient.GetLatestMRVersion(ctx, projectID, mrIID)
}

// CreateDiscussion creates a positioned discussion on the merge request
// and returns the discussion ID.
func (c *Client) CreateDiscussion(ctx context.Context, projectID, mrIID int, body string, anchor models.PositionAnchor) (string, error) {
	return c.httpClient.CreateDiscussion(ctx, projectID, mrIID, body, anchor)
}

// remoteErr wraps a failed typed API call, carrying the HTTP status for
// retry classification. StatusCode stays zero when the request never
// reached the server.
func remoteErr(op string, resp *gitlab.Response, err error) *retry.RemoteError {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return &retry.RemoteError{Op: op, StatusCode: status, Err: err}
}
