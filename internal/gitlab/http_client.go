package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lmazure/GitLabDocumentReview/internal/retry"
	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// HTTPClient is a custom HTTP client for the GitLab merge request and
// discussion endpoints, used alongside the official client.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new GitLab HTTP client for the instance at
// baseURL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}

	return &HTTPClient{
		baseURL: fmt.Sprintf("%s/api/v4", baseURL),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// MergeRequest represents a GitLab merge request
type MergeRequest struct {
	ID           int    `json:"id"`
	IID          int    `json:"iid"`
	ProjectID    int    `json:"project_id"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	WebURL       string `json:"web_url"`
}

// MRVersion represents a merge request version. Its commit SHAs are
// required for positioning discussions in the diff.
type MRVersion struct {
	ID             int    `json:"id"`
	HeadCommitSHA  string `json:"head_commit_sha"`
	BaseCommitSHA  string `json:"base_commit_sha"`
	StartCommitSHA string `json:"start_commit_sha"`
	CreatedAt      string `json:"created_at"`
	State          string `json:"state"`
}

// CreateMergeRequest creates a merge request. The review flow opens it
// branch-to-itself so the base diff is intentionally empty.
func (c *HTTPClient) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (*MergeRequest, error) {
	requestURL := fmt.Sprintf("%s/projects/%d/merge_requests", c.baseURL, projectID)

	requestData := map[string]interface{}{
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
		"title":         title,
		"description":   description,
	}

	var mr MergeRequest
	if err := c.postJSON(ctx, "create merge request", requestURL, requestData, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// GetLatestMRVersion gets the latest version of a merge request.
func (c *HTTPClient) GetLatestMRVersion(ctx context.Context, projectID, mrIID int) (*MRVersion, error) {
	requestURL := fmt.Sprintf("%s/projects/%d/merge_requests/%d/versions",
		c.baseURL, projectID, mrIID)

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("PRIVATE-TOKEN", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &retry.RemoteError{Op: "get merge request versions", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.RemoteError{
			Op:         "get merge request versions",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API request failed: %s", string(body)),
		}
	}

	var versions []MRVersion
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no versions found for merge request %d", mrIID)
	}

	// Latest version is first in the list
	return &versions[0], nil
}

// CreateDiscussion creates a discussion thread anchored at the given
// position and returns its ID.
func (c *HTTPClient) CreateDiscussion(ctx context.Context, projectID, mrIID int, body string, anchor models.PositionAnchor) (string, error) {
	requestURL := fmt.Sprintf("%s/projects/%d/merge_requests/%d/discussions",
		c.baseURL, projectID, mrIID)

	requestData := map[string]interface{}{
		"body": body,
		"position": map[string]interface{}{
			"position_type": "text",
			"base_sha":      anchor.BaseSHA,
			"head_sha":      anchor.HeadSHA,
			"start_sha":     anchor.StartSHA,
			"old_path":      anchor.OldPath,
			"new_path":      anchor.NewPath,
			"old_line":      anchor.OldLine,
			"new_line":      anchor.NewLine,
		},
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "create discussion", requestURL, requestData, &response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// postJSON sends a JSON POST, accepts 200/201, and decodes the response
// into out. Failed responses become RemoteError for classification.
func (c *HTTPClient) postJSON(ctx context.Context, op, requestURL string, requestData map[string]interface{}, out interface{}) error {
	requestBody, err := json.Marshal(requestData)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", requestURL, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("PRIVATE-TOKEN", c.token)
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &retry.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return &retry.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API request failed: %s", string(body)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
