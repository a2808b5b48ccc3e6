package review

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// persistedSummary is the on-disk shape of a finalized run summary.
type persistedSummary struct {
	models.RunSummary
	RunID     string `json:"run_id"`
	DryRun    bool   `json:"dry_run"`
	Timestamp string `json:"timestamp"`
}

// WriteSummary persists a finalized summary as JSON. It is called once
// per completed run; aborted runs persist nothing.
func WriteSummary(path string, summary *models.RunSummary, runID string, dryRun bool) error {
	record := persistedSummary{
		RunSummary: *summary,
		RunID:      runID,
		DryRun:     dryRun,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}
