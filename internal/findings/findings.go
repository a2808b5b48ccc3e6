// Package findings loads and validates the findings file: a JSON array
// of proposed corrections produced by an upstream review pipeline.
package findings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kaptinlin/jsonrepair"

	"github.com/lmazure/GitLabDocumentReview/pkg/models"
)

// ErrNoValidFindings is returned when every record in the findings file
// was rejected by validation. This is a fatal precondition for the run,
// not a per-finding skip.
var ErrNoValidFindings = errors.New("no valid findings in input")

// Record is one entry of the findings file in input order. Invalid
// records keep their slot so reports and logs reflect the input order.
type Record struct {
	Finding models.Finding
	Invalid bool
	Reason  string
}

// Load reads and validates a findings file. It returns every record in
// input order plus the count of valid findings. A zero valid count is
// reported as ErrNoValidFindings.
func Load(path string) ([]Record, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read findings file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw findings JSON. Findings files come from LLM
// pipelines, so a malformed document gets one repair pass through the
// jsonrepair library before being rejected.
func Parse(data []byte) ([]Record, int, error) {
	var rawRecords []json.RawMessage
	if err := json.Unmarshal(data, &rawRecords); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return nil, 0, fmt.Errorf("findings file is not a JSON array: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &rawRecords); err != nil {
			return nil, 0, fmt.Errorf("findings file is not a JSON array even after repair: %w", err)
		}
	}

	records := make([]Record, 0, len(rawRecords))
	valid := 0
	for i, raw := range rawRecords {
		record := validate(i, raw)
		if !record.Invalid {
			valid++
		}
		records = append(records, record)
	}

	if valid == 0 {
		return records, 0, ErrNoValidFindings
	}
	return records, valid, nil
}

// validate checks one raw record. A record is valid iff it carries a
// non-empty initial_text, a (possibly empty) corrected_text, and a
// problem_description, all strings.
func validate(index int, raw json.RawMessage) Record {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Record{Invalid: true, Reason: fmt.Sprintf("record %d is not a JSON object", index)}
	}

	initialText, reason := stringField(fields, "initial_text")
	if reason == "" && initialText == "" {
		reason = "initial_text is empty"
	}
	correctedText, correctedReason := stringField(fields, "corrected_text")
	if reason == "" {
		reason = correctedReason
	}
	problem, problemReason := stringField(fields, "problem_description")
	if reason == "" {
		reason = problemReason
	}

	if reason != "" {
		return Record{Invalid: true, Reason: fmt.Sprintf("record %d: %s", index, reason)}
	}

	return Record{
		Finding: models.Finding{
			InitialText:        initialText,
			CorrectedText:      correctedText,
			ProblemDescription: problem,
		},
	}
}

func stringField(fields map[string]interface{}, name string) (string, string) {
	value, ok := fields[name]
	if !ok {
		return "", fmt.Sprintf("missing %s", name)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Sprintf("%s is not a string", name)
	}
	return s, ""
}
