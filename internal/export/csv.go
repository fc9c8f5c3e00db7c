package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"attest/api/internal/forms"
)

// exportCSV writes one row per submission of a template, with a column
// per schema field in form order.
func (s *Service) exportCSV(ctx context.Context, orgID, templateID string) (*Result, error) {
	tmpl, err := s.store.GetTemplate(ctx, orgID, templateID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}

	var schema forms.Schema
	if err := json.Unmarshal(tmpl.Schema, &schema); err != nil {
		return nil, fmt.Errorf("%w: decode schema: %v", ErrContentUnavailable, err)
	}

	subs, err := s.store.ListSubmissionsByTemplate(ctx, orgID, templateID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"submission_id", "case_reference", "submitted_at"}
	for _, f := range schema.Fields {
		header = append(header, f.Key)
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, sub := range subs {
		var answers map[string]any
		if err := json.Unmarshal(sub.Answers, &answers); err != nil {
			return nil, fmt.Errorf("%w: decode answers for %s: %v", ErrContentUnavailable, sub.ID, err)
		}

		row := []string{sub.ID, sub.CaseReference, sub.SubmittedAt.UTC().Format(time.RFC3339)}
		for _, f := range schema.Fields {
			value, ok := answers[f.Key]
			if !ok || value == nil {
				row = append(row, "")
				continue
			}
			row = append(row, FormatValue(f, value))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(tmpl.Name) + ".csv",
		MimeType: "text/csv",
	}, nil
}
