package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"

	"attest/api/internal/forms"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSubmission(ctx context.Context, orgID, id string) (SubmissionInfo, error)
	GetTemplate(ctx context.Context, orgID, id string) (TemplateInfo, error)
	ListSubmissionsByTemplate(ctx context.Context, orgID, templateID string) ([]SubmissionInfo, error)
}

// Service turns submissions into downloadable documents
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format == FormatCSV {
		return s.exportCSV(ctx, req.OrganizationID, req.TemplateID)
	}

	sub, err := s.store.GetSubmission(ctx, req.OrganizationID, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}

	tmpl, err := s.store.GetTemplate(ctx, req.OrganizationID, sub.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}

	var schema forms.Schema
	if err := json.Unmarshal(tmpl.Schema, &schema); err != nil {
		return nil, fmt.Errorf("%w: decode schema: %v", ErrContentUnavailable, err)
	}

	var answers map[string]any
	if err := json.Unmarshal(sub.Answers, &answers); err != nil {
		return nil, fmt.Errorf("%w: decode answers: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		TemplateName:   tmpl.Name,
		DisclosureType: tmpl.DisclosureType,
		Version:        tmpl.Version,
		CaseReference:  sub.CaseReference,
		SubmittedAt:    sub.SubmittedAt,
		ContentHTML:    template.HTML(AnswersToHTML(schema, answers)),
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(ctx, html, tmpl.Name)
	case FormatDOCX:
		return exportDOCX(ctx, html, tmpl.Name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
