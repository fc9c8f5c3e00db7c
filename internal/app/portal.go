package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"attest/api/internal/auth"
	"attest/api/internal/forms"
	"attest/api/internal/store"
	"attest/api/internal/util"
)

type SubmitReportInput struct {
	OrganizationID string         `json:"organizationId"`
	TemplateName   string         `json:"templateName"`
	Language       string         `json:"language"`
	Answers        map[string]any `json:"answers"`
}

// SubmitReport handles an anonymous portal submission: resolve the
// current published form, validate the answers against its schema, store
// the submission, and open a case. The returned access key is shown to
// the reporter exactly once; only its hash is stored.
func (s *Service) SubmitReport(ctx context.Context, input SubmitReportInput) (map[string]any, error) {
	if input.OrganizationID == "" || input.TemplateName == "" {
		return nil, badRequest("organizationId and templateName are required", nil)
	}

	t, err := s.publishedTemplate(ctx, input.OrganizationID, input.TemplateName, input.Language)
	if err != nil {
		return nil, err
	}

	var schema forms.Schema
	if err := json.Unmarshal(t.Schema, &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	answerErrs := forms.ValidateAnswers(schema, input.Answers)
	if forms.HasBlocking(answerErrs) {
		return nil, badRequest("answers failed validation", answerErrorDetails(answerErrs))
	}

	answersRaw, err := json.Marshal(input.Answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}

	accessKey := util.NewAccessKey()
	sub, err := s.store.CreateSubmission(ctx, store.Submission{
		ID:              util.NewID("sub"),
		OrganizationID:  t.OrganizationID,
		TemplateID:      t.ID,
		TemplateVersion: t.Version,
		AccessKeyHash:   auth.HashToken(accessKey),
		Answers:         answersRaw,
	})
	if err != nil {
		return nil, err
	}

	c, err := s.openCaseForReport(ctx, t, sub, input.Answers)
	if err != nil {
		return nil, err
	}

	s.notifyOfficers(ctx, t, c)

	response := map[string]any{
		"accessKey":   accessKey,
		"reference":   c.Reference,
		"submittedAt": sub.SubmittedAt,
	}
	warnings := warningDetails(answerErrs)
	if len(warnings) > 0 {
		response["warnings"] = warnings
	}
	return response, nil
}

func (s *Service) openCaseForReport(ctx context.Context, t store.FormTemplate, sub store.Submission, answers map[string]any) (store.Case, error) {
	severity := "MEDIUM"
	category := t.DisclosureType
	triageSource := ""
	if s.triage != nil {
		suggestion := s.triage.Suggest(ctx, t.Name, t.DisclosureType, answers)
		severity = suggestion.Severity
		category = suggestion.Category
		triageSource = suggestion.Source
	}

	reference, err := s.store.NextCaseReference(ctx, t.OrganizationID)
	if err != nil {
		return store.Case{}, err
	}

	c, err := s.store.CreateCase(ctx, store.Case{
		ID:             util.NewID("cas"),
		OrganizationID: t.OrganizationID,
		Reference:      reference,
		Title:          "Report via " + t.Name,
		Status:         store.CaseNew,
		Severity:       severity,
		Category:       category,
		SubmissionID:   &sub.ID,
		CreatedBy:      "portal",
	})
	if err != nil {
		return store.Case{}, err
	}

	if err := s.store.LinkSubmissionToCase(ctx, t.OrganizationID, sub.ID, c.ID); err != nil {
		return store.Case{}, err
	}

	s.appendEvent(ctx, c, "created", "portal", map[string]any{"templateName": t.Name, "templateVersion": t.Version})
	if triageSource != "" {
		s.appendEvent(ctx, c, "triage", "system", map[string]any{
			"severity": severity,
			"category": category,
			"source":   triageSource,
		})
	}
	s.indexCase(c)
	return c, nil
}

func (s *Service) notifyOfficers(ctx context.Context, t store.FormTemplate, c store.Case) {
	if !s.SMTPConfigured() {
		return
	}
	officers, err := s.store.ListUsersByRole(ctx, t.OrganizationID, "COMPLIANCE_OFFICER")
	if err != nil || len(officers) == 0 {
		return
	}
	to := make([]string, 0, len(officers))
	for _, officer := range officers {
		to = append(to, officer.Email)
	}
	caseURL := s.cfg.CORSOrigin + "/cases/" + c.ID
	go func() {
		if err := s.email.SendNewReportEmail(to, t.Name, c.Reference, caseURL); err != nil {
			log.Printf("send new report email for %s: %v", c.Reference, err)
		}
	}()
}

// ReportStatus looks up a submission by the reporter's access key.
func (s *Service) ReportStatus(ctx context.Context, accessKey string) (map[string]any, error) {
	if accessKey == "" {
		return nil, notFound("Report not found")
	}
	sub, err := s.store.GetSubmissionByAccessKeyHash(ctx, auth.HashToken(accessKey))
	if err != nil {
		return nil, notFound("Report not found")
	}

	response := map[string]any{
		"submittedAt": sub.SubmittedAt,
		"status":      store.CaseNew,
	}
	if sub.CaseID != nil {
		if c, err := s.store.GetCase(ctx, sub.OrganizationID, *sub.CaseID); err == nil {
			response["reference"] = c.Reference
			response["status"] = c.Status
		}
	}
	return response, nil
}

// UploadReportAttachment stores a file for an existing report. The
// reporter authenticates with their access key.
func (s *Service) UploadReportAttachment(ctx context.Context, accessKey, fileName, contentType string, size int64, reader io.Reader) (map[string]any, error) {
	if s.objects == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	sub, err := s.store.GetSubmissionByAccessKeyHash(ctx, auth.HashToken(accessKey))
	if err != nil {
		return nil, notFound("Report not found")
	}
	if fileName == "" {
		return nil, badRequest("file name is required", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := util.NewID("att")
	objectKey := fmt.Sprintf("%s/%s/%s", sub.OrganizationID, sub.ID, id)
	if err := s.objects.Put(ctx, objectKey, reader, size, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	att, err := s.store.CreateAttachment(ctx, store.Attachment{
		ID:             id,
		OrganizationID: sub.OrganizationID,
		SubmissionID:   sub.ID,
		ObjectKey:      objectKey,
		FileName:       fileName,
		ContentType:    contentType,
		Size:           size,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":       att.ID,
		"fileName": att.FileName,
		"size":     att.Size,
	}, nil
}

// ListCaseAttachments returns download links for a case's submission
// files, for investigators.
func (s *Service) ListCaseAttachments(ctx context.Context, session Session, caseID string) ([]map[string]any, error) {
	c, err := s.store.GetCase(ctx, session.OrganizationID, caseID)
	if err != nil {
		return nil, err
	}
	if c.SubmissionID == nil {
		return []map[string]any{}, nil
	}

	attachments, err := s.store.ListAttachments(ctx, session.OrganizationID, *c.SubmissionID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(attachments))
	for _, att := range attachments {
		item := map[string]any{
			"id":          att.ID,
			"fileName":    att.FileName,
			"contentType": att.ContentType,
			"size":        att.Size,
			"createdAt":   att.CreatedAt,
		}
		if s.objects != nil {
			if url, err := s.objects.PresignedURL(ctx, att.ObjectKey, att.FileName, 15*time.Minute); err == nil {
				item["downloadUrl"] = url
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func answerErrorDetails(errs []forms.AnswerError) []map[string]string {
	details := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		if e.Severity == forms.SeverityWarning {
			continue
		}
		details = append(details, map[string]string{"field": e.Field, "message": e.Message})
	}
	return details
}

func warningDetails(errs []forms.AnswerError) []map[string]string {
	var warnings []map[string]string
	for _, e := range errs {
		if e.Severity != forms.SeverityWarning {
			continue
		}
		warnings = append(warnings, map[string]string{"field": e.Field, "message": e.Message})
	}
	return warnings
}
