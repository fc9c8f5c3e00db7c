package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"attest/api/internal/export"
	"attest/api/internal/search"
	"attest/api/internal/store"
	"attest/api/internal/util"
)

var caseSeverities = map[string]struct{}{
	"LOW": {}, "MEDIUM": {}, "HIGH": {}, "CRITICAL": {},
}

// caseStatusRank orders the workflow. Transitions move forward; the only
// backward move allowed is reopening a resolved or closed case.
var caseStatusRank = map[string]int{
	store.CaseNew:           0,
	store.CaseTriage:        1,
	store.CaseInvestigating: 2,
	store.CaseResolved:      3,
	store.CaseClosed:        4,
}

type CreateCaseInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Category    string         `json:"category"`
	Properties  map[string]any `json:"properties"`
}

type UpdateCaseInput struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Severity    *string        `json:"severity"`
	Category    *string        `json:"category"`
	Status      *string        `json:"status"`
	AssigneeID  *string        `json:"assigneeId"`
	Properties  map[string]any `json:"properties"`
}

type CaseListQuery struct {
	Status     string
	Severity   string
	AssigneeID string
	Search     string
}

func (s *Service) CreateCase(ctx context.Context, session Session, input CreateCaseInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, badRequest("title is required", nil)
	}
	severity := input.Severity
	if severity == "" {
		severity = "MEDIUM"
	}
	if _, ok := caseSeverities[severity]; !ok {
		return nil, badRequest(fmt.Sprintf("unknown severity %q", severity), nil)
	}
	props, err := s.checkProperties(ctx, session.OrganizationID, input.Properties, true)
	if err != nil {
		return nil, err
	}

	reference, err := s.store.NextCaseReference(ctx, session.OrganizationID)
	if err != nil {
		return nil, err
	}

	created, err := s.store.CreateCase(ctx, store.Case{
		ID:             util.NewID("cas"),
		OrganizationID: session.OrganizationID,
		Reference:      reference,
		Title:          title,
		Description:    input.Description,
		Status:         store.CaseNew,
		Severity:       severity,
		Category:       input.Category,
		Properties:     props,
		CreatedBy:      session.UserID,
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, created, "created", session.UserName, map[string]any{"title": title})
	s.indexCase(created)
	return s.renderCase(created), nil
}

func (s *Service) ListCases(ctx context.Context, session Session, query CaseListQuery) ([]map[string]any, error) {
	cases, err := s.store.ListCases(ctx, session.OrganizationID, store.CaseFilter{
		Status:     query.Status,
		Severity:   query.Severity,
		AssigneeID: query.AssigneeID,
		Query:      query.Search,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cases))
	for _, c := range cases {
		items = append(items, s.renderCase(c))
	}
	return items, nil
}

func (s *Service) GetCase(ctx context.Context, session Session, id string) (map[string]any, error) {
	c, err := s.store.GetCase(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListCaseEvents(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	item := s.renderCase(c)
	eventItems := make([]map[string]any, 0, len(events))
	for _, e := range events {
		eventItems = append(eventItems, map[string]any{
			"id":        e.ID,
			"type":      e.Type,
			"actor":     e.Actor,
			"payload":   e.Payload,
			"createdAt": e.CreatedAt,
		})
	}
	item["events"] = eventItems
	return item, nil
}

func (s *Service) UpdateCase(ctx context.Context, session Session, id string, input UpdateCaseInput) (map[string]any, error) {
	c, err := s.store.GetCase(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, badRequest("title cannot be empty", nil)
		}
		c.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		c.Description = *input.Description
	}
	if input.Severity != nil {
		if _, ok := caseSeverities[*input.Severity]; !ok {
			return nil, badRequest(fmt.Sprintf("unknown severity %q", *input.Severity), nil)
		}
		c.Severity = *input.Severity
	}
	if input.Category != nil {
		c.Category = *input.Category
	}
	if input.Properties != nil {
		props, err := s.checkProperties(ctx, session.OrganizationID, input.Properties, false)
		if err != nil {
			return nil, err
		}
		c.Properties = props
	}

	var statusChanged, assigned bool
	oldStatus := c.Status
	if input.Status != nil && *input.Status != c.Status {
		if err := checkStatusTransition(c.Status, *input.Status); err != nil {
			return nil, err
		}
		c.Status = *input.Status
		statusChanged = true
		if c.Status == store.CaseClosed {
			now := time.Now()
			c.ClosedAt = &now
		} else {
			c.ClosedAt = nil
		}
	}
	if input.AssigneeID != nil {
		if *input.AssigneeID == "" {
			c.AssigneeID = nil
		} else {
			if _, err := s.store.GetUserByID(ctx, *input.AssigneeID); err != nil {
				return nil, notFound("Assignee not found")
			}
			c.AssigneeID = input.AssigneeID
			assigned = true
		}
	}

	updated, err := s.store.UpdateCase(ctx, c)
	if err != nil {
		return nil, err
	}

	if statusChanged {
		s.appendEvent(ctx, updated, "status_changed", session.UserName, map[string]any{
			"from": oldStatus,
			"to":   updated.Status,
		})
	}
	if assigned {
		s.appendEvent(ctx, updated, "assigned", session.UserName, map[string]any{
			"assigneeId": *updated.AssigneeID,
		})
		s.notifyAssignee(ctx, updated)
	}
	s.indexCase(updated)
	return s.renderCase(updated), nil
}

func (s *Service) AddCaseNote(ctx context.Context, session Session, id, note string) (map[string]any, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, badRequest("note is required", nil)
	}
	c, err := s.store.GetCase(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]any{"note": note})
	event, err := s.store.AppendCaseEvent(ctx, store.CaseEvent{
		ID:             util.NewID("evt"),
		CaseID:         c.ID,
		OrganizationID: session.OrganizationID,
		Type:           "note",
		Actor:          session.UserName,
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        event.ID,
		"type":      event.Type,
		"actor":     event.Actor,
		"payload":   event.Payload,
		"createdAt": event.CreatedAt,
	}, nil
}

func (s *Service) ExportCase(ctx context.Context, session Session, id, format string) (*export.Result, error) {
	c, err := s.store.GetCase(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if c.SubmissionID == nil {
		return nil, badRequest("case has no submission to export", nil)
	}

	var f export.Format
	switch format {
	case "pdf", "":
		f = export.FormatPDF
	case "docx":
		f = export.FormatDOCX
	default:
		return nil, badRequest(fmt.Sprintf("unsupported export format %q", format), nil)
	}

	return s.exporter.Export(ctx, export.Request{
		OrganizationID: session.OrganizationID,
		SubmissionID:   *c.SubmissionID,
		Format:         f,
	})
}

func checkStatusTransition(from, to string) error {
	fromRank, ok := caseStatusRank[from]
	if !ok {
		return badRequest(fmt.Sprintf("unknown status %q", from), nil)
	}
	toRank, ok := caseStatusRank[to]
	if !ok {
		return badRequest(fmt.Sprintf("unknown status %q", to), nil)
	}
	if toRank > fromRank {
		return nil
	}
	// Reopen path.
	if (from == store.CaseResolved || from == store.CaseClosed) && to == store.CaseInvestigating {
		return nil
	}
	return badRequest(fmt.Sprintf("cannot move case from %s to %s", from, to), nil)
}

func (s *Service) appendEvent(ctx context.Context, c store.Case, eventType, actor string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	if _, err := s.store.AppendCaseEvent(ctx, store.CaseEvent{
		ID:             util.NewID("evt"),
		CaseID:         c.ID,
		OrganizationID: c.OrganizationID,
		Type:           eventType,
		Actor:          actor,
		Payload:        raw,
	}); err != nil {
		log.Printf("append case event %s on %s: %v", eventType, c.Reference, err)
	}
}

func (s *Service) notifyAssignee(ctx context.Context, c store.Case) {
	if !s.SMTPConfigured() || c.AssigneeID == nil {
		return
	}
	assignee, err := s.store.GetUserByID(ctx, *c.AssigneeID)
	if err != nil {
		return
	}
	caseURL := s.cfg.CORSOrigin + "/cases/" + c.ID
	go func() {
		if err := s.email.SendCaseAssignedEmail(assignee.Email, assignee.DisplayName, c.Reference, c.Title, caseURL); err != nil {
			log.Printf("send case assigned email for %s: %v", c.Reference, err)
		}
	}()
}

func (s *Service) indexCase(c store.Case) {
	if s.search == nil {
		return
	}
	s.search.IndexCase(search.CaseRecord{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Reference:      c.Reference,
		Title:          c.Title,
		Description:    c.Description,
		Status:         c.Status,
		Severity:       c.Severity,
		Category:       c.Category,
	})
}

func (s *Service) renderCase(c store.Case) map[string]any {
	return map[string]any{
		"id":           c.ID,
		"reference":    c.Reference,
		"title":        c.Title,
		"description":  c.Description,
		"status":       c.Status,
		"severity":     c.Severity,
		"category":     c.Category,
		"assigneeId":   c.AssigneeID,
		"submissionId": c.SubmissionID,
		"properties":   c.Properties,
		"createdById":  c.CreatedBy,
		"createdAt":    c.CreatedAt,
		"updatedAt":    c.UpdatedAt,
		"closedAt":     c.ClosedAt,
	}
}

// Custom property definitions

var propertyKinds = map[string]struct{}{
	"TEXT": {}, "NUMBER": {}, "BOOLEAN": {}, "DATE": {}, "SELECT": {}, "MULTI_SELECT": {},
}

type PropertyDefinitionInput struct {
	Key      string          `json:"key"`
	Label    string          `json:"label"`
	Type     string          `json:"type"`
	Options  json.RawMessage `json:"options"`
	Required bool            `json:"required"`
}

func (s *Service) CreatePropertyDefinition(ctx context.Context, session Session, input PropertyDefinitionInput) (map[string]any, error) {
	if strings.TrimSpace(input.Key) == "" || strings.TrimSpace(input.Label) == "" {
		return nil, badRequest("key and label are required", nil)
	}
	if _, ok := propertyKinds[input.Type]; !ok {
		return nil, badRequest(fmt.Sprintf("unknown property type %q", input.Type), nil)
	}
	if (input.Type == "SELECT" || input.Type == "MULTI_SELECT") && len(input.Options) == 0 {
		return nil, badRequest("options are required for select properties", nil)
	}

	def, err := s.store.CreatePropertyDefinition(ctx, store.PropertyDefinition{
		ID:             util.NewID("prp"),
		OrganizationID: session.OrganizationID,
		Key:            strings.TrimSpace(input.Key),
		Label:          strings.TrimSpace(input.Label),
		Type:           input.Type,
		Options:        input.Options,
		Required:       input.Required,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflict(fmt.Sprintf("A property with key %q already exists", input.Key))
		}
		return nil, err
	}
	return renderPropertyDefinition(def), nil
}

func (s *Service) ListPropertyDefinitions(ctx context.Context, session Session) ([]map[string]any, error) {
	defs, err := s.store.ListPropertyDefinitions(ctx, session.OrganizationID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		items = append(items, renderPropertyDefinition(def))
	}
	return items, nil
}

func (s *Service) UpdatePropertyDefinition(ctx context.Context, session Session, id string, input PropertyDefinitionInput) (map[string]any, error) {
	if _, ok := propertyKinds[input.Type]; !ok {
		return nil, badRequest(fmt.Sprintf("unknown property type %q", input.Type), nil)
	}
	def, err := s.store.UpdatePropertyDefinition(ctx, store.PropertyDefinition{
		ID:             id,
		OrganizationID: session.OrganizationID,
		Key:            strings.TrimSpace(input.Key),
		Label:          strings.TrimSpace(input.Label),
		Type:           input.Type,
		Options:        input.Options,
		Required:       input.Required,
	})
	if err != nil {
		return nil, err
	}
	return renderPropertyDefinition(def), nil
}

func (s *Service) DeletePropertyDefinition(ctx context.Context, session Session, id string) error {
	return s.store.DeletePropertyDefinition(ctx, session.OrganizationID, id)
}

// checkProperties validates case property values against the org's
// definitions and returns the canonical JSON to store.
func (s *Service) checkProperties(ctx context.Context, orgID string, props map[string]any, enforceRequired bool) (json.RawMessage, error) {
	defs, err := s.store.ListPropertyDefinitions(ctx, orgID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]store.PropertyDefinition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}

	for key, value := range props {
		def, ok := byKey[key]
		if !ok {
			return nil, badRequest(fmt.Sprintf("unknown property %q", key), nil)
		}
		if err := checkPropertyValue(def, value); err != nil {
			return nil, err
		}
	}
	if enforceRequired {
		for _, def := range defs {
			if !def.Required {
				continue
			}
			if _, ok := props[def.Key]; !ok {
				return nil, badRequest(fmt.Sprintf("property %q is required", def.Key), nil)
			}
		}
	}

	if len(props) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	return raw, nil
}

func checkPropertyValue(def store.PropertyDefinition, value any) error {
	switch def.Type {
	case "TEXT", "DATE":
		if _, ok := value.(string); !ok {
			return badRequest(fmt.Sprintf("property %q must be a string", def.Key), nil)
		}
	case "NUMBER":
		if _, ok := value.(float64); !ok {
			return badRequest(fmt.Sprintf("property %q must be a number", def.Key), nil)
		}
	case "BOOLEAN":
		if _, ok := value.(bool); !ok {
			return badRequest(fmt.Sprintf("property %q must be a boolean", def.Key), nil)
		}
	case "SELECT":
		s, ok := value.(string)
		if !ok || !optionAllowed(def.Options, s) {
			return badRequest(fmt.Sprintf("property %q must be one of the defined options", def.Key), nil)
		}
	case "MULTI_SELECT":
		items, ok := value.([]any)
		if !ok {
			return badRequest(fmt.Sprintf("property %q must be a list", def.Key), nil)
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok || !optionAllowed(def.Options, s) {
				return badRequest(fmt.Sprintf("property %q must contain only defined options", def.Key), nil)
			}
		}
	}
	return nil
}

func optionAllowed(options json.RawMessage, value string) bool {
	var allowed []string
	if err := json.Unmarshal(options, &allowed); err != nil {
		return false
	}
	for _, opt := range allowed {
		if opt == value {
			return true
		}
	}
	return false
}

func renderPropertyDefinition(def store.PropertyDefinition) map[string]any {
	return map[string]any{
		"id":        def.ID,
		"key":       def.Key,
		"label":     def.Label,
		"type":      def.Type,
		"options":   def.Options,
		"required":  def.Required,
		"createdAt": def.CreatedAt,
		"updatedAt": def.UpdatedAt,
	}
}

// Campaigns

type CreateCampaignInput struct {
	TemplateID string     `json:"templateId"`
	Name       string     `json:"name"`
	StartsAt   *time.Time `json:"startsAt"`
	EndsAt     *time.Time `json:"endsAt"`
}

var campaignTransitions = map[string][]string{
	store.CampaignDraft:     {store.CampaignScheduled, store.CampaignActive, store.CampaignCancelled},
	store.CampaignScheduled: {store.CampaignActive, store.CampaignCancelled},
	store.CampaignActive:    {store.CampaignCompleted, store.CampaignCancelled},
}

func (s *Service) CreateCampaign(ctx context.Context, session Session, input CreateCampaignInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, badRequest("name is required", nil)
	}
	if _, err := s.store.GetTemplate(ctx, session.OrganizationID, input.TemplateID); err != nil {
		return nil, notFound("Template not found")
	}

	c, err := s.store.CreateCampaign(ctx, store.Campaign{
		ID:             util.NewID("cmp"),
		OrganizationID: session.OrganizationID,
		TemplateID:     input.TemplateID,
		Name:           strings.TrimSpace(input.Name),
		Status:         store.CampaignDraft,
		StartsAt:       input.StartsAt,
		EndsAt:         input.EndsAt,
	})
	if err != nil {
		return nil, err
	}
	return renderCampaign(c), nil
}

func (s *Service) ListCampaigns(ctx context.Context, session Session) ([]map[string]any, error) {
	campaigns, err := s.store.ListCampaigns(ctx, session.OrganizationID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, renderCampaign(c))
	}
	return items, nil
}

func (s *Service) UpdateCampaignStatus(ctx context.Context, session Session, id, status string) (map[string]any, error) {
	c, err := s.store.GetCampaign(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, next := range campaignTransitions[c.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, badRequest(fmt.Sprintf("cannot move campaign from %s to %s", c.Status, status), nil)
	}

	if err := s.store.UpdateCampaignStatus(ctx, session.OrganizationID, id, status); err != nil {
		return nil, err
	}
	c.Status = status
	return renderCampaign(c), nil
}

func renderCampaign(c store.Campaign) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"templateId": c.TemplateID,
		"name":       c.Name,
		"status":     c.Status,
		"startsAt":   c.StartsAt,
		"endsAt":     c.EndsAt,
		"createdAt":  c.CreatedAt,
		"updatedAt":  c.UpdatedAt,
	}
}
