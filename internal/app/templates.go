package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"attest/api/internal/archive"
	"attest/api/internal/export"
	"attest/api/internal/forms"
	"attest/api/internal/search"
	"attest/api/internal/store"
	"attest/api/internal/util"
)

type CreateTemplateInput struct {
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	DisclosureType   string                  `json:"disclosureType"`
	Language         string                  `json:"language"`
	ParentTemplateID *string                 `json:"parentTemplateId"`
	Fields           []forms.Field           `json:"fields"`
	Sections         []forms.Section         `json:"sections"`
	ValidationRules  []forms.ValidationRule  `json:"validationRules"`
	CalculatedFields []forms.CalculatedField `json:"calculatedFields"`
	UISchema         json.RawMessage         `json:"uiSchema"`
}

// UpdateTemplateInput uses pointers throughout so callers can update a
// field to its zero value; a nil pointer means "leave untouched".
type UpdateTemplateInput struct {
	Name             *string                  `json:"name"`
	Description      *string                  `json:"description"`
	DisclosureType   *string                  `json:"disclosureType"`
	Language         *string                  `json:"language"`
	Fields           *[]forms.Field           `json:"fields"`
	Sections         *[]forms.Section         `json:"sections"`
	ValidationRules  *[]forms.ValidationRule  `json:"validationRules"`
	CalculatedFields *[]forms.CalculatedField `json:"calculatedFields"`
	UISchema         json.RawMessage          `json:"uiSchema"`
}

type CloneTemplateInput struct {
	Name          string `json:"name"`
	Language      string `json:"language"`
	AsTranslation bool   `json:"asTranslation"`
}

type TemplateListQuery struct {
	DisclosureType      string
	Status              string
	Language            string
	Search              string
	IncludeTranslations bool
	IncludeArchived     bool
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, input CreateTemplateInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, badRequest("name is required", nil)
	}
	if strings.TrimSpace(input.DisclosureType) == "" {
		return nil, badRequest("disclosureType is required", nil)
	}
	language := input.Language
	if language == "" {
		language = "en"
	}

	schema := forms.Schema{
		Fields:           input.Fields,
		Sections:         input.Sections,
		ValidationRules:  input.ValidationRules,
		CalculatedFields: input.CalculatedFields,
		UISchema:         input.UISchema,
	}
	if errs := forms.Validate(schema); len(errs) > 0 {
		return nil, badRequest("invalid form schema", schemaErrorDetails(errs))
	}

	if input.ParentTemplateID != nil {
		parent, err := s.store.GetTemplate(ctx, session.OrganizationID, *input.ParentTemplateID)
		if err != nil {
			return nil, notFound("Parent template not found")
		}
		if parent.DisclosureType != input.DisclosureType {
			return nil, badRequest("translation must share the parent's disclosure type", nil)
		}
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	created, err := s.store.CreateTemplate(ctx, store.FormTemplate{
		ID:               util.NewID("tpl"),
		OrganizationID:   session.OrganizationID,
		Name:             name,
		Description:      input.Description,
		DisclosureType:   input.DisclosureType,
		Status:           store.TemplateDraft,
		Version:          1,
		Language:         language,
		ParentTemplateID: input.ParentTemplateID,
		Schema:           raw,
		CreatedBy:        session.UserID,
	})
	if err != nil {
		if mapped := mapStoreConflict(err, name); mapped != nil {
			return nil, mapped
		}
		return nil, err
	}

	s.indexTemplate(created)
	return s.renderTemplateDetail(ctx, created)
}

func (s *Service) ListTemplates(ctx context.Context, session Session, query TemplateListQuery) ([]map[string]any, error) {
	templates, err := s.store.ListTemplates(ctx, session.OrganizationID, store.TemplateFilter{
		DisclosureType:      query.DisclosureType,
		Status:              query.Status,
		Language:            query.Language,
		Query:               query.Search,
		IncludeTranslations: query.IncludeTranslations,
		IncludeArchived:     query.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		items = append(items, s.renderTemplateSummary(t))
	}
	return items, nil
}

func (s *Service) GetTemplate(ctx context.Context, session Session, id string) (map[string]any, error) {
	t, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	return s.renderTemplateDetail(ctx, t)
}

func (s *Service) UpdateTemplate(ctx context.Context, session Session, id string, input UpdateTemplateInput) (map[string]any, error) {
	t, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if t.Status == store.TemplateArchived {
		return nil, badRequest("archived templates cannot be edited", nil)
	}
	if t.Status == store.TemplatePublished {
		usage, err := s.store.GetTemplateUsage(ctx, session.OrganizationID, id)
		if err != nil {
			return nil, err
		}
		if usage.Submissions > 0 {
			return nil, badRequest("published template has submissions; publish a new version instead", nil)
		}
	}

	oldName := t.Name
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, badRequest("name cannot be empty", nil)
		}
		t.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		t.Description = *input.Description
	}
	if input.DisclosureType != nil {
		t.DisclosureType = *input.DisclosureType
	}
	if input.Language != nil {
		t.Language = *input.Language
	}

	var schema forms.Schema
	if err := json.Unmarshal(t.Schema, &schema); err != nil {
		return nil, fmt.Errorf("decode stored schema: %w", err)
	}
	if input.Fields != nil {
		schema.Fields = *input.Fields
	}
	if input.Sections != nil {
		schema.Sections = *input.Sections
	}
	if input.ValidationRules != nil {
		schema.ValidationRules = *input.ValidationRules
	}
	if input.CalculatedFields != nil {
		schema.CalculatedFields = *input.CalculatedFields
	}
	if input.UISchema != nil {
		schema.UISchema = input.UISchema
	}
	if errs := forms.Validate(schema); len(errs) > 0 {
		return nil, badRequest("invalid form schema", schemaErrorDetails(errs))
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	t.Schema = raw

	updated, err := s.store.UpdateTemplate(ctx, t)
	if err != nil {
		if mapped := mapStoreConflict(err, t.Name); mapped != nil {
			return nil, mapped
		}
		return nil, err
	}

	s.invalidateFamily(ctx, session.OrganizationID, oldName)
	if updated.Name != oldName {
		s.invalidateFamily(ctx, session.OrganizationID, updated.Name)
	}
	s.indexTemplate(updated)
	return s.renderTemplateDetail(ctx, updated)
}

func (s *Service) DeleteTemplate(ctx context.Context, session Session, id string) error {
	t, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return err
	}
	if t.Status != store.TemplateDraft {
		return badRequest("only draft templates can be deleted", nil)
	}
	usage, err := s.store.GetTemplateUsage(ctx, session.OrganizationID, id)
	if err != nil {
		return err
	}
	if usage.Submissions > 0 {
		return badRequest("template has submissions and cannot be deleted", nil)
	}
	if usage.Translations > 0 {
		return badRequest("template has translations and cannot be deleted", nil)
	}

	if err := s.store.DeleteTemplate(ctx, session.OrganizationID, id); err != nil {
		return err
	}
	s.invalidateFamily(ctx, session.OrganizationID, t.Name)
	if s.search != nil {
		s.search.DeleteTemplate(id)
	}
	return nil
}

// PublishTemplate runs the in-place-or-fork decision inside a single
// store transaction and returns the now-current row's id and version.
func (s *Service) PublishTemplate(ctx context.Context, session Session, id string, createNewVersion bool) (map[string]any, error) {
	current, forked, err := s.store.PublishTemplate(ctx, session.OrganizationID, id, util.NewID("tpl"), session.UserID, createNewVersion)
	if err != nil {
		return nil, err
	}

	s.invalidateFamily(ctx, session.OrganizationID, current.Name)
	s.indexTemplate(current)
	if forked {
		// The demoted prior version keeps its id; refresh its index entry.
		if versions, err := s.store.ListVersions(ctx, session.OrganizationID, current.ID); err == nil {
			for _, v := range versions {
				if v.ID != current.ID {
					s.indexTemplate(v)
				}
			}
		}
	}

	if s.archive != nil {
		t := current
		go func() {
			if _, err := s.archive.RecordPublish(t.OrganizationID, t); err != nil {
				log.Printf("archive publish %s v%d: %v", t.Name, t.Version, err)
			}
		}()
	}

	return map[string]any{"id": current.ID, "version": current.Version}, nil
}

func (s *Service) CloneTemplate(ctx context.Context, session Session, id string, input CloneTemplateInput) (map[string]any, error) {
	source, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, badRequest("name is required", nil)
	}

	language := input.Language
	var parentID *string
	description := "Cloned from: " + source.Name
	if input.AsTranslation {
		if language == "" {
			return nil, badRequest("language is required when cloning as a translation", nil)
		}
		if source.ParentTemplateID != nil {
			return nil, badRequest("cannot create a translation of a translation", nil)
		}
		parentID = &source.ID
		description = "Translation of: " + source.Name
	} else if language == "" {
		language = source.Language
	}
	if source.Description != "" {
		description += ". " + source.Description
	}

	schemaCopy := make(json.RawMessage, len(source.Schema))
	copy(schemaCopy, source.Schema)

	created, err := s.store.CreateTemplate(ctx, store.FormTemplate{
		ID:               util.NewID("tpl"),
		OrganizationID:   session.OrganizationID,
		Name:             name,
		Description:      description,
		DisclosureType:   source.DisclosureType,
		Status:           store.TemplateDraft,
		Version:          1,
		Language:         language,
		ParentTemplateID: parentID,
		Schema:           schemaCopy,
		CreatedBy:        session.UserID,
	})
	if err != nil {
		if mapped := mapStoreConflict(err, name); mapped != nil {
			return nil, mapped
		}
		return nil, err
	}

	s.indexTemplate(created)
	return s.renderTemplateDetail(ctx, created)
}

func (s *Service) ArchiveTemplate(ctx context.Context, session Session, id string) error {
	t, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return err
	}
	usage, err := s.store.GetTemplateUsage(ctx, session.OrganizationID, id)
	if err != nil {
		return err
	}
	if usage.ActiveCampaigns > 0 {
		return badRequest(
			fmt.Sprintf("template is referenced by %d active campaign(s)", usage.ActiveCampaigns),
			map[string]any{"activeCampaigns": usage.ActiveCampaigns},
		)
	}

	if err := s.store.ArchiveTemplate(ctx, session.OrganizationID, id); err != nil {
		return err
	}
	s.invalidateFamily(ctx, session.OrganizationID, t.Name)
	t.Status = store.TemplateArchived
	s.indexTemplate(t)
	return nil
}

func (s *Service) ListVersions(ctx context.Context, session Session, id string) ([]map[string]any, error) {
	versions, err := s.store.ListVersions(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		summary := "Initial version"
		if v.Version > 1 {
			summary = fmt.Sprintf("Version %d", v.Version)
		}
		items = append(items, map[string]any{
			"id":             v.ID,
			"version":        v.Version,
			"status":         v.Status,
			"fieldCount":     fieldCount(v.Schema),
			"changesSummary": summary,
			"publishedAt":    v.PublishedAt,
			"publishedBy":    v.PublishedBy,
			"createdAt":      v.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) ListTranslations(ctx context.Context, session Session, id string) ([]map[string]any, error) {
	parent, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	children, err := s.store.ListTranslations(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(children))
	for _, child := range children {
		item := s.renderTemplateSummary(child)
		item["isStale"] = parent.Version > child.Version
		item["parentVersion"] = parent.Version
		items = append(items, item)
	}
	return items, nil
}

// GetPublishedTemplate serves the current published version of a family,
// via the Redis cache when one is wired.
func (s *Service) GetPublishedTemplate(ctx context.Context, session Session, name, language string) (map[string]any, error) {
	t, err := s.publishedTemplate(ctx, session.OrganizationID, name, language)
	if err != nil {
		return nil, err
	}
	return s.renderTemplateDetail(ctx, t)
}

func (s *Service) publishedTemplate(ctx context.Context, orgID, name, language string) (store.FormTemplate, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.GetPublished(ctx, orgID, name, language); err == nil && ok {
			return cached, nil
		}
	}

	t, err := s.store.GetPublishedTemplate(ctx, orgID, name, language)
	if err != nil {
		return store.FormTemplate{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetPublished(ctx, language, t); err != nil {
			log.Printf("cache published template %s: %v", name, err)
		}
	}
	return t, nil
}

func (s *Service) TemplateHistory(ctx context.Context, session Session, id string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return nil, nil
	}
	t, err := s.store.GetTemplate(ctx, session.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	return s.archive.History(session.OrganizationID, t.Name, limit)
}

func (s *Service) ExportTemplateSubmissions(ctx context.Context, session Session, id string) (*export.Result, error) {
	if _, err := s.store.GetTemplate(ctx, session.OrganizationID, id); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		OrganizationID: session.OrganizationID,
		TemplateID:     id,
		Format:         export.FormatCSV,
	})
}

func (s *Service) invalidateFamily(ctx context.Context, orgID, name string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orgID, name); err != nil {
		log.Printf("invalidate template cache %s: %v", name, err)
	}
}

func (s *Service) indexTemplate(t store.FormTemplate) {
	if s.search == nil {
		return
	}
	s.search.IndexTemplate(search.TemplateRecord{
		ID:             t.ID,
		OrganizationID: t.OrganizationID,
		Name:           t.Name,
		Description:    t.Description,
		DisclosureType: t.DisclosureType,
		Status:         t.Status,
		Language:       t.Language,
		Version:        t.Version,
	})
}

func (s *Service) renderTemplateSummary(t store.FormTemplate) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"name":             t.Name,
		"description":      t.Description,
		"disclosureType":   t.DisclosureType,
		"status":           t.Status,
		"version":          t.Version,
		"language":         t.Language,
		"parentTemplateId": t.ParentTemplateID,
		"isSystem":         t.IsSystem,
		"fieldCount":       fieldCount(t.Schema),
		"sectionCount":     sectionCount(t.Schema),
		"publishedAt":      t.PublishedAt,
		"createdAt":        t.CreatedAt,
		"updatedAt":        t.UpdatedAt,
	}
}

func (s *Service) renderTemplateDetail(ctx context.Context, t store.FormTemplate) (map[string]any, error) {
	var schema forms.Schema
	if len(t.Schema) > 0 {
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("decode stored schema: %w", err)
		}
	}

	usage, err := s.store.GetTemplateUsage(ctx, t.OrganizationID, t.ID)
	if err != nil {
		return nil, err
	}

	item := map[string]any{
		"id":               t.ID,
		"name":             t.Name,
		"description":      t.Description,
		"disclosureType":   t.DisclosureType,
		"status":           t.Status,
		"version":          t.Version,
		"language":         t.Language,
		"parentTemplateId": t.ParentTemplateID,
		"isSystem":         t.IsSystem,
		"fields":           schema.Fields,
		"sections":         schema.Sections,
		"validationRules":  schema.ValidationRules,
		"calculatedFields": schema.CalculatedFields,
		"uiSchema":         schema.UISchema,
		"publishedAt":      t.PublishedAt,
		"publishedBy":      t.PublishedBy,
		"createdById":      t.CreatedBy,
		"createdAt":        t.CreatedAt,
		"updatedAt":        t.UpdatedAt,
		"submissionCount":  usage.Submissions,
		"translationCount": usage.Translations,
		"isStale":          false,
	}

	if t.ParentTemplateID != nil {
		parent, err := s.store.GetTemplate(ctx, t.OrganizationID, *t.ParentTemplateID)
		if err == nil {
			item["parentVersion"] = parent.Version
			item["isStale"] = parent.Version > t.Version
		}
	}
	return item, nil
}

func schemaErrorDetails(errs []forms.SchemaError) []map[string]string {
	details := make([]map[string]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, map[string]string{"path": e.Path, "message": e.Message})
	}
	return details
}

func mapStoreConflict(err error, name string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return conflict(fmt.Sprintf("A template named %q already exists", name))
	}
	return nil
}

func fieldCount(schema json.RawMessage) int {
	var partial struct {
		Fields []json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(schema, &partial); err != nil {
		return 0
	}
	return len(partial.Fields)
}

func sectionCount(schema json.RawMessage) int {
	var partial struct {
		Sections []json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal(schema, &partial); err != nil {
		return 0
	}
	return len(partial.Sections)
}
