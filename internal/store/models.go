package store

import (
	"encoding/json"
	"time"
)

type Organization struct {
	ID        string
	Name      string
	Slug      string
	Settings  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID             string
	OrganizationID string
	DisplayName    string
	Email          string
	PasswordHash   string
	Role           string
	DeactivatedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Template lifecycle states.
const (
	TemplateDraft     = "DRAFT"
	TemplatePublished = "PUBLISHED"
	TemplateArchived  = "ARCHIVED"
)

// FormTemplate is one version of a disclosure form. All versions of a form
// share a name within the organization; the version 1 row anchors the
// uniqueness constraint. ParentTemplateID links a translation child back to
// its master template, one level deep.
type FormTemplate struct {
	ID               string
	OrganizationID   string
	Name             string
	Description      string
	DisclosureType   string
	Status           string
	Version          int
	Language         string
	ParentTemplateID *string
	IsSystem         bool
	Schema           json.RawMessage
	PublishedAt      *time.Time
	PublishedBy      string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TemplateFilter narrows ListTemplates. Zero values mean "any", except that
// archived rows and translation children are excluded unless asked for.
type TemplateFilter struct {
	DisclosureType      string
	Status              string
	Language            string
	Query               string
	IncludeTranslations bool
	IncludeArchived     bool
}

// TemplateUsage reports what depends on a template version. Deletion,
// archival, and publish forking are decided from these counts.
type TemplateUsage struct {
	Submissions     int
	ActiveCampaigns int
	Translations    int
}

type Submission struct {
	ID              string
	OrganizationID  string
	TemplateID      string
	TemplateVersion int
	CampaignID      *string
	CaseID          *string
	SubmitterID     *string
	AccessKeyHash   string
	Answers         json.RawMessage
	SubmittedAt     time.Time
}

// Campaign lifecycle states. A template referenced by a campaign in any of
// the first three states cannot be archived.
const (
	CampaignDraft     = "DRAFT"
	CampaignScheduled = "SCHEDULED"
	CampaignActive    = "ACTIVE"
	CampaignCompleted = "COMPLETED"
	CampaignCancelled = "CANCELLED"
)

type Campaign struct {
	ID             string
	OrganizationID string
	TemplateID     string
	Name           string
	Status         string
	StartsAt       *time.Time
	EndsAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Case lifecycle states.
const (
	CaseNew           = "NEW"
	CaseTriage        = "TRIAGE"
	CaseInvestigating = "INVESTIGATING"
	CaseResolved      = "RESOLVED"
	CaseClosed        = "CLOSED"
)

type Case struct {
	ID             string
	OrganizationID string
	Reference      string
	Title          string
	Description    string
	Status         string
	Severity       string
	Category       string
	AssigneeID     *string
	SubmissionID   *string
	Properties     json.RawMessage
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// CaseFilter narrows ListCases. Zero values mean "any".
type CaseFilter struct {
	Status     string
	Severity   string
	AssigneeID string
	Query      string
}

// CaseEvent is one append-only timeline entry: a status change, a note, an
// assignment, or a triage result.
type CaseEvent struct {
	ID             string
	CaseID         string
	OrganizationID string
	Type           string
	Actor          string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// PropertyDefinition declares an organization-defined custom field that can
// be set on cases.
type PropertyDefinition struct {
	ID             string
	OrganizationID string
	Key            string
	Label          string
	Type           string
	Options        json.RawMessage
	Required       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Attachment struct {
	ID             string
	OrganizationID string
	SubmissionID   string
	ObjectKey      string
	FileName       string
	ContentType    string
	Size           int64
	CreatedAt      time.Time
}
