package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"attest/api/internal/config"
	"attest/api/internal/export"
	"attest/api/internal/store"
)

// fakeStore is an in-memory dataStore with the same contract as the
// Postgres implementation: org-scoped lookups, ErrNotFound for rows in
// other organizations, ErrDuplicate on unique collisions.
type fakeStore struct {
	mu sync.Mutex

	orgs        map[string]store.Organization
	users       map[string]store.User
	templates   map[string]store.FormTemplate
	cases       map[string]store.Case
	events      []store.CaseEvent
	props       map[string]store.PropertyDefinition
	submissions map[string]store.Submission
	campaigns   map[string]store.Campaign
	attachments map[string]store.Attachment
	resets      map[string]passwordReset
	caseSeq     map[string]int
}

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:        map[string]store.Organization{},
		users:       map[string]store.User{},
		templates:   map[string]store.FormTemplate{},
		cases:       map[string]store.Case{},
		props:       map[string]store.PropertyDefinition{},
		submissions: map[string]store.Submission{},
		campaigns:   map[string]store.Campaign{},
		attachments: map[string]store.Attachment{},
		resets:      map[string]passwordReset{},
		caseSeq:     map[string]int{},
	}
}

func (f *fakeStore) CreateOrganization(_ context.Context, org store.Organization) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.orgs {
		if existing.Slug == org.Slug {
			return store.Organization{}, store.ErrDuplicate
		}
	}
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt
	f.orgs[org.ID] = org
	return org, nil
}

func (f *fakeStore) GetOrganization(_ context.Context, id string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[id]
	if !ok {
		return store.Organization{}, store.ErrNotFound
	}
	return org, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrDuplicate
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) && user.DeactivatedAt == nil {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) ListUsersByRole(_ context.Context, orgID, role string) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []store.User
	for _, user := range f.users {
		if user.OrganizationID == orgID && user.Role == role && user.DeactivatedAt == nil {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", store.ErrNotFound
	}
	return reset.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[token]
	if ok {
		reset.used = true
		f.resets[token] = reset
	}
	return nil
}

// Templates

func (f *fakeStore) CreateTemplate(_ context.Context, t store.FormTemplate) (store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.templates {
		if existing.OrganizationID != t.OrganizationID || existing.Name != t.Name {
			continue
		}
		if existing.Version == t.Version || (existing.Version == 1 && t.Version == 1) {
			return store.FormTemplate{}, store.ErrDuplicate
		}
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	f.templates[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, orgID, id string) (store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getTemplateLocked(orgID, id)
}

func (f *fakeStore) getTemplateLocked(orgID, id string) (store.FormTemplate, error) {
	t, ok := f.templates[id]
	if !ok || t.OrganizationID != orgID {
		return store.FormTemplate{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTemplates(_ context.Context, orgID string, filter store.TemplateFilter) ([]store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var templates []store.FormTemplate
	for _, t := range f.templates {
		if t.OrganizationID != orgID {
			continue
		}
		if filter.Status != "" {
			if t.Status != filter.Status {
				continue
			}
		} else if !filter.IncludeArchived && t.Status == store.TemplateArchived {
			continue
		}
		if filter.DisclosureType != "" && t.DisclosureType != filter.DisclosureType {
			continue
		}
		if filter.Language != "" && t.Language != filter.Language {
			continue
		}
		if !filter.IncludeTranslations && t.ParentTemplateID != nil {
			continue
		}
		if filter.Query != "" {
			q := strings.ToLower(filter.Query)
			if !strings.Contains(strings.ToLower(t.Name), q) &&
				!strings.Contains(strings.ToLower(t.Description), q) {
				continue
			}
		}
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Name != templates[j].Name {
			return templates[i].Name < templates[j].Name
		}
		return templates[i].Version > templates[j].Version
	})
	return templates, nil
}

func (f *fakeStore) UpdateTemplate(_ context.Context, t store.FormTemplate) (store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.templates[t.ID]
	if !ok || existing.OrganizationID != t.OrganizationID {
		return store.FormTemplate{}, store.ErrNotFound
	}
	for _, other := range f.templates {
		if other.ID != t.ID && other.OrganizationID == t.OrganizationID &&
			other.Name == t.Name && other.Version == existing.Version {
			return store.FormTemplate{}, store.ErrDuplicate
		}
	}
	existing.Name = t.Name
	existing.Description = t.Description
	existing.DisclosureType = t.DisclosureType
	existing.Language = t.Language
	existing.Schema = t.Schema
	existing.UpdatedAt = time.Now()
	f.templates[t.ID] = existing
	return existing, nil
}

func (f *fakeStore) DeleteTemplate(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.getTemplateLocked(orgID, id); err != nil {
		return err
	}
	delete(f.templates, id)
	return nil
}

func (f *fakeStore) ArchiveTemplate(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.getTemplateLocked(orgID, id)
	if err != nil {
		return err
	}
	t.Status = store.TemplateArchived
	t.UpdatedAt = time.Now()
	f.templates[id] = t
	return nil
}

func (f *fakeStore) GetTemplateUsage(_ context.Context, orgID, id string) (store.TemplateUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var usage store.TemplateUsage
	for _, sub := range f.submissions {
		if sub.OrganizationID == orgID && sub.TemplateID == id {
			usage.Submissions++
		}
	}
	for _, c := range f.campaigns {
		if c.OrganizationID != orgID || c.TemplateID != id {
			continue
		}
		switch c.Status {
		case store.CampaignDraft, store.CampaignScheduled, store.CampaignActive:
			usage.ActiveCampaigns++
		}
	}
	for _, t := range f.templates {
		if t.OrganizationID == orgID && t.ParentTemplateID != nil && *t.ParentTemplateID == id {
			usage.Translations++
		}
	}
	return usage, nil
}

func (f *fakeStore) PublishTemplate(_ context.Context, orgID, id, newID, publishedBy string, forceNewVersion bool) (store.FormTemplate, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.getTemplateLocked(orgID, id)
	if err != nil {
		return store.FormTemplate{}, false, err
	}
	if current.Status == store.TemplateArchived {
		return store.FormTemplate{}, false, store.ErrArchivedTemplate
	}

	submissions := 0
	for _, sub := range f.submissions {
		if sub.OrganizationID == orgID && sub.TemplateID == id {
			submissions++
		}
	}

	now := time.Now()
	fork := forceNewVersion || (current.Status == store.TemplatePublished && submissions > 0)
	if !fork {
		if current.Status == store.TemplatePublished {
			return current, false, nil
		}
		current.Status = store.TemplatePublished
		current.PublishedAt = &now
		current.PublishedBy = publishedBy
		current.UpdatedAt = now
		f.templates[id] = current
		return current, false, nil
	}

	forked := current
	forked.ID = newID
	forked.Version = current.Version + 1
	forked.Status = store.TemplatePublished
	forked.PublishedAt = &now
	forked.PublishedBy = publishedBy
	forked.CreatedAt = now
	forked.UpdatedAt = now
	f.templates[newID] = forked

	current.Status = store.TemplateArchived
	current.UpdatedAt = now
	f.templates[id] = current

	// Translations follow the family head, matching the Postgres fork tx.
	for childID, child := range f.templates {
		if child.OrganizationID == orgID && child.ParentTemplateID != nil && *child.ParentTemplateID == id {
			child.ParentTemplateID = &forked.ID
			child.UpdatedAt = now
			f.templates[childID] = child
		}
	}
	return forked, true, nil
}

func (f *fakeStore) ListVersions(_ context.Context, orgID, id string) ([]store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.getTemplateLocked(orgID, id)
	if err != nil {
		return nil, nil
	}
	var versions []store.FormTemplate
	for _, t := range f.templates {
		if t.OrganizationID == orgID && t.Name == target.Name {
			versions = append(versions, t)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	return versions, nil
}

func (f *fakeStore) ListTranslations(_ context.Context, orgID, id string) ([]store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var children []store.FormTemplate
	for _, t := range f.templates {
		if t.OrganizationID == orgID && t.ParentTemplateID != nil && *t.ParentTemplateID == id {
			children = append(children, t)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Language != children[j].Language {
			return children[i].Language < children[j].Language
		}
		return children[i].Version > children[j].Version
	})
	return children, nil
}

func (f *fakeStore) GetPublishedTemplate(_ context.Context, orgID, name, language string) (store.FormTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best store.FormTemplate
	found := false
	for _, t := range f.templates {
		if t.OrganizationID != orgID || t.Name != name || t.Status != store.TemplatePublished {
			continue
		}
		if language != "" && t.Language != language {
			continue
		}
		if !found || t.Version > best.Version {
			best = t
			found = true
		}
	}
	if !found {
		return store.FormTemplate{}, store.ErrNotFound
	}
	return best, nil
}

// Cases

func (f *fakeStore) CreateCase(_ context.Context, c store.Case) (store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.cases[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCase(_ context.Context, orgID, id string) (store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok || c.OrganizationID != orgID {
		return store.Case{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCases(_ context.Context, orgID string, filter store.CaseFilter) ([]store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cases []store.Case
	for _, c := range f.cases {
		if c.OrganizationID != orgID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && c.Severity != filter.Severity {
			continue
		}
		if filter.AssigneeID != "" && (c.AssigneeID == nil || *c.AssigneeID != filter.AssigneeID) {
			continue
		}
		if filter.Query != "" {
			q := strings.ToLower(filter.Query)
			if !strings.Contains(strings.ToLower(c.Title), q) &&
				!strings.Contains(strings.ToLower(c.Reference), q) {
				continue
			}
		}
		cases = append(cases, c)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Reference < cases[j].Reference })
	return cases, nil
}

func (f *fakeStore) UpdateCase(_ context.Context, c store.Case) (store.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.cases[c.ID]
	if !ok || existing.OrganizationID != c.OrganizationID {
		return store.Case{}, store.ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()
	f.cases[c.ID] = c
	return c, nil
}

func (f *fakeStore) NextCaseReference(_ context.Context, orgID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caseSeq[orgID]++
	return fmt.Sprintf("CASE-%06d", f.caseSeq[orgID]), nil
}

func (f *fakeStore) AppendCaseEvent(_ context.Context, event store.CaseEvent) (store.CaseEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage("{}")
	}
	event.CreatedAt = time.Now()
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeStore) ListCaseEvents(_ context.Context, orgID, caseID string) ([]store.CaseEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []store.CaseEvent
	for _, e := range f.events {
		if e.OrganizationID == orgID && e.CaseID == caseID {
			events = append(events, e)
		}
	}
	return events, nil
}

// Property definitions

func (f *fakeStore) CreatePropertyDefinition(_ context.Context, def store.PropertyDefinition) (store.PropertyDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.props {
		if existing.OrganizationID == def.OrganizationID && existing.Key == def.Key {
			return store.PropertyDefinition{}, store.ErrDuplicate
		}
	}
	def.CreatedAt = time.Now()
	def.UpdatedAt = def.CreatedAt
	f.props[def.ID] = def
	return def, nil
}

func (f *fakeStore) ListPropertyDefinitions(_ context.Context, orgID string) ([]store.PropertyDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var defs []store.PropertyDefinition
	for _, def := range f.props {
		if def.OrganizationID == orgID {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs, nil
}

func (f *fakeStore) UpdatePropertyDefinition(_ context.Context, def store.PropertyDefinition) (store.PropertyDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.props[def.ID]
	if !ok || existing.OrganizationID != def.OrganizationID {
		return store.PropertyDefinition{}, store.ErrNotFound
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	f.props[def.ID] = def
	return def, nil
}

func (f *fakeStore) DeletePropertyDefinition(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.props[id]
	if !ok || def.OrganizationID != orgID {
		return store.ErrNotFound
	}
	delete(f.props, id)
	return nil
}

// Submissions

func (f *fakeStore) CreateSubmission(_ context.Context, sub store.Submission) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	f.submissions[sub.ID] = sub
	return sub, nil
}

func (f *fakeStore) GetSubmission(_ context.Context, orgID, id string) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok || sub.OrganizationID != orgID {
		return store.Submission{}, store.ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) GetSubmissionByAccessKeyHash(_ context.Context, hash string) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.submissions {
		if sub.AccessKeyHash == hash {
			return sub, nil
		}
	}
	return store.Submission{}, store.ErrNotFound
}

func (f *fakeStore) ListSubmissionsByTemplate(_ context.Context, orgID, templateID string) ([]store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []store.Submission
	for _, sub := range f.submissions {
		if sub.OrganizationID == orgID && sub.TemplateID == templateID {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.Before(subs[j].SubmittedAt) })
	return subs, nil
}

func (f *fakeStore) LinkSubmissionToCase(_ context.Context, orgID, subID, caseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[subID]
	if !ok || sub.OrganizationID != orgID {
		return store.ErrNotFound
	}
	sub.CaseID = &caseID
	f.submissions[subID] = sub
	return nil
}

// Campaigns

func (f *fakeStore) CreateCampaign(_ context.Context, c store.Campaign) (store.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.campaigns[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetCampaign(_ context.Context, orgID, id string) (store.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return store.Campaign{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCampaigns(_ context.Context, orgID string) ([]store.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var campaigns []store.Campaign
	for _, c := range f.campaigns {
		if c.OrganizationID == orgID {
			campaigns = append(campaigns, c)
		}
	}
	sort.Slice(campaigns, func(i, j int) bool { return campaigns[i].Name < campaigns[j].Name })
	return campaigns, nil
}

func (f *fakeStore) UpdateCampaignStatus(_ context.Context, orgID, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return store.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	f.campaigns[id] = c
	return nil
}

// Attachments

func (f *fakeStore) CreateAttachment(_ context.Context, att store.Attachment) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	att.CreatedAt = time.Now()
	f.attachments[att.ID] = att
	return att, nil
}

func (f *fakeStore) ListAttachments(_ context.Context, orgID, submissionID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var atts []store.Attachment
	for _, att := range f.attachments {
		if att.OrganizationID == orgID && att.SubmissionID == submissionID {
			atts = append(atts, att)
		}
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].FileName < atts[j].FileName })
	return atts, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore, deps Deps) *Service {
	s := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			CORSOrigin: "http://localhost:3000",
		},
		store:    fs,
		sessions: deps.Sessions,
		authpw:   deps.AuthPW,
		cache:    deps.Cache,
		archive:  deps.Archive,
		search:   deps.Search,
		objects:  deps.Objects,
		email:    deps.Email,
		triage:   deps.Triage,
	}
	s.exporter = export.NewService(&exportAdapter{store: fs})
	return s
}

func testSession(orgID string) Session {
	return Session{
		UserID:         "usr_test",
		UserName:       "Jordan",
		OrganizationID: orgID,
		Role:           "COMPLIANCE_OFFICER",
	}
}
