package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"attest/api/internal/archive"
	"attest/api/internal/search"
	"attest/api/internal/store"
	"attest/api/internal/triage"
)

type fakeCache struct {
	mu            sync.Mutex
	entries       map[string]store.FormTemplate
	hits          int
	sets          int
	invalidations int
}

func cacheKey(orgID, name, language string) string {
	return orgID + "|" + name + "|" + language
}

func (c *fakeCache) GetPublished(_ context.Context, orgID, name, language string) (store.FormTemplate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[cacheKey(orgID, name, language)]
	if ok {
		c.hits++
	}
	return t, ok, nil
}

func (c *fakeCache) SetPublished(_ context.Context, language string, t store.FormTemplate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[cacheKey(t.OrganizationID, t.Name, language)] = t
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, orgID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	prefix := orgID + "|" + name + "|"
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	return nil
}

type fakeSearch struct {
	mu        sync.Mutex
	templates map[string]search.TemplateRecord
	cases     map[string]search.CaseRecord
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		templates: map[string]search.TemplateRecord{},
		cases:     map[string]search.CaseRecord{},
	}
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := search.Response{Results: []search.Result{}, Query: q.Text}
	for _, t := range f.templates {
		if t.OrganizationID == q.OrganizationID {
			resp.Results = append(resp.Results, search.Result{ID: t.ID, Type: search.ResultTemplate, Title: t.Name})
		}
	}
	for _, c := range f.cases {
		if c.OrganizationID == q.OrganizationID {
			resp.Results = append(resp.Results, search.Result{ID: c.ID, Type: search.ResultCase, Title: c.Title})
		}
	}
	resp.Total = len(resp.Results)
	return resp
}

func (f *fakeSearch) IndexTemplate(t search.TemplateRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[t.ID] = t
}

func (f *fakeSearch) IndexCase(c search.CaseRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cases[c.ID] = c
}

func (f *fakeSearch) DeleteTemplate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.templates, id)
}

func (f *fakeSearch) DeleteCase(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cases, id)
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]store.User{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

type archivedCommit struct {
	name string
	info archive.CommitInfo
}

type fakeArchive struct {
	mu      sync.Mutex
	commits []archivedCommit
}

func (f *fakeArchive) RecordPublish(_ string, t store.FormTemplate) (archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := archive.CommitInfo{
		Hash:      fmt.Sprintf("%08x", len(f.commits)+1),
		Message:   fmt.Sprintf("Publish %s v%d", t.Name, t.Version),
		Author:    "attest",
		CreatedAt: time.Now(),
	}
	f.commits = append(f.commits, archivedCommit{name: t.Name, info: info})
	return info, nil
}

func (f *fakeArchive) History(_, name string, limit int) ([]archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []archive.CommitInfo
	for i := len(f.commits) - 1; i >= 0; i-- {
		if f.commits[i].name == name {
			out = append(out, f.commits[i].info)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) Put(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey] = data
	return nil
}

func (f *fakeObjects) PresignedURL(_ context.Context, objectKey, _ string, _ time.Duration) (string, error) {
	return "https://objects.test/" + objectKey, nil
}

type sentMail struct {
	kind string
	to   string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendNewReportEmail(to []string, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, addr := range to {
		f.sent = append(f.sent, sentMail{kind: "new_report", to: addr})
	}
	return nil
}

func (f *fakeMailer) SendPasswordResetEmail(to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "password_reset", to: to})
	return nil
}

func (f *fakeMailer) SendCaseAssignedEmail(to, _, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "case_assigned", to: to})
	return nil
}

func (f *fakeMailer) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.kind == kind {
			n++
		}
	}
	return n
}

type fakeTriage struct {
	suggestion triage.Suggestion
}

func (f *fakeTriage) Suggest(context.Context, string, string, map[string]any) triage.Suggestion {
	return f.suggestion
}
