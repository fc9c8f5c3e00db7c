package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres full-text search.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTemplate indexes a template (fire-and-forget to Meilisearch).
func (s *Service) IndexTemplate(t TemplateRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(t); err != nil {
			log.Printf("search: index template %s: %v", t.ID, err)
		}
	}()
}

// IndexCase indexes a case (fire-and-forget to Meilisearch).
func (s *Service) IndexCase(c CaseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			log.Printf("search: index case %s: %v", c.ID, err)
		}
	}()
}

// DeleteTemplate removes a template from the search index (fire-and-forget).
func (s *Service) DeleteTemplate(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTemplate(id); err != nil {
			log.Printf("search: delete template %s: %v", id, err)
		}
	}()
}

// DeleteCase removes a case from the search index (fire-and-forget).
func (s *Service) DeleteCase(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCase(id); err != nil {
			log.Printf("search: delete case %s: %v", id, err)
		}
	}()
}

// ReindexOrganization reads one organization's entities from Postgres and
// pushes them to Meilisearch.
func (s *Service) ReindexOrganization(ctx context.Context, orgID string) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	templates, cases, err := s.pgfts.LoadAllRecords(ctx, orgID)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexTemplates(templates); err != nil {
		log.Printf("search: reindex templates: %v", err)
	}
	if err := s.meili.IndexCases(cases); err != nil {
		log.Printf("search: reindex cases: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
