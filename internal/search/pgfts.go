package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across form_templates and cases using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Both halves
// are always scoped to the caller's organization.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.OrganizationID == "" {
		return nil, 0, fmt.Errorf("search requires an organization")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OrganizationID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultTemplate {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'template'::text AS type, t.id, t.name AS title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.status, ''::text AS reference,
				ts_rank(t.fts, %s) AS rank
			FROM form_templates t
			WHERE t.organization_id = $2 AND t.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultCase {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'case'::text AS type, c.id, c.title,
				ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.status, c.reference,
				ts_rank(c.fts, %s) AS rank
			FROM cases c
			WHERE c.organization_id = $2 AND c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status, reference
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status, &r.Reference); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record of one organization for
// full reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context, orgID string) ([]TemplateRecord, []CaseRecord, error) {
	templateRows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, name, description, disclosure_type, status, language, version
		FROM form_templates
		WHERE organization_id = $1
	`, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("load templates: %w", err)
	}
	defer templateRows.Close()

	templates := make([]TemplateRecord, 0)
	for templateRows.Next() {
		var t TemplateRecord
		if err := templateRows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Description,
			&t.DisclosureType, &t.Status, &t.Language, &t.Version); err != nil {
			return nil, nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := templateRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate templates: %w", err)
	}

	caseRows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, reference, title, description, status, severity, category
		FROM cases
		WHERE organization_id = $1
	`, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("load cases: %w", err)
	}
	defer caseRows.Close()

	cases := make([]CaseRecord, 0)
	for caseRows.Next() {
		var c CaseRecord
		if err := caseRows.Scan(&c.ID, &c.OrganizationID, &c.Reference, &c.Title,
			&c.Description, &c.Status, &c.Severity, &c.Category); err != nil {
			return nil, nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cases: %w", err)
	}

	return templates, cases, nil
}
