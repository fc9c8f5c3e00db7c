package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrArchivedTemplate is returned by PublishTemplate when the target row is
// already archived. Archived versions are immutable history; callers must
// clone instead.
var ErrArchivedTemplate = errors.New("template is archived")

const templateColumns = `id, organization_id, name, description, disclosure_type, status, version,
	language, parent_template_id, is_system, schema, published_at, published_by, created_by, created_at, updated_at`

func (s *PostgresStore) CreateTemplate(ctx context.Context, t FormTemplate) (FormTemplate, error) {
	query := `
		INSERT INTO form_templates
			(id, organization_id, name, description, disclosure_type, status, version,
			 language, parent_template_id, is_system, schema, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + templateColumns
	row := s.db.QueryRowContext(ctx, query,
		t.ID, t.OrganizationID, t.Name, t.Description, t.DisclosureType, t.Status, t.Version,
		t.Language, t.ParentTemplateID, t.IsSystem, t.Schema, t.CreatedBy)
	out, err := scanTemplate(row)
	if err != nil {
		return FormTemplate{}, fmt.Errorf("insert template: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, orgID, id string) (FormTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM form_templates WHERE organization_id=$1 AND id=$2`
	t, err := scanTemplate(s.db.QueryRowContext(ctx, query, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FormTemplate{}, ErrNotFound
	}
	if err != nil {
		return FormTemplate{}, fmt.Errorf("lookup template: %w", err)
	}
	return t, nil
}

// ListTemplates filters conjunctively. Archived rows and translation
// children are hidden unless the filter opts in; an explicit status filter
// overrides the archived default.
func (s *PostgresStore) ListTemplates(ctx context.Context, orgID string, filter TemplateFilter) ([]FormTemplate, error) {
	var (
		where = []string{"organization_id = $1"}
		args  = []any{orgID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	} else if !filter.IncludeArchived {
		where = append(where, "status <> "+arg(TemplateArchived))
	}
	if filter.DisclosureType != "" {
		where = append(where, "disclosure_type = "+arg(filter.DisclosureType))
	}
	if filter.Language != "" {
		where = append(where, "language = "+arg(filter.Language))
	}
	if !filter.IncludeTranslations {
		where = append(where, "parent_template_id IS NULL")
	}
	if filter.Query != "" {
		pattern := arg("%" + filter.Query + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %s OR description ILIKE %s)", pattern, pattern))
	}

	query := `SELECT ` + templateColumns + ` FROM form_templates WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY name ASC, version DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []FormTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, t FormTemplate) (FormTemplate, error) {
	query := `
		UPDATE form_templates
		SET name=$3, description=$4, disclosure_type=$5, language=$6, schema=$7, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
		RETURNING ` + templateColumns
	row := s.db.QueryRowContext(ctx, query,
		t.OrganizationID, t.ID, t.Name, t.Description, t.DisclosureType, t.Language, t.Schema)
	out, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FormTemplate{}, ErrNotFound
	}
	if err != nil {
		return FormTemplate{}, fmt.Errorf("update template: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM form_templates WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ArchiveTemplate(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE form_templates SET status=$3, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
	`, orgID, id, TemplateArchived)
	if err != nil {
		return fmt.Errorf("archive template: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTemplateUsage counts the rows that gate mutation of a template:
// submissions freeze its schema, active campaigns block archival, and
// translation children block deletion.
func (s *PostgresStore) GetTemplateUsage(ctx context.Context, orgID, id string) (TemplateUsage, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM submissions WHERE organization_id=$1 AND template_id=$2),
			(SELECT COUNT(*) FROM campaigns WHERE organization_id=$1 AND template_id=$2 AND status IN ('DRAFT','SCHEDULED','ACTIVE')),
			(SELECT COUNT(*) FROM form_templates WHERE organization_id=$1 AND parent_template_id=$2)
	`
	var usage TemplateUsage
	err := s.db.QueryRowContext(ctx, query, orgID, id).
		Scan(&usage.Submissions, &usage.ActiveCampaigns, &usage.Translations)
	if err != nil {
		return TemplateUsage{}, fmt.Errorf("count template usage: %w", err)
	}
	return usage, nil
}

// PublishTemplate runs the publish state machine in one transaction. The
// target row is locked first so two concurrent publishes cannot both take
// the in-place path or fork twice.
//
// In place: first publish of a row with no submissions. No-op: row already
// published with no submissions and no explicit new-version request. Fork:
// the row is published with at least one submission, or the caller forces a
// new version; a copy is inserted at version+1 and the original is demoted
// to ARCHIVED. The returned bool reports whether a fork happened.
func (s *PostgresStore) PublishTemplate(ctx context.Context, orgID, id, newID, publishedBy string, forceNewVersion bool) (FormTemplate, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FormTemplate{}, false, fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback()

	current, err := scanTemplate(tx.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM form_templates WHERE organization_id=$1 AND id=$2 FOR UPDATE`,
		orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FormTemplate{}, false, ErrNotFound
	}
	if err != nil {
		return FormTemplate{}, false, fmt.Errorf("lock template: %w", err)
	}
	if current.Status == TemplateArchived {
		return FormTemplate{}, false, ErrArchivedTemplate
	}

	var submissions int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE organization_id=$1 AND template_id=$2`,
		orgID, id).Scan(&submissions)
	if err != nil {
		return FormTemplate{}, false, fmt.Errorf("count submissions: %w", err)
	}

	fork := forceNewVersion || (current.Status == TemplatePublished && submissions > 0)
	if !fork {
		if current.Status == TemplatePublished {
			// Re-publishing an untouched published row changes nothing.
			return current, false, tx.Commit()
		}
		published, err := scanTemplate(tx.QueryRowContext(ctx, `
			UPDATE form_templates
			SET status=$3, published_at=NOW(), published_by=$4, updated_at=NOW()
			WHERE organization_id=$1 AND id=$2
			RETURNING `+templateColumns, orgID, id, TemplatePublished, publishedBy))
		if err != nil {
			return FormTemplate{}, false, fmt.Errorf("publish in place: %w", err)
		}
		return published, false, tx.Commit()
	}

	forked, err := scanTemplate(tx.QueryRowContext(ctx, `
		INSERT INTO form_templates
			(id, organization_id, name, description, disclosure_type, status, version,
			 language, parent_template_id, is_system, schema, published_at, published_by, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), $12, $13)
		RETURNING `+templateColumns,
		newID, current.OrganizationID, current.Name, current.Description, current.DisclosureType,
		TemplatePublished, current.Version+1, current.Language, current.ParentTemplateID,
		current.IsSystem, current.Schema, publishedBy, current.CreatedBy))
	if err != nil {
		return FormTemplate{}, false, fmt.Errorf("insert forked version: %w", mapUnique(err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE form_templates SET status=$3, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
	`, orgID, id, TemplateArchived); err != nil {
		return FormTemplate{}, false, fmt.Errorf("demote prior version: %w", err)
	}

	// Translations follow the family head. Repointing them here is what
	// makes them show up as stale under the new version.
	if _, err := tx.ExecContext(ctx, `
		UPDATE form_templates SET parent_template_id=$3, updated_at=NOW()
		WHERE organization_id=$1 AND parent_template_id=$2
	`, orgID, id, forked.ID); err != nil {
		return FormTemplate{}, false, fmt.Errorf("repoint translations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return FormTemplate{}, false, fmt.Errorf("commit publish tx: %w", err)
	}
	return forked, true, nil
}

// ListVersions returns every row of the target's template family, newest
// version first.
func (s *PostgresStore) ListVersions(ctx context.Context, orgID, id string) ([]FormTemplate, error) {
	query := `
		SELECT ` + templateColumns + ` FROM form_templates
		WHERE organization_id=$1
			AND name = (SELECT name FROM form_templates WHERE organization_id=$1 AND id=$2)
		ORDER BY version DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []FormTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}

// ListTranslations returns the direct translation children of a template.
func (s *PostgresStore) ListTranslations(ctx context.Context, orgID, id string) ([]FormTemplate, error) {
	query := `
		SELECT ` + templateColumns + ` FROM form_templates
		WHERE organization_id=$1 AND parent_template_id=$2
		ORDER BY language ASC, version DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("list translations: %w", err)
	}
	defer rows.Close()

	var children []FormTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		children = append(children, t)
	}
	return children, rows.Err()
}

// GetPublishedTemplate returns the highest published version of a template
// family, optionally narrowed to a language.
func (s *PostgresStore) GetPublishedTemplate(ctx context.Context, orgID, name, language string) (FormTemplate, error) {
	query := `
		SELECT ` + templateColumns + ` FROM form_templates
		WHERE organization_id=$1 AND name=$2 AND status=$3
			AND ($4 = '' OR language = $4)
		ORDER BY version DESC
		LIMIT 1
	`
	t, err := scanTemplate(s.db.QueryRowContext(ctx, query, orgID, name, TemplatePublished, language))
	if errors.Is(err, sql.ErrNoRows) {
		return FormTemplate{}, ErrNotFound
	}
	if err != nil {
		return FormTemplate{}, fmt.Errorf("lookup published template: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (FormTemplate, error) {
	var t FormTemplate
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Description, &t.DisclosureType,
		&t.Status, &t.Version, &t.Language, &t.ParentTemplateID, &t.IsSystem, &t.Schema,
		&t.PublishedAt, &t.PublishedBy, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return FormTemplate{}, err
	}
	return t, nil
}
