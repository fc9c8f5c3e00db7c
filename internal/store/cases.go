package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const caseColumns = `id, organization_id, reference, title, description, status, severity,
	category, assignee_id, submission_id, properties, created_by, created_at, updated_at, closed_at`

func (s *PostgresStore) CreateCase(ctx context.Context, c Case) (Case, error) {
	query := `
		INSERT INTO cases
			(id, organization_id, reference, title, description, status, severity,
			 category, assignee_id, submission_id, properties, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, '{}'::jsonb), $12)
		RETURNING ` + caseColumns
	row := s.db.QueryRowContext(ctx, query,
		c.ID, c.OrganizationID, c.Reference, c.Title, c.Description, c.Status, c.Severity,
		c.Category, c.AssigneeID, c.SubmissionID, nullableJSON(c.Properties), c.CreatedBy)
	out, err := scanCase(row)
	if err != nil {
		return Case{}, fmt.Errorf("insert case: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, orgID, id string) (Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE organization_id=$1 AND id=$2`
	c, err := scanCase(s.db.QueryRowContext(ctx, query, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("lookup case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, orgID string, filter CaseFilter) ([]Case, error) {
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
	}
	if filter.Severity != "" {
		where = append(where, "severity = "+arg(filter.Severity))
	}
	if filter.AssigneeID != "" {
		where = append(where, "assignee_id = "+arg(filter.AssigneeID))
	}
	if filter.Query != "" {
		pattern := arg("%" + filter.Query + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s OR reference ILIKE %s)", pattern, pattern, pattern))
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (s *PostgresStore) UpdateCase(ctx context.Context, c Case) (Case, error) {
	query := `
		UPDATE cases
		SET title=$3, description=$4, status=$5, severity=$6, category=$7,
			assignee_id=$8, properties=COALESCE($9, '{}'::jsonb), closed_at=$10, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
		RETURNING ` + caseColumns
	row := s.db.QueryRowContext(ctx, query,
		c.OrganizationID, c.ID, c.Title, c.Description, c.Status, c.Severity, c.Category,
		c.AssigneeID, nullableJSON(c.Properties), c.ClosedAt)
	out, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("update case: %w", err)
	}
	return out, nil
}

// NextCaseReference reserves the next human-readable case number for an
// organization, e.g. CASE-000042. The per-org counter row is locked so two
// concurrent intakes cannot mint the same reference.
func (s *PostgresStore) NextCaseReference(ctx context.Context, orgID string) (string, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO case_counters (organization_id, counter)
		VALUES ($1, 1)
		ON CONFLICT (organization_id) DO UPDATE SET counter = case_counters.counter + 1
		RETURNING counter
	`, orgID).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next case reference: %w", err)
	}
	return fmt.Sprintf("CASE-%06d", n), nil
}

func (s *PostgresStore) AppendCaseEvent(ctx context.Context, event CaseEvent) (CaseEvent, error) {
	const query = `
		INSERT INTO case_events (id, case_id, organization_id, type, actor, payload)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, '{}'::jsonb))
		RETURNING id, case_id, organization_id, type, actor, payload, created_at
	`
	var out CaseEvent
	err := s.db.QueryRowContext(ctx, query,
		event.ID, event.CaseID, event.OrganizationID, event.Type, event.Actor, nullableJSON(event.Payload)).
		Scan(&out.ID, &out.CaseID, &out.OrganizationID, &out.Type, &out.Actor, &out.Payload, &out.CreatedAt)
	if err != nil {
		return CaseEvent{}, fmt.Errorf("append case event: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListCaseEvents(ctx context.Context, orgID, caseID string) ([]CaseEvent, error) {
	const query = `
		SELECT id, case_id, organization_id, type, actor, payload, created_at
		FROM case_events
		WHERE organization_id=$1 AND case_id=$2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case events: %w", err)
	}
	defer rows.Close()

	var events []CaseEvent
	for rows.Next() {
		var e CaseEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.OrganizationID, &e.Type, &e.Actor, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan case event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CreatePropertyDefinition(ctx context.Context, def PropertyDefinition) (PropertyDefinition, error) {
	const query = `
		INSERT INTO property_definitions (id, organization_id, key, label, type, options, required)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, 'null'::jsonb), $7)
		RETURNING id, organization_id, key, label, type, options, required, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		def.ID, def.OrganizationID, def.Key, def.Label, def.Type, nullableJSON(def.Options), def.Required)
	out, err := scanPropertyDefinition(row)
	if err != nil {
		return PropertyDefinition{}, fmt.Errorf("insert property definition: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) ListPropertyDefinitions(ctx context.Context, orgID string) ([]PropertyDefinition, error) {
	const query = `
		SELECT id, organization_id, key, label, type, options, required, created_at, updated_at
		FROM property_definitions
		WHERE organization_id=$1
		ORDER BY key ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list property definitions: %w", err)
	}
	defer rows.Close()

	var defs []PropertyDefinition
	for rows.Next() {
		def, err := scanPropertyDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) UpdatePropertyDefinition(ctx context.Context, def PropertyDefinition) (PropertyDefinition, error) {
	const query = `
		UPDATE property_definitions
		SET label=$3, type=$4, options=COALESCE($5, 'null'::jsonb), required=$6, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
		RETURNING id, organization_id, key, label, type, options, required, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		def.OrganizationID, def.ID, def.Label, def.Type, nullableJSON(def.Options), def.Required)
	out, err := scanPropertyDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PropertyDefinition{}, ErrNotFound
	}
	if err != nil {
		return PropertyDefinition{}, fmt.Errorf("update property definition: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeletePropertyDefinition(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM property_definitions WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete property definition: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCase(row rowScanner) (Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Reference, &c.Title, &c.Description,
		&c.Status, &c.Severity, &c.Category, &c.AssigneeID, &c.SubmissionID, &c.Properties,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func scanPropertyDefinition(row rowScanner) (PropertyDefinition, error) {
	var def PropertyDefinition
	err := row.Scan(&def.ID, &def.OrganizationID, &def.Key, &def.Label, &def.Type,
		&def.Options, &def.Required, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return PropertyDefinition{}, err
	}
	return def, nil
}

// nullableJSON maps an empty RawMessage to SQL NULL so COALESCE defaults
// apply instead of inserting the empty string.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
