package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const submissionColumns = `id, organization_id, template_id, template_version, campaign_id,
	case_id, submitter_id, access_key_hash, answers, submitted_at`

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub Submission) (Submission, error) {
	query := `
		INSERT INTO submissions
			(id, organization_id, template_id, template_version, campaign_id,
			 case_id, submitter_id, access_key_hash, answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + submissionColumns
	row := s.db.QueryRowContext(ctx, query,
		sub.ID, sub.OrganizationID, sub.TemplateID, sub.TemplateVersion, sub.CampaignID,
		sub.CaseID, sub.SubmitterID, sub.AccessKeyHash, sub.Answers)
	out, err := scanSubmission(row)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, orgID, id string) (Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE organization_id=$1 AND id=$2`
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("lookup submission: %w", err)
	}
	return sub, nil
}

// GetSubmissionByAccessKeyHash resolves an anonymous reporter's follow-up
// key. The lookup is global by hash; the hash is high-entropy so no org
// scoping is possible or needed before the row is found.
func (s *PostgresStore) GetSubmissionByAccessKeyHash(ctx context.Context, keyHash string) (Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE access_key_hash=$1`
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, keyHash))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("lookup submission by access key: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubmissionsByTemplate(ctx context.Context, orgID, templateID string) ([]Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions
		WHERE organization_id=$1 AND template_id=$2
		ORDER BY submitted_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, templateID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// LinkSubmissionToCase records which case was opened from a submission.
func (s *PostgresStore) LinkSubmissionToCase(ctx context.Context, orgID, submissionID, caseID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET case_id=$3 WHERE organization_id=$1 AND id=$2
	`, orgID, submissionID, caseID)
	if err != nil {
		return fmt.Errorf("link submission to case: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c Campaign) (Campaign, error) {
	const query = `
		INSERT INTO campaigns (id, organization_id, template_id, name, status, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, organization_id, template_id, name, status, starts_at, ends_at, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		c.ID, c.OrganizationID, c.TemplateID, c.Name, c.Status, c.StartsAt, c.EndsAt)
	out, err := scanCampaign(row)
	if err != nil {
		return Campaign{}, fmt.Errorf("insert campaign: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, orgID, id string) (Campaign, error) {
	const query = `
		SELECT id, organization_id, template_id, name, status, starts_at, ends_at, created_at, updated_at
		FROM campaigns WHERE organization_id=$1 AND id=$2
	`
	c, err := scanCampaign(s.db.QueryRowContext(ctx, query, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("lookup campaign: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, orgID string) ([]Campaign, error) {
	const query = `
		SELECT id, organization_id, template_id, name, status, starts_at, ends_at, created_at, updated_at
		FROM campaigns WHERE organization_id=$1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *PostgresStore) UpdateCampaignStatus(ctx context.Context, orgID, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status=$3, updated_at=NOW() WHERE organization_id=$1 AND id=$2
	`, orgID, id, status)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	const query = `
		INSERT INTO attachments (id, organization_id, submission_id, object_key, file_name, content_type, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, organization_id, submission_id, object_key, file_name, content_type, size, created_at
	`
	var out Attachment
	err := s.db.QueryRowContext(ctx, query,
		a.ID, a.OrganizationID, a.SubmissionID, a.ObjectKey, a.FileName, a.ContentType, a.Size).
		Scan(&out.ID, &out.OrganizationID, &out.SubmissionID, &out.ObjectKey,
			&out.FileName, &out.ContentType, &out.Size, &out.CreatedAt)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, orgID, submissionID string) ([]Attachment, error) {
	const query = `
		SELECT id, organization_id, submission_id, object_key, file_name, content_type, size, created_at
		FROM attachments
		WHERE organization_id=$1 AND submission_id=$2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.SubmissionID, &a.ObjectKey,
			&a.FileName, &a.ContentType, &a.Size, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func scanSubmission(row rowScanner) (Submission, error) {
	var sub Submission
	err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.TemplateID, &sub.TemplateVersion,
		&sub.CampaignID, &sub.CaseID, &sub.SubmitterID, &sub.AccessKeyHash, &sub.Answers, &sub.SubmittedAt)
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.OrganizationID, &c.TemplateID, &c.Name, &c.Status,
		&c.StartsAt, &c.EndsAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Campaign{}, err
	}
	return c, nil
}
