package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization) (Organization, error) {
	const query = `
		INSERT INTO organizations (id, name, slug, settings)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), '{}'))
		RETURNING id, name, slug, settings, created_at, updated_at
	`
	var out Organization
	err := s.db.QueryRowContext(ctx, query, org.ID, org.Name, org.Slug, org.Settings).
		Scan(&out.ID, &out.Name, &out.Slug, &out.Settings, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", mapUnique(err))
	}
	return out, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	const query = `SELECT id, name, slug, settings, created_at, updated_at FROM organizations WHERE id=$1`
	var org Organization
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&org.ID, &org.Name, &org.Slug, &org.Settings, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("lookup organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	const query = `
		INSERT INTO users (id, organization_id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.OrganizationID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", mapUnique(err))
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, organization_id, display_name, email, password_hash, role, deactivated_at, created_at, updated_at
		FROM users WHERE LOWER(email) = LOWER($1) AND deactivated_at IS NULL
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const query = `
		SELECT id, organization_id, display_name, email, password_hash, role, deactivated_at, created_at, updated_at
		FROM users WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, orgID, role string) ([]User, error) {
	const query = `
		SELECT id, organization_id, display_name, email, password_hash, role, deactivated_at, created_at, updated_at
		FROM users WHERE organization_id = $1 AND role = $2 AND deactivated_at IS NULL
		ORDER BY display_name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, role)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.OrganizationID, &user.DisplayName, &user.Email,
			&user.PasswordHash, &user.Role, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.OrganizationID, &user.DisplayName, &user.Email,
		&user.PasswordHash, &user.Role, &user.DeactivatedAt, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}
