// Package authpw provides email/password authentication scoped to an
// organization.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attest/api/internal/rbac"
	"attest/api/internal/store"
	"attest/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the slice of storage the auth flows need.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

type SignUpRequest struct {
	OrganizationID string
	Email          string
	Password       string
	DisplayName    string
	Role           string
}

// SignUp creates a user inside an organization. The email must be unique
// across the whole installation; the unique constraint is the real guard,
// the lookup here just gives a friendlier error.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if req.OrganizationID == "" || req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return store.User{}, errors.New("organization, email, password, and display name are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:             util.NewID("usr"),
		OrganizationID: req.OrganizationID,
		DisplayName:    req.DisplayName,
		Email:          req.Email,
		PasswordHash:   string(hash),
		Role:           string(rbac.Normalize(req.Role)),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, errors.New("email already registered")
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user. Failures are reported uniformly so the
// response does not reveal whether the email exists.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}
	return user, nil
}

// UserByEmail looks up an active user by email.
func (s *Service) UserByEmail(ctx context.Context, email string) (store.User, error) {
	return s.store.GetUserByEmail(ctx, email)
}

// RequestPasswordReset mints a reset token valid for one hour. An unknown
// email returns an empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token := util.NewID("rst")
	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword exchanges a reset token for a new password.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" || req.NewPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(req.NewPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	userID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	_ = s.store.MarkPasswordResetUsed(ctx, req.Token)
	return nil
}
