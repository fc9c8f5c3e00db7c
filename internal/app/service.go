package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"attest/api/internal/archive"
	"attest/api/internal/auth"
	"attest/api/internal/authpw"
	"attest/api/internal/config"
	"attest/api/internal/export"
	"attest/api/internal/rbac"
	"attest/api/internal/search"
	"attest/api/internal/store"
	"attest/api/internal/triage"
	"attest/api/internal/util"
)

type Session struct {
	Token          string
	RefreshToken   string
	UserID         string
	UserName       string
	OrganizationID string
	Role           string
	JTI            string
	ExpiresAt      time.Time
}

type dataStore interface {
	CreateOrganization(context.Context, store.Organization) (store.Organization, error)
	GetOrganization(context.Context, string) (store.Organization, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsersByRole(context.Context, string, string) ([]store.User, error)

	CreateTemplate(context.Context, store.FormTemplate) (store.FormTemplate, error)
	GetTemplate(context.Context, string, string) (store.FormTemplate, error)
	ListTemplates(context.Context, string, store.TemplateFilter) ([]store.FormTemplate, error)
	UpdateTemplate(context.Context, store.FormTemplate) (store.FormTemplate, error)
	DeleteTemplate(context.Context, string, string) error
	ArchiveTemplate(context.Context, string, string) error
	GetTemplateUsage(context.Context, string, string) (store.TemplateUsage, error)
	PublishTemplate(context.Context, string, string, string, string, bool) (store.FormTemplate, bool, error)
	ListVersions(context.Context, string, string) ([]store.FormTemplate, error)
	ListTranslations(context.Context, string, string) ([]store.FormTemplate, error)
	GetPublishedTemplate(context.Context, string, string, string) (store.FormTemplate, error)

	CreateCase(context.Context, store.Case) (store.Case, error)
	GetCase(context.Context, string, string) (store.Case, error)
	ListCases(context.Context, string, store.CaseFilter) ([]store.Case, error)
	UpdateCase(context.Context, store.Case) (store.Case, error)
	NextCaseReference(context.Context, string) (string, error)
	AppendCaseEvent(context.Context, store.CaseEvent) (store.CaseEvent, error)
	ListCaseEvents(context.Context, string, string) ([]store.CaseEvent, error)

	CreatePropertyDefinition(context.Context, store.PropertyDefinition) (store.PropertyDefinition, error)
	ListPropertyDefinitions(context.Context, string) ([]store.PropertyDefinition, error)
	UpdatePropertyDefinition(context.Context, store.PropertyDefinition) (store.PropertyDefinition, error)
	DeletePropertyDefinition(context.Context, string, string) error

	CreateSubmission(context.Context, store.Submission) (store.Submission, error)
	GetSubmission(context.Context, string, string) (store.Submission, error)
	GetSubmissionByAccessKeyHash(context.Context, string) (store.Submission, error)
	ListSubmissionsByTemplate(context.Context, string, string) ([]store.Submission, error)
	LinkSubmissionToCase(context.Context, string, string, string) error

	CreateCampaign(context.Context, store.Campaign) (store.Campaign, error)
	GetCampaign(context.Context, string, string) (store.Campaign, error)
	ListCampaigns(context.Context, string) ([]store.Campaign, error)
	UpdateCampaignStatus(context.Context, string, string, string) error

	CreateAttachment(context.Context, store.Attachment) (store.Attachment, error)
	ListAttachments(context.Context, string, string) ([]store.Attachment, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type templateCache interface {
	GetPublished(ctx context.Context, orgID, name, language string) (store.FormTemplate, bool, error)
	SetPublished(ctx context.Context, language string, t store.FormTemplate) error
	Invalidate(ctx context.Context, orgID, name string) error
}

type schemaArchive interface {
	RecordPublish(orgID string, t store.FormTemplate) (archive.CommitInfo, error)
	History(orgID, name string, limit int) ([]archive.CommitInfo, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexTemplate(t search.TemplateRecord)
	IndexCase(c search.CaseRecord)
	DeleteTemplate(id string)
	DeleteCase(id string)
}

type objectStore interface {
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, objectKey, fileName string, expiry time.Duration) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendNewReportEmail(to []string, templateName, reference, caseURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendCaseAssignedEmail(to, userName, reference, title, caseURL string) error
}

type triageClient interface {
	Suggest(ctx context.Context, templateName, disclosureType string, answers map[string]any) triage.Suggestion
}

// Deps carries the optional collaborators. Nil fields disable the
// corresponding feature rather than failing requests.
type Deps struct {
	Sessions sessionStore
	AuthPW   *authpw.Service
	Cache    templateCache
	Archive  schemaArchive
	Search   searchIndex
	Objects  objectStore
	Email    mailer
	Triage   triageClient
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	cache    templateCache
	archive  schemaArchive
	search   searchIndex
	objects  objectStore
	email    mailer
	triage   triageClient
	exporter *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: deps.Sessions,
		authpw:   deps.AuthPW,
		cache:    deps.Cache,
		archive:  deps.Archive,
		search:   deps.Search,
		objects:  deps.Objects,
		email:    deps.Email,
		triage:   deps.Triage,
	}
	s.exporter = export.NewService(&exportAdapter{store: s.store})
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SignUp provisions a new organization and its first user, who becomes
// the system admin.
func (s *Service) SignUp(ctx context.Context, organizationName, email, password, displayName string) (store.User, error) {
	if s.authpw == nil {
		return store.User{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	organizationName = strings.TrimSpace(organizationName)
	if organizationName == "" {
		return store.User{}, badRequest("organizationName is required", nil)
	}

	org, err := s.store.CreateOrganization(ctx, store.Organization{
		ID:   util.NewID("org"),
		Name: organizationName,
		Slug: slugify(organizationName),
	})
	if err != nil {
		return store.User{}, fmt.Errorf("create organization: %w", err)
	}

	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		OrganizationID: org.ID,
		Email:          email,
		Password:       password,
		DisplayName:    displayName,
		Role:           string(rbac.RoleSystemAdmin),
	})
	if err != nil {
		if err.Error() == "email already registered" {
			return store.User{}, conflict("Email already registered")
		}
		return store.User{}, badRequest(err.Error(), nil)
	}
	return user, nil
}

// InviteUser adds a user to the caller's organization with the given role.
func (s *Service) InviteUser(ctx context.Context, orgID, email, password, displayName, role string) (store.User, error) {
	if s.authpw == nil {
		return store.User{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		OrganizationID: orgID,
		Email:          email,
		Password:       password,
		DisplayName:    displayName,
		Role:           role,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			return store.User{}, conflict("Email already registered")
		}
		return store.User{}, badRequest(err.Error(), nil)
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.authpw == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Org:  user.OrganizationID,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	session := Session{
		Token:          token,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		JTI:            jti,
		ExpiresAt:      expiresAt,
	}

	if s.sessions != nil {
		refresh := util.NewID("rft") + util.NewID("")
		refreshExpires := now.Add(s.cfg.RefreshTTL)
		if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
			return Session{}, err
		}
		session.RefreshToken = refresh
	}

	return session, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	// Role and tenant come from the row, not the token, so role changes
	// and deactivations take effect without waiting for token expiry.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:          token,
		UserID:         user.ID,
		UserName:       user.DisplayName,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		JTI:            claims.JTI,
		ExpiresAt:      time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" && s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if s.authpw == nil {
		return domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	token, err := s.authpw.RequestPasswordReset(ctx, email)
	if err != nil {
		return err
	}
	if token == "" {
		// Unknown email. Respond as if a mail went out.
		return nil
	}
	if s.SMTPConfigured() {
		user, err := s.authpw.UserByEmail(ctx, email)
		if err == nil {
			resetURL := s.cfg.CORSOrigin + "/reset-password?token=" + token
			if err := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); err != nil {
				log.Printf("send password reset email: %v", err)
			}
		}
	}
	return nil
}

func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.search.Search(search.Query{
		Text:           text,
		OrganizationID: session.OrganizationID,
		FilterType:     search.ResultType(filterType),
		Limit:          limit,
		Offset:         offset,
	}), nil
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = util.NewID("org")
	}
	return slug
}

// exportAdapter feeds the export service from the primary store.
type exportAdapter struct {
	store dataStore
}

func (a *exportAdapter) GetSubmission(ctx context.Context, orgID, id string) (export.SubmissionInfo, error) {
	sub, err := a.store.GetSubmission(ctx, orgID, id)
	if err != nil {
		return export.SubmissionInfo{}, err
	}
	info := export.SubmissionInfo{
		ID:          sub.ID,
		TemplateID:  sub.TemplateID,
		SubmittedAt: sub.SubmittedAt,
		Answers:     sub.Answers,
	}
	if sub.CaseID != nil {
		if c, err := a.store.GetCase(ctx, orgID, *sub.CaseID); err == nil {
			info.CaseReference = c.Reference
		}
	}
	return info, nil
}

func (a *exportAdapter) GetTemplate(ctx context.Context, orgID, id string) (export.TemplateInfo, error) {
	t, err := a.store.GetTemplate(ctx, orgID, id)
	if err != nil {
		return export.TemplateInfo{}, err
	}
	return export.TemplateInfo{
		ID:             t.ID,
		Name:           t.Name,
		DisclosureType: t.DisclosureType,
		Language:       t.Language,
		Version:        t.Version,
		Schema:         t.Schema,
	}, nil
}

func (a *exportAdapter) ListSubmissionsByTemplate(ctx context.Context, orgID, templateID string) ([]export.SubmissionInfo, error) {
	subs, err := a.store.ListSubmissionsByTemplate(ctx, orgID, templateID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.SubmissionInfo, 0, len(subs))
	for _, sub := range subs {
		info := export.SubmissionInfo{
			ID:          sub.ID,
			TemplateID:  sub.TemplateID,
			SubmittedAt: sub.SubmittedAt,
			Answers:     sub.Answers,
		}
		if sub.CaseID != nil {
			if c, err := a.store.GetCase(ctx, orgID, *sub.CaseID); err == nil {
				info.CaseReference = c.Reference
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}
