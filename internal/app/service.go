package app

import (
	"context"
	"time"

	"sitestash/api/internal/archive"
	"sitestash/api/internal/auth"
	"sitestash/api/internal/authpw"
	"sitestash/api/internal/config"
	"sitestash/api/internal/email"
	"sitestash/api/internal/export"
	"sitestash/api/internal/importer"
	"sitestash/api/internal/linkcheck"
	"sitestash/api/internal/search"
	"sitestash/api/internal/store"
	"sitestash/api/internal/tier"
	"sitestash/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Tier         tier.Tier
	IsAdmin      bool
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the persistence surface the service needs. Satisfied by
// store.PostgresStore; tests swap in a fake.
type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserTier(ctx context.Context, userID, tierName string) error

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	ListSites(ctx context.Context, userID string, filter store.SiteFilter) ([]store.Site, error)
	GetSite(ctx context.Context, userID, siteID string) (store.Site, error)
	GetSitesByURLs(ctx context.Context, userID string, urls []string) ([]store.Site, error)
	InsertSite(ctx context.Context, item store.Site) error
	InsertSites(ctx context.Context, items []store.Site) error
	UpdateSite(ctx context.Context, userID, siteID string, update store.SiteUpdate) error
	DeleteSite(ctx context.Context, userID, siteID string) error
	DeleteSitesByIDs(ctx context.Context, userID string, ids []string) (int, error)
	CountSites(ctx context.Context, userID string) (int, error)
	ResetSites(ctx context.Context, userID string) ([]store.Site, error)

	ListCategories(ctx context.Context, userID string) ([]store.Category, error)
	GetCategoryByName(ctx context.Context, userID, name string) (store.Category, error)
	InsertCategory(ctx context.Context, item store.Category) error
	UpdateCategory(ctx context.Context, userID, categoryID, name, color string) error
	DeleteCategory(ctx context.Context, userID, categoryID string) error
	DeleteCategoriesByIDs(ctx context.Context, userID string, ids []string) (int, error)
	CountCategories(ctx context.Context, userID string) (int, error)

	ListTags(ctx context.Context, userID string) ([]store.Tag, error)
	GetTagByName(ctx context.Context, userID, name string) (store.Tag, error)
	InsertTag(ctx context.Context, item store.Tag) error
	UpdateTag(ctx context.Context, userID, tagID, name, color string) error
	DeleteTag(ctx context.Context, userID, tagID string) error
	DeleteTagsByIDs(ctx context.Context, userID string, ids []string) (int, error)
	CountTags(ctx context.Context, userID string) (int, error)

	AddSiteRelations(ctx context.Context, siteID string, categoryIDs, tagIDs []string) error
	ReplaceSiteRelations(ctx context.Context, siteID string, categoryIDs, tagIDs []string) error
	LoadSiteRelations(ctx context.Context, siteIDs []string) (map[string][]string, map[string][]string, error)

	Ping(ctx context.Context) error
}

// SessionStore holds refresh sessions. Redis when configured, otherwise the
// Postgres store doubles as the fallback.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexSite(record search.SiteRecord)
	DeleteSite(id string)
	DeleteSites(ids []string)
}

type archiveService interface {
	SaveSnapshot(userID string, snap archive.Snapshot, message string) (archive.CommitInfo, error)
	History(userID string, limit int) ([]archive.CommitInfo, error)
	GetSnapshot(userID, hash string) (archive.Snapshot, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   searchService
	archive  archiveService
	importer *importer.Pipeline
	exporter *export.Service
	checker  *linkcheck.Checker
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, searchSvc *search.Service, archiveSvc *archive.Service, emailSvc *email.Service) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authpw.NewService(dataStore),
		email:    emailSvc,
		importer: importer.NewPipeline(dataStore),
		exporter: export.NewService(dataStore),
		checker:  linkcheck.NewChecker(cfg.LinkCheckTimeout),
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if archiveSvc != nil {
		svc.archive = archiveSvc
	}
	return svc
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// EmailService exposes the mailer for the auth handlers (dev bypass when nil
// or unconfigured).
func (s *Service) EmailService() *email.Service {
	return s.email
}

// CreateSession issues tokens for an already-authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Redis holds only the user id; tier and admin flag come from the row.
	full, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, full)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Tier: user.Tier,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Tier:         tier.Normalize(user.Tier),
		IsAdmin:      user.IsAdmin,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies the compact token locally, then loads the user
// row. Tier and admin status always come from the database, never from the
// decoded claims.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Tier:      tier.Normalize(user.Tier),
		IsAdmin:   user.IsAdmin,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
