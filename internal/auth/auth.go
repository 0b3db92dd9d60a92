// Package auth validates bearer credentials and derives the tenant identity
// that scopes every downstream operation.
package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// Config configures the auth service.
type Config struct {
	// JWTSecret signs and verifies bearer tokens. Empty disables auth
	// entirely, which is only valid together with DevMode.
	JWTSecret string

	// TokenExpiry bounds issued token lifetime. Zero means no expiry.
	TokenExpiry time.Duration

	// AdminGroup is the group name that gates /api/admin endpoints.
	// Default: "admins".
	AdminGroup string

	// DevMode substitutes a fixed synthetic identity when no credential is
	// supplied. Never enable outside local development.
	DevMode bool
}

// Service authenticates requests and answers authorization questions.
type Service struct {
	jwt        *JWTService
	adminGroup string
	devMode    bool
	logger     *slog.Logger
}

// NewService builds an auth service from config.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	adminGroup := cfg.AdminGroup
	if adminGroup == "" {
		adminGroup = "admins"
	}
	var jwtSvc *JWTService
	if cfg.JWTSecret != "" {
		jwtSvc = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	if cfg.DevMode {
		logger.Warn("auth dev mode enabled: unauthenticated requests get a synthetic identity")
	}
	return &Service{
		jwt:        jwtSvc,
		adminGroup: adminGroup,
		devMode:    cfg.DevMode,
		logger:     logger,
	}
}

// devUser is the synthetic identity substituted in dev mode when no
// credential is supplied.
func devUser() *models.User {
	return &models.User{
		TenantID: "dev-tenant",
		ID:       "dev-user",
		Role:     "developer",
		Tier:     models.TierPremium,
		Groups:   []string{"admins"},
	}
}

// Authenticate resolves a bearer token into a user identity. An empty
// token yields the synthetic dev identity when dev mode is on, and
// ErrMissingCredentials otherwise.
func (s *Service) Authenticate(token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		if s.devMode {
			return devUser(), nil
		}
		return nil, ErrMissingCredentials
	}
	if s.jwt == nil {
		if s.devMode {
			return devUser(), nil
		}
		return nil, ErrAuthDisabled
	}
	user, err := s.jwt.Validate(token)
	if err != nil {
		s.logger.Warn("token validation failed", "error", err)
		return nil, err
	}
	return user, nil
}

// GenerateToken issues a signed token for the given user, for tests and
// provisioning tooling.
func (s *Service) GenerateToken(user *models.User) (string, error) {
	if s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(user)
}

// IsAdmin reports whether the user may access admin endpoints.
func (s *Service) IsAdmin(user *models.User) bool {
	return user.InGroup(s.adminGroup)
}

// BearerFromRequest extracts the bearer token from an Authorization
// header, or an empty string if absent.
func BearerFromRequest(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if value == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}
