package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/presence-service/internal/domain"
	"github.com/spec-kit/presence-service/internal/repository"
	apperrors "github.com/spec-kit/presence-service/pkg/util"
)

const (
	principalKey = "auth_principal"

	// TokenQueryParam carries the token for websocket upgrades, where browsers
	// cannot set an Authorization header.
	TokenQueryParam = "access_token"
)

// Principal represents the authenticated caller.
type Principal struct {
	UserID int64
	User   *domain.User
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	users  repository.UserRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := extractToken(c)
	if err != nil {
		return err
	}
	if raw == "" {
		return apperrors.NewUnauthenticated("missing authorization header")
	}
	principal, err := m.resolve(c, raw)
	if err != nil {
		return err
	}
	c.Locals(principalKey, principal)
	return c.Next()
}

// Optional attaches a principal when a valid token is present and lets
// anonymous callers through. An invalid token is treated as anonymous.
func (m *AuthMiddleware) Optional(c *fiber.Ctx) error {
	raw, err := extractToken(c)
	if err != nil || raw == "" {
		return c.Next()
	}
	if principal, err := m.resolve(c, raw); err == nil {
		c.Locals(principalKey, principal)
	}
	return c.Next()
}

func (m *AuthMiddleware) resolve(c *fiber.Ctx, raw string) (*Principal, error) {
	claims, err := m.tokens.ParseToken(raw)
	if err != nil {
		return nil, apperrors.NewUnauthenticated("invalid token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, apperrors.NewUnauthenticated("invalid token subject")
	}

	user, err := m.users.GetByID(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthenticated("user not found")
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}
	return &Principal{UserID: userID, User: user}, nil
}

func extractToken(c *fiber.Ctx) (string, error) {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", apperrors.NewUnauthenticated("invalid authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	return c.Query(TokenQueryParam), nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// UserIDFromContext returns the caller's user id, or false for anonymous callers.
func UserIDFromContext(c *fiber.Ctx) (int64, bool) {
	principal, ok := PrincipalFromContext(c)
	if !ok {
		return 0, false
	}
	return principal.UserID, true
}
