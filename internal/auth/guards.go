package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// RequireActiveUser rejects callers whose account has been deactivated.
func RequireActiveUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if principal.User != nil && !principal.User.Active {
			return fiber.NewError(http.StatusForbidden, "account disabled")
		}
		return c.Next()
	}
}
