package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// RequireAgent ensures the caller carries the agent capability.
func RequireAgent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || !principal.IsAgent {
			return fiber.NewError(http.StatusForbidden, "agent capability required")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures caller is authenticated (user or agent).
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}
