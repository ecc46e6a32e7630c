package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marketplace-kit/session-service/internal/domain"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

// RequireRole restricts a route to principals holding one of the allowed
// roles. With no arguments it only requires authentication.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[domain.NormalizeRole(string(role))] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.User == nil {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[domain.NormalizeRole(string(principal.User.Role))]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
