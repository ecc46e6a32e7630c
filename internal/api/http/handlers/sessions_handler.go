package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marketplace-kit/session-service/internal/api/dto"
	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/service"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

// SessionsHandler exposes session inspection endpoints.
type SessionsHandler struct {
	auth *service.AuthService
}

// NewSessionsHandler constructs handler.
func NewSessionsHandler(authService *service.AuthService) *SessionsHandler {
	return &SessionsHandler{auth: authService}
}

// ListMine handles GET /api/auth/sessions.
func (h *SessionsHandler) ListMine(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return h.list(c, principal.User.ID, principal.Session.ID)
}

// ListForUser handles GET /api/auth/users/:id/sessions. Admin only; the
// current flag is meaningless here and always false.
func (h *SessionsHandler) ListForUser(c *fiber.Ctx) error {
	userID := c.Params("id")
	if userID == "" {
		return apperrors.NewValidationError("user id required", nil)
	}
	return h.list(c, userID, "")
}

func (h *SessionsHandler) list(c *fiber.Ctx, userID, currentID string) error {
	sessions, err := h.auth.Sessions(c.UserContext(), userID)
	if err != nil {
		return apperrors.MapError(err)
	}

	out := make([]dto.SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		idle := auth.PolicyFor(sess.Role).Idle
		out = append(out, dto.NewSessionResponse(sess, idle, sess.ID == currentID))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"sessions": out}})
}
