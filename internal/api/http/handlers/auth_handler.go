package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/marketplace-kit/session-service/internal/api/dto"
	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/service"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

// AuthHandler exposes registration, login and session teardown.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Name == "" || req.Email == "" || req.Phone == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "name, email, phone, password required")
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	user, issued, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Phone, req.Password, sessionMeta(c))
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			return apperrors.NewConflict("email already registered", nil)
		}
		return apperrors.MapError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"user":    dto.NewUserResponse(user),
			"auth":    dto.AuthResponse{Token: issued.Token, ExpiresAt: issued.ExpiresAt},
			"session": dto.NewSessionResponse(issued.Session, auth.PolicyFor(user.Role).Idle, true),
		},
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	user, issued, err := h.auth.Login(c.UserContext(), req.Email, req.Password, sessionMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return apperrors.NewUnauthorized("invalid credentials")
		case errors.Is(err, service.ErrAccountSuspended):
			return apperrors.NewForbidden("account suspended")
		}
		return apperrors.MapError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user":    dto.NewUserResponse(user),
			"auth":    dto.AuthResponse{Token: issued.Token, ExpiresAt: issued.ExpiresAt},
			"session": dto.NewSessionResponse(issued.Session, auth.PolicyFor(user.Role).Idle, true),
		},
	})
}

// Logout handles POST /api/auth/logout. The route is unauthenticated on
// purpose: a caller with an expired or mangled token still gets a 200 so
// it can finish clearing local state. revoked reports whether a live
// server session was actually torn down.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return c.JSON(fiber.Map{"data": dto.LogoutResponse{Revoked: false}})
	}

	revoked, err := h.auth.Logout(c.UserContext(), token)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.LogoutResponse{Revoked: revoked}})
}

// LogoutAll handles POST /api/auth/logout-all. Every session dies,
// including the caller's own; the client is expected to log in again.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	count, err := h.auth.LogoutAll(c.UserContext(), principal.User.ID, "")
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.LogoutAllResponse{Revoked: count}})
}

// Me handles GET /api/auth/me. This is the hydration endpoint: clients
// call it on boot to validate a stored token and learn both session
// deadlines.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	idle := auth.PolicyFor(principal.Session.Role).Idle
	return c.JSON(fiber.Map{
		"data": dto.MeResponse{
			User:    dto.NewUserResponse(principal.User),
			Session: dto.NewSessionResponse(principal.Session, idle, true),
		},
	})
}

// ChangePassword handles POST /api/auth/password/change. The caller's
// own session survives; every other one is revoked.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return fiber.NewError(http.StatusBadRequest, "current_password and new_password required")
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	if err := h.auth.ChangePassword(c.UserContext(), principal.User.ID, req.CurrentPassword, req.NewPassword, principal.Session.ID); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return apperrors.NewUnauthorized("invalid credentials")
		}
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"updated": true}})
}

func sessionMeta(c *fiber.Ctx) service.SessionMeta {
	return service.SessionMeta{
		UserAgent: c.Get("User-Agent"),
		IP:        c.IP(),
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
