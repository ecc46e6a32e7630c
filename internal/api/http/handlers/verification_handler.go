package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marketplace-kit/session-service/internal/api/dto"
	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/service"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

// VerificationHandler exposes phone OTP and email link verification.
type VerificationHandler struct {
	verification *service.VerificationService
}

// NewVerificationHandler constructs handler.
func NewVerificationHandler(verificationService *service.VerificationService) *VerificationHandler {
	return &VerificationHandler{verification: verificationService}
}

// ResendOTP handles POST /api/auth/resend-otp.
func (h *VerificationHandler) ResendOTP(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	info, err := h.verification.ResendPhoneOTP(c.UserContext(), principal.User)
	if err != nil {
		return mapResendError(err, "phone already verified")
	}
	return c.JSON(fiber.Map{"data": resendResponse(info)})
}

// VerifyPhone handles POST /api/auth/verify-phone.
func (h *VerificationHandler) VerifyPhone(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.VerifyPhoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Code == "" {
		return fiber.NewError(http.StatusBadRequest, "code required")
	}

	if err := h.verification.VerifyPhone(c.UserContext(), principal.User, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrCodeMismatch):
			return apperrors.NewDomainError("CODE_MISMATCH", "verification code mismatch", http.StatusBadRequest, nil)
		case errors.Is(err, service.ErrCodeExpired):
			return apperrors.NewDomainError("CODE_EXPIRED", "verification code expired, request a new one", http.StatusBadRequest, nil)
		case errors.Is(err, service.ErrTooManyAttempts):
			return apperrors.NewDomainError("TOO_MANY_ATTEMPTS", "too many attempts, request a new code", http.StatusTooManyRequests, nil)
		}
		return apperrors.MapError(err)
	}

	principal.User.PhoneVerified = true
	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewUserResponse(principal.User)}})
}

// ResendEmail handles POST /api/auth/resend-email.
func (h *VerificationHandler) ResendEmail(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	info, err := h.verification.ResendEmailVerification(c.UserContext(), principal.User)
	if err != nil {
		return mapResendError(err, "email already verified")
	}
	return c.JSON(fiber.Map{"data": resendResponse(info)})
}

// VerifyEmail handles POST /api/auth/verify-email. Public: the signed
// token inside the mailed link is the only credential.
func (h *VerificationHandler) VerifyEmail(c *fiber.Ctx) error {
	var req dto.VerifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Token == "" {
		return fiber.NewError(http.StatusBadRequest, "token required")
	}

	user, err := h.verification.VerifyEmail(c.UserContext(), req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			return apperrors.NewDomainError("TOKEN_INVALID", "invalid or expired verification token", http.StatusBadRequest, nil)
		}
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewUserResponse(user)}})
}

func mapResendError(err error, alreadyMsg string) error {
	var cooldown *service.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return apperrors.NewTooManyRequests("resend on cooldown", cooldown.Remaining)
	case errors.Is(err, service.ErrAlreadyVerified):
		return apperrors.NewConflict(alreadyMsg, nil)
	case errors.Is(err, service.ErrNoPhoneOnFile):
		return apperrors.NewValidationError("no phone number on file", nil)
	}
	return apperrors.MapError(err)
}

func resendResponse(info *service.ResendInfo) dto.ResendResponse {
	return dto.ResendResponse{
		RetryAfterSec: int(info.RetryAfter / time.Second),
		ValidForSec:   int(info.ValidFor / time.Second),
	}
}
