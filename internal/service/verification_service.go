package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/config"
	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/repository"
)

// Sentinel errors for the verification flows.
var (
	ErrCodeMismatch    = errors.New("verification code mismatch")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrAlreadyVerified = errors.New("already verified")
	ErrNoPhoneOnFile   = errors.New("no phone number on file")
)

// CooldownError reports a resend attempted before its cooldown elapsed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("resend on cooldown for %s", e.Remaining)
}

// Cooldown kinds keyed in the OTP repository.
const (
	cooldownKindOTP   = "otp"
	cooldownKindEmail = "email"
)

// ResendInfo describes a successful resend: how long until the next one
// is allowed and how long the delivered code or link stays valid.
type ResendInfo struct {
	RetryAfter time.Duration
	ValidFor   time.Duration
}

// VerificationService owns phone OTP and email link verification.
type VerificationService struct {
	users          repository.UserRepository
	otps           repository.OTPRepository
	tokens         *auth.TokenManager
	sms            SMSSender
	email          EmailSender
	dispatcher     events.Dispatcher
	cfg            config.OTPConfig
	verifyLinkBase string
}

// VerificationDependencies encapsulates collaborator requirements.
type VerificationDependencies struct {
	UserRepo   repository.UserRepository
	OTPRepo    repository.OTPRepository
	Tokens     *auth.TokenManager
	SMS        SMSSender
	Email      EmailSender
	Dispatcher events.Dispatcher
}

// NewVerificationService builds the service.
func NewVerificationService(cfg config.OTPConfig, verifyLinkBase string, deps VerificationDependencies) *VerificationService {
	return &VerificationService{
		users:          deps.UserRepo,
		otps:           deps.OTPRepo,
		tokens:         deps.Tokens,
		sms:            deps.SMS,
		email:          deps.Email,
		dispatcher:     deps.Dispatcher,
		cfg:            cfg,
		verifyLinkBase: verifyLinkBase,
	}
}

// ResendPhoneOTP issues a fresh 6-digit code and delivers it by SMS.
// Issuing replaces any unexpired previous code. The cooldown only starts
// after a successful send, so delivery failures don't lock callers out.
func (s *VerificationService) ResendPhoneOTP(ctx context.Context, user *domain.User) (*ResendInfo, error) {
	if user.PhoneVerified {
		return nil, ErrAlreadyVerified
	}
	if user.Phone == "" {
		return nil, ErrNoPhoneOnFile
	}

	remaining, err := s.otps.CooldownRemaining(ctx, user.ID, cooldownKindOTP)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, &CooldownError{Remaining: remaining}
	}

	code, err := generateOTP()
	if err != nil {
		return nil, err
	}
	if err := s.otps.SetCode(ctx, user.ID, code, s.cfg.CodeTTL); err != nil {
		return nil, err
	}
	if err := s.sms.SendOTP(ctx, user.Phone, code); err != nil {
		return nil, err
	}
	if _, err := s.otps.StartCooldown(ctx, user.ID, cooldownKindOTP, s.cfg.ResendCooldown); err != nil {
		return nil, err
	}

	return &ResendInfo{RetryAfter: s.cfg.ResendCooldown, ValidFor: s.cfg.CodeTTL}, nil
}

// VerifyPhone consumes a code. Attempts are counted before comparison so
// guessing is bounded; the limit destroys the code outright. Verifying
// an already-verified phone is a no-op success.
func (s *VerificationService) VerifyPhone(ctx context.Context, user *domain.User, code string) error {
	if user.PhoneVerified {
		return nil
	}

	attempts, err := s.otps.BumpAttempts(ctx, user.ID, s.cfg.CodeTTL)
	if err != nil {
		return err
	}
	if attempts > s.cfg.MaxAttempts {
		_ = s.otps.DeleteCode(ctx, user.ID)
		return ErrTooManyAttempts
	}

	stored, err := s.otps.GetCode(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return ErrCodeExpired
		}
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrCodeMismatch
	}

	if err := s.otps.DeleteCode(ctx, user.ID); err != nil {
		return err
	}
	if err := s.otps.ClearAttempts(ctx, user.ID); err != nil {
		return err
	}
	if err := s.users.SetPhoneVerified(ctx, user.ID); err != nil {
		return err
	}

	s.publish(ctx, events.EventPhoneVerified, user.ID, events.VerificationPayload{Channel: "phone"})
	return nil
}

// ResendEmailVerification mails a fresh signed verification link.
func (s *VerificationService) ResendEmailVerification(ctx context.Context, user *domain.User) (*ResendInfo, error) {
	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}

	remaining, err := s.otps.CooldownRemaining(ctx, user.ID, cooldownKindEmail)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, &CooldownError{Remaining: remaining}
	}

	token, exp, err := s.tokens.IssueVerify(user.ID, user.Role, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.email.SendVerificationEmail(ctx, user.Email, s.verifyLink(token)); err != nil {
		return nil, err
	}
	if _, err := s.otps.StartCooldown(ctx, user.ID, cooldownKindEmail, s.cfg.ResendCooldown); err != nil {
		return nil, err
	}

	return &ResendInfo{RetryAfter: s.cfg.ResendCooldown, ValidFor: time.Until(exp)}, nil
}

// VerifyEmail consumes a verification token from the mailed link. Only
// verify-purpose tokens are accepted; an access token presented here
// fails like a forged one.
func (s *VerificationService) VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error) {
	claims, err := s.tokens.VerifyPurpose(rawToken, domain.TokenPurposeVerify)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrTokenInvalid
		}
		return nil, err
	}
	if user.EmailVerified {
		return user, nil
	}

	if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	user.EmailVerified = true

	s.publish(ctx, events.EventEmailVerified, user.ID, events.VerificationPayload{Channel: "email"})
	return user, nil
}

func (s *VerificationService) verifyLink(token string) string {
	return s.verifyLinkBase + "?token=" + url.QueryEscape(token)
}

func (s *VerificationService) publish(ctx context.Context, eventType events.EventType, userID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:    eventType,
		UserID:  userID,
		Payload: payload,
	})
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
