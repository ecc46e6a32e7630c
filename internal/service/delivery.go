package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/marketplace-kit/session-service/internal/config"
)

// SMSSender delivers one-time codes to a phone number.
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// EmailSender delivers verification links to an address.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, to, link string) error
}

// logSMSSender is the development delivery backend: it logs instead of
// calling a gateway. Codes only appear at debug level.
type logSMSSender struct {
	logger *zap.Logger
	cfg    config.DeliveryConfig
}

// NewLogSMSSender returns the log-backed SMS stub.
func NewLogSMSSender(logger *zap.Logger, cfg config.DeliveryConfig) SMSSender {
	return &logSMSSender{logger: logger, cfg: cfg}
}

func (s *logSMSSender) SendOTP(ctx context.Context, phone, code string) error {
	s.logger.Info("sms otp dispatched",
		zap.String("from", s.cfg.SMSFrom),
		zap.String("to", maskPhone(phone)))
	s.logger.Debug("sms otp payload", zap.String("code", code))
	return nil
}

// logEmailSender mirrors logSMSSender for the email channel.
type logEmailSender struct {
	logger *zap.Logger
	cfg    config.DeliveryConfig
}

// NewLogEmailSender returns the log-backed email stub.
func NewLogEmailSender(logger *zap.Logger, cfg config.DeliveryConfig) EmailSender {
	return &logEmailSender{logger: logger, cfg: cfg}
}

func (s *logEmailSender) SendVerificationEmail(ctx context.Context, to, link string) error {
	s.logger.Info("verification email dispatched",
		zap.String("from", s.cfg.EmailFrom),
		zap.String("to", to))
	s.logger.Debug("verification email payload", zap.String("link", link))
	return nil
}

func maskPhone(phone string) string {
	digits := strings.TrimSpace(phone)
	if len(digits) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
