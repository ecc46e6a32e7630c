package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/observability"
)

// AuditService records the session lifecycle: every event lands in the
// structured log and feeds the in-memory counters.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *AuditService {
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventSessionCreated, a.handleSessionCreated)
	a.dispatcher.Subscribe(events.EventSessionRevoked, a.handleSessionRevoked)
	a.dispatcher.Subscribe(events.EventSessionExpired, a.handleSessionExpired)
	a.dispatcher.Subscribe(events.EventPhoneVerified, a.handleVerification)
	a.dispatcher.Subscribe(events.EventEmailVerified, a.handleVerification)
}

func (a *AuditService) handleSessionCreated(ctx context.Context, event events.Event) error {
	a.logger.Info("SessionCreated",
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.Any("payload", event.Payload))
	return nil
}

func (a *AuditService) handleSessionRevoked(ctx context.Context, event events.Event) error {
	a.logger.Info("SessionRevoked",
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.Any("payload", event.Payload))
	if payload, ok := event.Payload.(events.SessionRevokedPayload); ok {
		a.metrics.RecordSessionRevoked(payload.Count)
	}
	return nil
}

func (a *AuditService) handleSessionExpired(ctx context.Context, event events.Event) error {
	a.logger.Info("SessionExpired",
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.Any("payload", event.Payload))
	if payload, ok := event.Payload.(events.SessionExpiredPayload); ok {
		a.metrics.RecordSessionExpiry(payload.Reason)
	}
	return nil
}

func (a *AuditService) handleVerification(ctx context.Context, event events.Event) error {
	a.logger.Info("IdentityVerified",
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)),
		zap.Any("payload", event.Payload))
	return nil
}
