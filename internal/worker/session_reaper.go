package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/repository"
)

// SessionReaper periodically sweeps session records whose idle or
// absolute budget has run out. The auth middleware already rejects such
// sessions on contact; the reaper is what expires the ones nobody
// touches again, and it is the single emitter of expiry events.
type SessionReaper struct {
	sessions   repository.SessionRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	interval   time.Duration
}

// NewSessionReaper builds the reaper.
func NewSessionReaper(sessions repository.SessionRepository, dispatcher events.Dispatcher, logger *zap.Logger, interval time.Duration) *SessionReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionReaper{
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
	}
}

// Run sweeps on a ticker until the context is canceled. One sweep runs
// immediately so a restart doesn't delay cleanup by a full interval.
func (r *SessionReaper) Run(ctx context.Context) {
	r.logger.Info("session reaper started", zap.Duration("interval", r.interval))

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *SessionReaper) sweep(ctx context.Context) {
	reaped := 0
	err := r.sessions.Scan(ctx, func(sess *domain.Session) error {
		now := time.Now()

		var reason string
		switch {
		case sess.AbsoluteExpired(now):
			reason = events.ReasonAbsolute
		case sess.IdleExpired(now, auth.PolicyFor(sess.Role).Idle):
			reason = events.ReasonIdle
		default:
			return nil
		}

		if err := r.sessions.Revoke(ctx, sess.ID); err != nil {
			r.logger.Warn("reap failed", zap.String("session_id", sess.ID), zap.Error(err))
			return nil
		}
		reaped++

		r.publishExpired(ctx, sess, reason)
		return nil
	})
	if err != nil {
		r.logger.Warn("session sweep aborted", zap.Error(err))
		return
	}

	if reaped > 0 {
		r.logger.Info("session sweep finished", zap.Int("reaped", reaped))
	}
}

func (r *SessionReaper) publishExpired(ctx context.Context, sess *domain.Session, reason string) {
	if r.dispatcher == nil {
		return
	}
	_ = r.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventSessionExpired,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Payload: events.SessionExpiredPayload{
			Reason: reason,
			Role:   sess.Role,
		},
	})
}
