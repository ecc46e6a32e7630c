package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketplace-kit/session-service/internal/domain"
)

// ErrSessionNotFound marks a session that is missing, revoked or whose
// key has already expired in Redis.
var ErrSessionNotFound = errors.New("session not found")

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "user_sessions:"
)

// SessionRepository manages server-side session records. Records live in
// Redis with a TTL equal to the remaining absolute lifetime, plus a
// per-user index set used for bulk revocation.
type SessionRepository interface {
	Create(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string, except string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Scan(ctx context.Context, fn func(sess *domain.Session) error) error
}

type sessionRepository struct {
	client *redis.Client
}

// NewSessionRepository returns a Redis-backed implementation.
func NewSessionRepository(client *redis.Client) SessionRepository {
	return &sessionRepository{client: client}
}

func (r *sessionRepository) Create(ctx context.Context, sess *domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ttl := time.Until(sess.AbsoluteExpiry)
	if ttl <= 0 {
		return errors.New("session absolute expiry already passed")
	}

	if err := r.client.Set(ctx, sessionKey(sess.ID), payload, ttl).Err(); err != nil {
		return err
	}
	return r.client.SAdd(ctx, userSessionsKey(sess.UserID), sess.ID).Err()
}

func (r *sessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Touch rewrites the record with an advanced last-activity marker while
// keeping the absolute-expiry TTL untouched. Clock regressions are
// ignored so the marker is monotonic.
func (r *sessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	sess, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !at.After(sess.LastActivity) {
		return nil
	}
	sess.LastActivity = at

	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(id), payload, redis.KeepTTL).Err()
}

func (r *sessionRepository) Revoke(ctx context.Context, id string) error {
	sess, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return err
	}
	return r.client.SRem(ctx, userSessionsKey(sess.UserID), id).Err()
}

// RevokeAllForUser removes every session of the user, optionally sparing
// one (the caller's own, on password change). Returns how many were
// actually deleted.
func (r *sessionRepository) RevokeAllForUser(ctx context.Context, userID string, except string) (int, error) {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, id := range ids {
		if id == except {
			continue
		}
		deleted, err := r.client.Del(ctx, sessionKey(id)).Result()
		if err != nil {
			return revoked, err
		}
		if err := r.client.SRem(ctx, userSessionsKey(userID), id).Err(); err != nil {
			return revoked, err
		}
		if deleted > 0 {
			revoked++
		}
	}
	return revoked, nil
}

// ListByUser returns the user's live sessions. Index entries whose
// record has expired are pruned on the way through.
func (r *sessionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				_ = r.client.SRem(ctx, userSessionsKey(userID), id).Err()
				continue
			}
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Scan walks every live session record. Used by the reaper; the walk
// tolerates records disappearing mid-scan.
func (r *sessionRepository) Scan(ctx context.Context, fn func(sess *domain.Session) error) error {
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(sessionKeyPrefix):]
		sess, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
	}
	return iter.Err()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}
