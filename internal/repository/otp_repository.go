package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeNotFound marks a verification code that was never issued or has
// already expired or been consumed.
var ErrCodeNotFound = errors.New("verification code not found")

const (
	otpCodeKeyPrefix     = "otp:code:"
	otpAttemptsKeyPrefix = "otp:attempts:"
	cooldownKeyPrefix    = "cooldown:"
)

// OTPRepository stores one-time phone verification codes, their attempt
// counters and resend cooldown markers. All keys are TTL-bound; nothing
// here survives its window.
type OTPRepository interface {
	SetCode(ctx context.Context, userID, code string, ttl time.Duration) error
	GetCode(ctx context.Context, userID string) (string, error)
	DeleteCode(ctx context.Context, userID string) error
	BumpAttempts(ctx context.Context, userID string, window time.Duration) (int, error)
	ClearAttempts(ctx context.Context, userID string) error
	StartCooldown(ctx context.Context, userID, kind string, d time.Duration) (bool, error)
	CooldownRemaining(ctx context.Context, userID, kind string) (time.Duration, error)
}

type otpRepository struct {
	client *redis.Client
}

// NewOTPRepository returns a Redis-backed implementation.
func NewOTPRepository(client *redis.Client) OTPRepository {
	return &otpRepository{client: client}
}

func (r *otpRepository) SetCode(ctx context.Context, userID, code string, ttl time.Duration) error {
	// Replacing an unexpired code resets the attempt counter too: the
	// old code is gone, so stale strikes must not count against the new one.
	if err := r.client.Set(ctx, otpCodeKeyPrefix+userID, code, ttl).Err(); err != nil {
		return err
	}
	return r.ClearAttempts(ctx, userID)
}

func (r *otpRepository) GetCode(ctx context.Context, userID string) (string, error) {
	code, err := r.client.Get(ctx, otpCodeKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCodeNotFound
		}
		return "", err
	}
	return code, nil
}

func (r *otpRepository) DeleteCode(ctx context.Context, userID string) error {
	return r.client.Del(ctx, otpCodeKeyPrefix+userID).Err()
}

// BumpAttempts increments the per-user guess counter and returns the new
// value. The counter expires with the window so stale strikes age out.
func (r *otpRepository) BumpAttempts(ctx context.Context, userID string, window time.Duration) (int, error) {
	key := otpAttemptsKeyPrefix + userID
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return int(count), err
		}
	}
	return int(count), nil
}

func (r *otpRepository) ClearAttempts(ctx context.Context, userID string) error {
	return r.client.Del(ctx, otpAttemptsKeyPrefix+userID).Err()
}

// StartCooldown marks the start of a resend cooldown. Returns false when
// a cooldown is already running, leaving the existing window intact.
func (r *otpRepository) StartCooldown(ctx context.Context, userID, kind string, d time.Duration) (bool, error) {
	return r.client.SetNX(ctx, cooldownKey(userID, kind), "1", d).Result()
}

// CooldownRemaining reports how long the caller must still wait. Zero
// means no active cooldown.
func (r *otpRepository) CooldownRemaining(ctx context.Context, userID, kind string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, cooldownKey(userID, kind)).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func cooldownKey(userID, kind string) string {
	return cooldownKeyPrefix + kind + ":" + userID
}
