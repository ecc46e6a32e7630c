package repotest

import (
	"context"
	"sync"
	"time"

	"github.com/marketplace-kit/session-service/internal/repository"
)

type codeEntry struct {
	code string
	exp  time.Time
}

type attemptEntry struct {
	count int
	exp   time.Time
}

// OTP is an in-memory OTPRepository. Key lifetimes are honored against
// the wall clock, so cooldown and expiry behavior match Redis.
type OTP struct {
	mu        sync.Mutex
	codes     map[string]codeEntry
	attempts  map[string]attemptEntry
	cooldowns map[string]time.Time
}

var _ repository.OTPRepository = (*OTP)(nil)

// NewOTP returns an empty code store.
func NewOTP() *OTP {
	return &OTP{
		codes:     make(map[string]codeEntry),
		attempts:  make(map[string]attemptEntry),
		cooldowns: make(map[string]time.Time),
	}
}

// Code returns the live code for a user, empty when none.
func (f *OTP) Code(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.codes[userID]
	if !ok || time.Now().After(entry.exp) {
		return ""
	}
	return entry.code
}

func (f *OTP) SetCode(_ context.Context, userID, code string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.codes[userID] = codeEntry{code: code, exp: time.Now().Add(ttl)}
	delete(f.attempts, userID)
	return nil
}

func (f *OTP) GetCode(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.codes[userID]
	if !ok || time.Now().After(entry.exp) {
		delete(f.codes, userID)
		return "", repository.ErrCodeNotFound
	}
	return entry.code, nil
}

func (f *OTP) DeleteCode(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, userID)
	return nil
}

func (f *OTP) BumpAttempts(_ context.Context, userID string, window time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.attempts[userID]
	if !ok || time.Now().After(entry.exp) {
		entry = attemptEntry{exp: time.Now().Add(window)}
	}
	entry.count++
	f.attempts[userID] = entry
	return entry.count, nil
}

func (f *OTP) ClearAttempts(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attempts, userID)
	return nil
}

func (f *OTP) StartCooldown(_ context.Context, userID, kind string, d time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := kind + ":" + userID
	if until, ok := f.cooldowns[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	f.cooldowns[key] = time.Now().Add(d)
	return true, nil
}

func (f *OTP) CooldownRemaining(_ context.Context, userID, kind string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	until, ok := f.cooldowns[kind+":"+userID]
	if !ok {
		return 0, nil
	}
	rest := time.Until(until)
	if rest <= 0 {
		return 0, nil
	}
	return rest, nil
}
