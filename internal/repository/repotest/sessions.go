package repotest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/repository"
)

// Sessions is an in-memory SessionRepository. Records are stored by
// value so callers cannot mutate state behind the repository's back,
// matching the JSON round trip of the Redis implementation.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

var _ repository.SessionRepository = (*Sessions)(nil)

// NewSessions returns an empty session store.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]domain.Session)}
}

// Put seeds a session as-is, bypassing the expiry check in Create so
// tests can plant already-stale records.
func (f *Sessions) Put(sess domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
}

// Count reports how many records are stored.
func (f *Sessions) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *Sessions) Create(_ context.Context, sess *domain.Session) error {
	if time.Until(sess.AbsoluteExpiry) <= 0 {
		return errors.New("session absolute expiry already passed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = *sess
	return nil
}

func (f *Sessions) Get(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &sess, nil
}

func (f *Sessions) Touch(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if !at.After(sess.LastActivity) {
		return nil
	}
	sess.LastActivity = at
	f.sessions[id] = sess
	return nil
}

func (f *Sessions) Revoke(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sessions[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *Sessions) RevokeAllForUser(_ context.Context, userID string, except string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	revoked := 0
	for id, sess := range f.sessions {
		if sess.UserID != userID || id == except {
			continue
		}
		delete(f.sessions, id)
		revoked++
	}
	return revoked, nil
}

func (f *Sessions) ListByUser(_ context.Context, userID string) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*domain.Session, 0)
	for _, sess := range f.sessions {
		if sess.UserID == userID {
			copied := sess
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Sessions) Scan(_ context.Context, fn func(sess *domain.Session) error) error {
	f.mu.Lock()
	snapshot := make([]domain.Session, 0, len(f.sessions))
	for _, sess := range f.sessions {
		snapshot = append(snapshot, sess)
	}
	f.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	for i := range snapshot {
		copied := snapshot[i]
		if err := fn(&copied); err != nil {
			return err
		}
	}
	return nil
}
