// Package repotest provides in-memory repository implementations for
// tests. They mirror the error contracts of the real stores: a missing
// user surfaces pgx.ErrNoRows, a missing session ErrSessionNotFound,
// a missing code ErrCodeNotFound.
package repotest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/repository"
)

// Users is an in-memory UserRepository.
type Users struct {
	mu    sync.Mutex
	users map[string]domain.User
}

var _ repository.UserRepository = (*Users)(nil)

// NewUsers returns an empty user store.
func NewUsers() *Users {
	return &Users{users: make(map[string]domain.User)}
}

// Put seeds a user as-is, assigning an ID when absent.
func (f *Users) Put(user domain.User) domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	f.users[user.ID] = user
	return user
}

func (f *Users) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	f.users[user.ID] = *user
	return nil
}

func (f *Users) Update(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	user.UpdatedAt = time.Now()
	f.users[user.ID] = *user
	return nil
}

func (f *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (f *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			out := user
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *Users) SetPhoneVerified(_ context.Context, id string) error {
	return f.mutate(id, func(user *domain.User) { user.PhoneVerified = true })
}

func (f *Users) SetEmailVerified(_ context.Context, id string) error {
	return f.mutate(id, func(user *domain.User) { user.EmailVerified = true })
}

func (f *Users) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return f.mutate(id, func(user *domain.User) { user.PasswordHash = hash })
}

func (f *Users) mutate(id string, apply func(user *domain.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	apply(&user)
	user.UpdatedAt = time.Now()
	f.users[id] = user
	return nil
}
