package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/config"
	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/repository/repotest"
	"github.com/marketplace-kit/session-service/internal/service"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) byType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]events.Event, 0)
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type authFixture struct {
	users    *repotest.Users
	sessions *repotest.Sessions
	recorder *eventRecorder
	svc      *service.AuthService
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		users:    repotest.NewUsers(),
		sessions: repotest.NewSessions(),
		recorder: &eventRecorder{},
	}

	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range []events.EventType{
		events.EventSessionCreated,
		events.EventSessionRevoked,
		events.EventSessionExpired,
	} {
		dispatcher.Subscribe(eventType, f.recorder.record)
	}

	f.svc = service.NewAuthService(config.AuthConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: time.Hour,
		VerifyTokenTTL: time.Hour,
		BcryptCost:     bcrypt.MinCost,
	}, service.AuthDependencies{
		UserRepo:    f.users,
		SessionRepo: f.sessions,
		Dispatcher:  dispatcher,
	})
	return f
}

var testMeta = service.SessionMeta{UserAgent: "kit-test/1.0", IP: "10.1.2.3"}

func (f *authFixture) register(t *testing.T) (*domain.User, *service.IssuedSession) {
	t.Helper()
	user, issued, err := f.svc.Register(context.Background(), "Jane Doe", "jane@example.com", "+15550001111", "password123", testMeta)
	require.NoError(t, err)
	return user, issued
}

func TestAuthService_Register(t *testing.T) {
	f := newAuthFixture()

	user, issued, err := f.svc.Register(context.Background(), "Jane Doe", " Jane@Example.Com ", "+15550001111", "password123", testMeta)
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, domain.RoleShopper, user.Role)
	assert.Equal(t, domain.UserStatusActive, user.Status)
	assert.False(t, user.EmailVerified)
	assert.False(t, user.PhoneVerified)
	assert.NoError(t, auth.ComparePassword(user.PasswordHash, "password123"))

	// the token is bound to the created session through jti
	claims, err := f.svc.TokenManager().Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, issued.Session.ID, claims.ID)
	assert.Equal(t, domain.TokenPurposeAccess, claims.Purpose)

	assert.Equal(t, 1, f.sessions.Count())
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), issued.Session.AbsoluteExpiry, 5*time.Second)

	created := f.recorder.byType(events.EventSessionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, user.ID, created[0].UserID)
	assert.Equal(t, issued.Session.ID, created[0].SessionID)
	payload, ok := created[0].Payload.(events.SessionCreatedPayload)
	require.True(t, ok)
	assert.Equal(t, domain.RoleShopper, payload.Role)
	assert.Equal(t, testMeta.IP, payload.IP)
}

func TestAuthService_RegisterDuplicateEmail(t *testing.T) {
	f := newAuthFixture()
	f.register(t)

	_, _, err := f.svc.Register(context.Background(), "Other", "JANE@EXAMPLE.COM", "+15550002222", "password123", testMeta)
	assert.ErrorIs(t, err, service.ErrEmailTaken)
}

func TestAuthService_RegisterRejectsWeakPassword(t *testing.T) {
	f := newAuthFixture()

	_, _, err := f.svc.Register(context.Background(), "Jane", "jane@example.com", "+15550001111", "short", testMeta)
	require.Error(t, err)

	_, err = f.users.GetByEmail(context.Background(), "jane@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestAuthService_LoginSuccess(t *testing.T) {
	f := newAuthFixture()
	registered, _ := f.register(t)

	user, issued, err := f.svc.Login(context.Background(), "JANE@example.com", "password123", testMeta)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.Equal(t, 2, f.sessions.Count())

	claims, err := f.svc.TokenManager().VerifyPurpose(issued.Token, domain.TokenPurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, issued.Session.ID, claims.ID)
}

func TestAuthService_LoginRejections(t *testing.T) {
	f := newAuthFixture()
	f.register(t)

	_, _, err := f.svc.Login(context.Background(), "nobody@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, _, err = f.svc.Login(context.Background(), "jane@example.com", "wrong-password", testMeta)
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestAuthService_LoginSuspendedAccount(t *testing.T) {
	f := newAuthFixture()

	hash, err := auth.HashPassword("password123", bcrypt.MinCost)
	require.NoError(t, err)
	f.users.Put(domain.User{
		Email:        "frozen@example.com",
		PasswordHash: hash,
		Role:         domain.RoleShopper,
		Status:       domain.UserStatusSuspended,
	})

	_, _, err = f.svc.Login(context.Background(), "frozen@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, service.ErrAccountSuspended)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestAuthService_SessionLifetimeFollowsRolePolicy(t *testing.T) {
	f := newAuthFixture()

	hash, err := auth.HashPassword("password123", bcrypt.MinCost)
	require.NoError(t, err)
	f.users.Put(domain.User{
		Email:        "admin@example.com",
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Status:       domain.UserStatusActive,
	})

	_, issued, err := f.svc.Login(context.Background(), "admin@example.com", "password123", testMeta)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(12*time.Hour), issued.Session.AbsoluteExpiry, 5*time.Second)
}

func TestAuthService_Logout(t *testing.T) {
	f := newAuthFixture()
	user, issued := f.register(t)

	revoked, err := f.svc.Logout(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, 0, f.sessions.Count())

	revokedEvents := f.recorder.byType(events.EventSessionRevoked)
	require.Len(t, revokedEvents, 1)
	assert.Equal(t, user.ID, revokedEvents[0].UserID)
	payload, ok := revokedEvents[0].Payload.(events.SessionRevokedPayload)
	require.True(t, ok)
	assert.Equal(t, events.ReasonLogout, payload.Reason)
	assert.Equal(t, 1, payload.Count)
}

func TestAuthService_LogoutIsLenient(t *testing.T) {
	f := newAuthFixture()
	_, issued := f.register(t)

	revoked, err := f.svc.Logout(context.Background(), issued.Token)
	require.NoError(t, err)
	require.True(t, revoked)

	// same token again: session already gone
	revoked, err = f.svc.Logout(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.False(t, revoked)

	// mangled token: still no error
	revoked, err = f.svc.Logout(context.Background(), "not-even-a-jwt")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestAuthService_LogoutAllSparesException(t *testing.T) {
	f := newAuthFixture()
	user, first := f.register(t)
	for i := 0; i < 2; i++ {
		_, _, err := f.svc.Login(context.Background(), "jane@example.com", "password123", testMeta)
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.sessions.Count())

	count, err := f.svc.LogoutAll(context.Background(), user.ID, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, f.sessions.Count())

	_, err = f.sessions.Get(context.Background(), first.Session.ID)
	assert.NoError(t, err)

	revokedEvents := f.recorder.byType(events.EventSessionRevoked)
	require.Len(t, revokedEvents, 1)
	payload := revokedEvents[0].Payload.(events.SessionRevokedPayload)
	assert.Equal(t, events.ReasonLogoutAll, payload.Reason)
	assert.Equal(t, 2, payload.Count)

	// nothing left to revoke: no extra event
	count, err = f.svc.LogoutAll(context.Background(), user.ID, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, f.recorder.byType(events.EventSessionRevoked), 1)
}

func TestAuthService_SessionsHidesDeadRecords(t *testing.T) {
	f := newAuthFixture()
	user, issued := f.register(t)

	now := time.Now()
	f.sessions.Put(domain.Session{
		ID:             "idle-stale",
		UserID:         user.ID,
		Role:           domain.RoleShopper,
		LastActivity:   now.Add(-8 * 24 * time.Hour),
		AbsoluteExpiry: now.Add(24 * time.Hour),
	})
	f.sessions.Put(domain.Session{
		ID:             "absolute-stale",
		UserID:         user.ID,
		Role:           domain.RoleShopper,
		LastActivity:   now,
		AbsoluteExpiry: now.Add(-time.Hour),
	})

	live, err := f.svc.Sessions(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, issued.Session.ID, live[0].ID)
}

func TestAuthService_ChangePassword(t *testing.T) {
	f := newAuthFixture()
	user, first := f.register(t)
	_, _, err := f.svc.Login(context.Background(), "jane@example.com", "password123", testMeta)
	require.NoError(t, err)
	require.Equal(t, 2, f.sessions.Count())

	err = f.svc.ChangePassword(context.Background(), user.ID, "password123", "fresh-password-1", first.Session.ID)
	require.NoError(t, err)

	// only the caller's session survives
	assert.Equal(t, 1, f.sessions.Count())
	_, err = f.sessions.Get(context.Background(), first.Session.ID)
	assert.NoError(t, err)

	revokedEvents := f.recorder.byType(events.EventSessionRevoked)
	require.Len(t, revokedEvents, 1)
	assert.Equal(t, events.ReasonPasswordChange, revokedEvents[0].Payload.(events.SessionRevokedPayload).Reason)

	_, _, err = f.svc.Login(context.Background(), "jane@example.com", "password123", testMeta)
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	_, _, err = f.svc.Login(context.Background(), "jane@example.com", "fresh-password-1", testMeta)
	assert.NoError(t, err)
}

func TestAuthService_ChangePasswordRejections(t *testing.T) {
	f := newAuthFixture()
	user, first := f.register(t)

	err := f.svc.ChangePassword(context.Background(), user.ID, "wrong-current", "fresh-password-1", first.Session.ID)
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	err = f.svc.ChangePassword(context.Background(), user.ID, "password123", "tiny", first.Session.ID)
	assert.Error(t, err)

	// password unchanged either way
	stored, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePassword(stored.PasswordHash, "password123"))
}
