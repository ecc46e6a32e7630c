package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/config"
	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/repository"
)

// Sentinel errors surfaced by the auth flows. Handlers translate these
// to transport-level status codes.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountSuspended   = errors.New("account suspended")
)

// SessionMeta captures request attributes recorded on a new session.
type SessionMeta struct {
	UserAgent string
	IP        string
}

// IssuedSession bundles a freshly created session with its signed token.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
	Session   *domain.Session
}

// AuthService coordinates registration, login and session revocation.
type AuthService struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	dispatcher events.Dispatcher
	tokenMgr   *auth.TokenManager
	bcryptCost int
}

// AuthDependencies encapsulates repo requirements for the auth service.
type AuthDependencies struct {
	UserRepo    repository.UserRepository
	SessionRepo repository.SessionRepository
	Dispatcher  events.Dispatcher
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		sessions:   deps.SessionRepo,
		dispatcher: deps.Dispatcher,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.VerifyTokenTTL),
		bcryptCost: cfg.BcryptCost,
	}
}

// Register creates a shopper account and logs it straight in. Elevated
// roles are provisioned out of band, never through self-registration.
func (s *AuthService) Register(ctx context.Context, name, email, phone, password string, meta SessionMeta) (*domain.User, *IssuedSession, error) {
	email = normalizeEmail(email)
	if err := auth.ValidatePassword(password); err != nil {
		return nil, nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: hash,
		Role:         domain.RoleShopper,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	issued, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}
	return user, issued, nil
}

// Login authenticates an account and opens a new session for it.
func (s *AuthService) Login(ctx context.Context, email, password string, meta SessionMeta) (*domain.User, *IssuedSession, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if user.Status != domain.UserStatusActive {
		return nil, nil, ErrAccountSuspended
	}

	issued, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}
	return user, issued, nil
}

// Logout revokes the session bound to the presented token. The flow is
// deliberately lenient: an invalid token or an already-dead session is
// success with revoked=false, never an error, so clients can always
// finish tearing down local state.
func (s *AuthService) Logout(ctx context.Context, rawToken string) (bool, error) {
	claims, err := s.tokenMgr.VerifyPurpose(rawToken, domain.TokenPurposeAccess)
	if err != nil || claims.ID == "" {
		return false, nil
	}

	sess, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	s.publish(ctx, events.EventSessionRevoked, sess.UserID, sess.ID, events.SessionRevokedPayload{
		Reason: events.ReasonLogout,
		Count:  1,
	})
	return true, nil
}

// LogoutAll revokes every session of the user, sparing at most one.
func (s *AuthService) LogoutAll(ctx context.Context, userID, except string) (int, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, userID, except)
	if err != nil {
		return count, err
	}
	if count > 0 {
		s.publish(ctx, events.EventSessionRevoked, userID, "", events.SessionRevokedPayload{
			Reason: events.ReasonLogoutAll,
			Count:  count,
		})
	}
	return count, nil
}

// Sessions lists the user's sessions that are still live under both
// timeout budgets. Records the reaper has not collected yet are hidden.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	all, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	live := make([]*domain.Session, 0, len(all))
	for _, sess := range all {
		if sess.AbsoluteExpired(now) || sess.IdleExpired(now, auth.PolicyFor(sess.Role).Idle) {
			continue
		}
		live = append(live, sess)
	}
	return live, nil
}

// ChangePassword verifies the current password, rehashes, and revokes
// every other session so stolen tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	count, err := s.sessions.RevokeAllForUser(ctx, userID, keepSessionID)
	if err != nil {
		return err
	}
	if count > 0 {
		s.publish(ctx, events.EventSessionRevoked, userID, "", events.SessionRevokedPayload{
			Reason: events.ReasonPasswordChange,
			Count:  count,
		})
	}
	return nil
}

// TokenManager exposes the underlying token manager for middleware and
// verification flows.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User, meta SessionMeta) (*IssuedSession, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Role:           user.Role,
		IssuedAt:       now,
		LastActivity:   now,
		AbsoluteExpiry: now.Add(auth.PolicyFor(user.Role).Absolute),
		UserAgent:      meta.UserAgent,
		IP:             meta.IP,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	token, exp, err := s.tokenMgr.IssueAccess(user.ID, user.Role, user.Email, sess.ID)
	if err != nil {
		_ = s.sessions.Revoke(ctx, sess.ID)
		return nil, err
	}

	s.publish(ctx, events.EventSessionCreated, user.ID, sess.ID, events.SessionCreatedPayload{
		Role:      user.Role,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	return &IssuedSession{Token: token, ExpiresAt: exp, Session: sess}, nil
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, userID, sessionID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		Payload:   payload,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
