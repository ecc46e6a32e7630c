package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/repository"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller: the account plus the
// live session record its token is bound to.
type Principal struct {
	User    *domain.User
	Session *domain.Session
	Claims  *Claims
}

// Middleware validates bearer access tokens, enforces both session
// timeouts and loads the principal for downstream handlers.
type Middleware struct {
	tokens     *TokenManager
	users      repository.UserRepository
	sessions   repository.SessionRepository
	touchEvery time.Duration
}

// NewMiddleware constructs the auth middleware. touchEvery throttles how
// often a session's last-activity marker is rewritten; zero disables the
// throttle and touches on every request.
func NewMiddleware(tokens *TokenManager, users repository.UserRepository, sessions repository.SessionRepository, touchEvery time.Duration) *Middleware {
	return &Middleware{tokens: tokens, users: users, sessions: sessions, touchEvery: touchEvery}
}

// Handle enforces authentication for protected routes. A token whose
// session is revoked, idle-expired or past its absolute lifetime is
// rejected even when the JWT itself is still valid.
func (m *Middleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.VerifyPurpose(parts[1], domain.TokenPurposeAccess)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	if claims.ID == "" {
		return apperrors.NewUnauthorized("invalid token")
	}

	ctx := c.UserContext()
	sess, err := m.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return apperrors.NewUnauthorized("session revoked or expired")
		}
		return apperrors.MapError(err)
	}

	now := time.Now()
	if sess.AbsoluteExpired(now) {
		return apperrors.NewUnauthorized("session expired")
	}
	if sess.IdleExpired(now, PolicyFor(sess.Role).Idle) {
		return apperrors.NewUnauthorized("session expired")
	}

	user, err := m.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("user not found")
		}
		return apperrors.MapError(err)
	}
	if user.Status != domain.UserStatusActive {
		return apperrors.NewUnauthorized("account suspended")
	}

	if now.Sub(sess.LastActivity) >= m.touchEvery {
		if terr := m.sessions.Touch(ctx, sess.ID, now); terr == nil {
			sess.LastActivity = now
		}
	}

	c.Locals(principalKey, &Principal{User: user, Session: sess, Claims: claims})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
