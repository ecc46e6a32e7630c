package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/repository/repotest"
	apperrors "github.com/marketplace-kit/session-service/pkg/util"
)

type middlewareFixture struct {
	users    *repotest.Users
	sessions *repotest.Sessions
	tokens   *auth.TokenManager
	app      *fiber.App
}

func newMiddlewareFixture(touchEvery time.Duration) *middlewareFixture {
	f := &middlewareFixture{
		users:    repotest.NewUsers(),
		sessions: repotest.NewSessions(),
		tokens:   auth.NewTokenManager("test-secret", time.Hour, time.Hour),
	}

	mw := auth.NewMiddleware(f.tokens, f.users, f.sessions, touchEvery)
	f.app = fiber.New(fiber.Config{ErrorHandler: domainErrorHandler})
	f.app.Get("/protected", mw.Handle, func(c *fiber.Ctx) error {
		principal, ok := auth.PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusInternalServerError, "principal missing")
		}
		return c.JSON(fiber.Map{
			"user_id":    principal.User.ID,
			"session_id": principal.Session.ID,
		})
	})
	return f
}

func domainErrorHandler(c *fiber.Ctx, err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{
			"error": fiber.Map{"code": domainErr.Code, "message": domainErr.Message},
		})
	}
	return fiber.DefaultErrorHandler(c, err)
}

func (f *middlewareFixture) seedUser(role domain.Role, status domain.UserStatus) domain.User {
	return f.users.Put(domain.User{
		ID:     uuid.NewString(),
		Name:   "Test User",
		Email:  uuid.NewString() + "@example.com",
		Role:   role,
		Status: status,
	})
}

func (f *middlewareFixture) seedSession(t *testing.T, user domain.User, lastActivity, absoluteExpiry time.Time) (domain.Session, string) {
	t.Helper()

	sess := domain.Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Role:           user.Role,
		IssuedAt:       lastActivity,
		LastActivity:   lastActivity,
		AbsoluteExpiry: absoluteExpiry,
	}
	f.sessions.Put(sess)

	token, _, err := f.tokens.IssueAccess(user.ID, user.Role, user.Email, sess.ID)
	require.NoError(t, err)
	return sess, token
}

func (f *middlewareFixture) request(t *testing.T, token string) (*http.Response, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, 5000)
	require.NoError(t, err)

	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestMiddleware_AllowsValidToken(t *testing.T) {
	f := newMiddlewareFixture(0)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	sess, token := f.seedSession(t, user, time.Now().Add(-10*time.Minute), time.Now().Add(24*time.Hour))

	resp, body := f.request(t, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, user.ID, body["user_id"])
	assert.Equal(t, sess.ID, body["session_id"])

	// touchEvery=0 touches on every request
	stored, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastActivity.After(sess.LastActivity))
	assert.WithinDuration(t, time.Now(), stored.LastActivity, 5*time.Second)
}

func TestMiddleware_ThrottledTouchKeepsMarker(t *testing.T) {
	f := newMiddlewareFixture(time.Hour)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	sess, token := f.seedSession(t, user, time.Now().Add(-time.Minute), time.Now().Add(24*time.Hour))

	resp, _ := f.request(t, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.LastActivity, stored.LastActivity)
}

func TestMiddleware_StaleMarkerGetsTouched(t *testing.T) {
	f := newMiddlewareFixture(time.Hour)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	sess, token := f.seedSession(t, user, time.Now().Add(-2*time.Hour), time.Now().Add(24*time.Hour))

	resp, _ := f.request(t, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastActivity.After(sess.LastActivity))
}

func TestMiddleware_MissingHeader(t *testing.T) {
	f := newMiddlewareFixture(0)

	resp, body := f.request(t, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errCode(body))
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	f := newMiddlewareFixture(0)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, err := f.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_GarbageToken(t *testing.T) {
	f := newMiddlewareFixture(0)

	resp, _ := f.request(t, "garbage.token.value")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_RejectsVerifyPurposeToken(t *testing.T) {
	f := newMiddlewareFixture(0)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	f.seedSession(t, user, time.Now(), time.Now().Add(24*time.Hour))

	verifyToken, _, err := f.tokens.IssueVerify(user.ID, user.Role, user.Email)
	require.NoError(t, err)

	resp, _ := f.request(t, verifyToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_RevokedSession(t *testing.T) {
	f := newMiddlewareFixture(0)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	sess, token := f.seedSession(t, user, time.Now(), time.Now().Add(24*time.Hour))
	require.NoError(t, f.sessions.Revoke(context.Background(), sess.ID))

	resp, body := f.request(t, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, errMessage(body), "revoked")
}

func TestMiddleware_IdleExpiredSession(t *testing.T) {
	f := newMiddlewareFixture(0)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	// shopper idle budget is 7 days
	_, token := f.seedSession(t, user, time.Now().Add(-8*24*time.Hour), time.Now().Add(24*time.Hour))

	resp, body := f.request(t, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, errMessage(body), "expired")
}

func TestMiddleware_AbsoluteExpiredSession(t *testing.T) {
	f := newMiddlewareFixture(0)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusActive)
	_, token := f.seedSession(t, user, time.Now(), time.Now().Add(-time.Hour))

	resp, _ := f.request(t, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_IdleBudgetFollowsRole(t *testing.T) {
	f := newMiddlewareFixture(0)
	admin := f.seedUser(domain.RoleSuperAdmin, domain.UserStatusActive)
	// 20 minutes of silence: dead for a SUPER_ADMIN (15m), fine for a shopper
	_, token := f.seedSession(t, admin, time.Now().Add(-20*time.Minute), time.Now().Add(time.Hour))

	resp, _ := f.request(t, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_SuspendedUser(t *testing.T) {
	f := newMiddlewareFixture(0)
	user := f.seedUser(domain.RoleShopper, domain.UserStatusSuspended)
	_, token := f.seedSession(t, user, time.Now(), time.Now().Add(24*time.Hour))

	resp, body := f.request(t, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, errMessage(body), "suspended")
}

func TestMiddleware_DeletedUser(t *testing.T) {
	f := newMiddlewareFixture(0)
	ghost := domain.User{ID: uuid.NewString(), Email: "ghost@example.com", Role: domain.RoleShopper}
	_, token := f.seedSession(t, ghost, time.Now(), time.Now().Add(24*time.Hour))

	resp, _ := f.request(t, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func errCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func errMessage(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	msg, _ := errObj["message"].(string)
	return msg
}
