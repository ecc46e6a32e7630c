package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnauthenticated is returned when an authenticated call is rejected
// with 401 or 403, or when no credential is stored at all. Seeing it
// means the session is gone and local state must be torn down.
var ErrUnauthenticated = errors.New("session is not authenticated")

// APIError is any non-2xx response other than an authentication
// rejection. RetryAfter is populated from cooldown responses.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// CredentialSource supplies the bearer token for authenticated calls.
// *Store satisfies it.
type CredentialSource interface {
	Credential() string
}

// Identity is the server's view of the authenticated account.
type Identity struct {
	UserID        string
	Name          string
	Email         string
	Phone         string
	Role          string
	EmailVerified bool
	PhoneVerified bool
}

// SessionInfo carries one session record with both deadlines resolved
// by the server.
type SessionInfo struct {
	ID                string
	IssuedAt          time.Time
	LastActivity      time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
	UserAgent         string
	IP                string
	Current           bool
}

// IdleBudget derives the role's idle allowance from the two server
// timestamps, so clients need no copy of the policy table.
func (s SessionInfo) IdleBudget() time.Duration {
	return s.IdleExpiresAt.Sub(s.LastActivity)
}

// LoginResult bundles everything a fresh login returns.
type LoginResult struct {
	Identity       Identity
	Session        SessionInfo
	Token          string
	TokenExpiresAt time.Time
}

// Resend reports a granted resend: the cooldown until the next one and
// how long the delivered code or link stays valid.
type Resend struct {
	RetryAfter time.Duration
	ValidFor   time.Duration
}

// RegisterParams is the registration payload.
type RegisterParams struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// Client is the HTTP client for the session service API.
type Client struct {
	http              *resty.Client
	creds             CredentialSource
	onUnauthenticated func()
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPTimeout bounds each request round trip.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithUnauthenticatedHook installs a callback fired whenever an
// authenticated call comes back 401 or 403. Login and registration
// failures never fire it; they carry no session.
func WithUnauthenticatedHook(fn func()) ClientOption {
	return func(c *Client) { c.onUnauthenticated = fn }
}

// NewClient builds a client against the service base URL.
func NewClient(baseURL string, creds CredentialSource, opts ...ClientOption) *Client {
	c := &Client{
		http:  resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		creds: creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates a shopper account; the service logs it straight in.
func (c *Client) Register(ctx context.Context, params RegisterParams) (*LoginResult, error) {
	var env authEnvelope
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     params.Name,
		"email":    params.Email,
		"phone":    params.Phone,
		"password": params.Password,
	}, &env, false)
	if err != nil {
		return nil, err
	}
	return env.result(), nil
}

// Login authenticates and returns the issued token and session.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var env authEnvelope
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &env, false)
	if err != nil {
		return nil, err
	}
	return env.result(), nil
}

// Me validates the stored credential and returns identity plus session
// deadlines. This is the hydration call.
func (c *Client) Me(ctx context.Context) (*Identity, *SessionInfo, error) {
	var env meEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &env, true); err != nil {
		return nil, nil, err
	}
	ident := env.Data.User.identity()
	sess := env.Data.Session.info()
	return &ident, &sess, nil
}

// Logout revokes the session behind the stored credential. Best-effort
// by contract: no credential means nothing to do, and the server
// answers 200 even for dead tokens. The 401/403 hook never fires here.
func (c *Client) Logout(ctx context.Context) (bool, error) {
	token := c.creds.Credential()
	if token == "" {
		return false, nil
	}

	var env logoutEnvelope
	apiErr := &apiErrorBody{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&env).
		SetError(apiErr).
		Post("/api/auth/logout")
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, apiErr.toError(resp.StatusCode())
	}
	return env.Data.Revoked, nil
}

// LogoutAll revokes every session of the account, this one included.
func (c *Client) LogoutAll(ctx context.Context) (int, error) {
	var env logoutAllEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout-all", nil, &env, true); err != nil {
		return 0, err
	}
	return env.Data.Revoked, nil
}

// Sessions lists the account's live sessions.
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var env sessionsEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/auth/sessions", nil, &env, true); err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(env.Data.Sessions))
	for _, p := range env.Data.Sessions {
		out = append(out, p.info())
	}
	return out, nil
}

// ResendOTP requests a fresh phone verification code.
func (c *Client) ResendOTP(ctx context.Context) (*Resend, error) {
	return c.resend(ctx, "/api/auth/resend-otp")
}

// VerifyPhone submits the received code.
func (c *Client) VerifyPhone(ctx context.Context, code string) (*Identity, error) {
	var env userEnvelope
	err := c.do(ctx, http.MethodPost, "/api/auth/verify-phone", map[string]string{"code": code}, &env, true)
	if err != nil {
		return nil, err
	}
	ident := env.Data.User.identity()
	return &ident, nil
}

// ResendEmail requests a fresh verification mail.
func (c *Client) ResendEmail(ctx context.Context) (*Resend, error) {
	return c.resend(ctx, "/api/auth/resend-email")
}

// VerifyEmail consumes the token from a mailed link. Unauthenticated;
// the token is the credential.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*Identity, error) {
	var env userEnvelope
	err := c.do(ctx, http.MethodPost, "/api/auth/verify-email", map[string]string{"token": token}, &env, false)
	if err != nil {
		return nil, err
	}
	ident := env.Data.User.identity()
	return &ident, nil
}

// ChangePassword rotates the password; the server revokes every other
// session on success.
func (c *Client) ChangePassword(ctx context.Context, current, updated string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/password/change", map[string]string{
		"current_password": current,
		"new_password":     updated,
	}, nil, true)
}

func (c *Client) resend(ctx context.Context, path string) (*Resend, error) {
	var env resendEnvelope
	if err := c.do(ctx, http.MethodPost, path, nil, &env, true); err != nil {
		return nil, err
	}
	return &Resend{
		RetryAfter: time.Duration(env.Data.RetryAfterSec) * time.Second,
		ValidFor:   time.Duration(env.Data.ValidForSec) * time.Second,
	}, nil
}

// do runs one request. authed attaches the stored credential and maps
// 401/403 to ErrUnauthenticated, firing the hook.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	req := c.http.R().SetContext(ctx)

	apiErr := &apiErrorBody{}
	req.SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	if authed {
		token := c.creds.Credential()
		if token == "" {
			return ErrUnauthenticated
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	if authed && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		if c.onUnauthenticated != nil {
			c.onUnauthenticated()
		}
		return fmt.Errorf("%w: %s", ErrUnauthenticated, apiErr.Error.Message)
	}
	return apiErr.toError(status)
}

// Wire shapes. The server wraps payloads in a data envelope and errors
// in an error envelope.

type apiErrorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (b *apiErrorBody) toError(status int) error {
	out := &APIError{
		Status:  status,
		Code:    b.Error.Code,
		Message: b.Error.Message,
	}
	if secs, ok := b.Error.Details["retry_after_sec"].(float64); ok {
		out.RetryAfter = time.Duration(secs) * time.Second
	}
	return out
}

type userPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
}

func (p userPayload) identity() Identity {
	return Identity{
		UserID:        p.ID,
		Name:          p.Name,
		Email:         p.Email,
		Phone:         p.Phone,
		Role:          p.Role,
		EmailVerified: p.EmailVerified,
		PhoneVerified: p.PhoneVerified,
	}
}

type sessionPayload struct {
	ID                string    `json:"id"`
	IssuedAt          time.Time `json:"issued_at"`
	LastActivity      time.Time `json:"last_activity"`
	IdleExpiresAt     time.Time `json:"idle_expires_at"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at"`
	UserAgent         string    `json:"user_agent"`
	IP                string    `json:"ip"`
	Current           bool      `json:"current"`
}

func (p sessionPayload) info() SessionInfo {
	return SessionInfo{
		ID:                p.ID,
		IssuedAt:          p.IssuedAt,
		LastActivity:      p.LastActivity,
		IdleExpiresAt:     p.IdleExpiresAt,
		AbsoluteExpiresAt: p.AbsoluteExpiresAt,
		UserAgent:         p.UserAgent,
		IP:                p.IP,
		Current:           p.Current,
	}
}

type authEnvelope struct {
	Data struct {
		User userPayload `json:"user"`
		Auth struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"auth"`
		Session sessionPayload `json:"session"`
	} `json:"data"`
}

func (e *authEnvelope) result() *LoginResult {
	return &LoginResult{
		Identity:       e.Data.User.identity(),
		Session:        e.Data.Session.info(),
		Token:          e.Data.Auth.Token,
		TokenExpiresAt: e.Data.Auth.ExpiresAt,
	}
}

type meEnvelope struct {
	Data struct {
		User    userPayload    `json:"user"`
		Session sessionPayload `json:"session"`
	} `json:"data"`
}

type userEnvelope struct {
	Data struct {
		User userPayload `json:"user"`
	} `json:"data"`
}

type logoutEnvelope struct {
	Data struct {
		Revoked bool `json:"revoked"`
	} `json:"data"`
}

type logoutAllEnvelope struct {
	Data struct {
		Revoked int `json:"revoked"`
	} `json:"data"`
}

type sessionsEnvelope struct {
	Data struct {
		Sessions []sessionPayload `json:"sessions"`
	} `json:"data"`
}

type resendEnvelope struct {
	Data struct {
		RetryAfterSec int `json:"retry_after_sec"`
		ValidForSec   int `json:"valid_for_sec"`
	} `json:"data"`
}
