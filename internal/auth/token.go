package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/marketplace-kit/session-service/internal/domain"
)

// ErrTokenInvalid is the single error surfaced for any verification
// failure: bad signature, expiry, malformed payload, or a purpose
// mismatch. Callers never learn which check failed.
var ErrTokenInvalid = errors.New("token verification failed")

// Fallback lifetimes used when a manager is constructed without explicit
// TTLs. Deployments normally override both through configuration.
const (
	DefaultAccessTTL = 7 * 24 * time.Hour
	DefaultVerifyTTL = 30 * time.Minute
)

// TokenManager issues and verifies the two JWT flavors the service uses:
// access tokens for API traffic and verify tokens for email confirmation.
type TokenManager struct {
	secret    []byte
	accessTTL time.Duration
	verifyTTL time.Duration
}

// NewTokenManager builds a manager over a shared HS256 secret.
// Non-positive TTLs fall back to the package defaults.
func NewTokenManager(secret string, accessTTL, verifyTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if verifyTTL <= 0 {
		verifyTTL = DefaultVerifyTTL
	}
	return &TokenManager{secret: []byte(secret), accessTTL: accessTTL, verifyTTL: verifyTTL}
}

// Claims describes the JWT payload. The registered ID (jti) carries the
// server-side session ID for access tokens.
type Claims struct {
	Role    domain.Role         `json:"role,omitempty"`
	Email   string              `json:"email,omitempty"`
	Purpose domain.TokenPurpose `json:"purpose"`
	jwt.RegisteredClaims
}

// IssueAccess signs an access token bound to the given session.
func (tm *TokenManager) IssueAccess(userID string, role domain.Role, email, sessionID string) (string, time.Time, error) {
	return tm.issue(userID, role, email, sessionID, domain.TokenPurposeAccess, tm.accessTTL)
}

// IssueVerify signs a short-lived email verification token. Verify tokens
// carry no session ID; they are not a login credential.
func (tm *TokenManager) IssueVerify(userID string, role domain.Role, email string) (string, time.Time, error) {
	return tm.issue(userID, role, email, "", domain.TokenPurposeVerify, tm.verifyTTL)
}

func (tm *TokenManager) issue(userID string, role domain.Role, email, sessionID string, purpose domain.TokenPurpose, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Role:    role,
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        sessionID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Verify checks signature and expiry and returns the claims.
func (tm *TokenManager) Verify(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyPurpose is Verify plus a purpose gate. A valid token presented to
// the wrong flow fails exactly like an invalid one.
func (tm *TokenManager) VerifyPurpose(tokenStr string, purpose domain.TokenPurpose) (*Claims, error) {
	claims, err := tm.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseTTL reads a token lifetime from configuration. Accepted forms are a
// bare integer (seconds), a day suffix ("7d"), or anything
// time.ParseDuration understands ("30m", "12h"). Non-positive lifetimes
// are rejected.
func ParseTTL(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty ttl")
	}

	var d time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid ttl %q: %w", raw, err)
		}
		d = time.Duration(days) * 24 * time.Hour
	default:
		if secs, err := strconv.Atoi(s); err == nil {
			d = time.Duration(secs) * time.Second
		} else {
			parsed, perr := time.ParseDuration(s)
			if perr != nil {
				return 0, fmt.Errorf("invalid ttl %q", raw)
			}
			d = parsed
		}
	}

	if d <= 0 {
		return 0, fmt.Errorf("ttl %q must be positive", raw)
	}
	return d, nil
}
