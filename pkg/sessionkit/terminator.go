package sessionkit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Navigator performs the host application's navigation. For a web view
// this is a location change; for a TUI it swaps to the login screen.
type Navigator interface {
	Redirect(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

func (f NavigatorFunc) Redirect(target string) { f(target) }

// Revoker performs best-effort server-side revocation during teardown.
type Revoker interface {
	Revoke(ctx context.Context) error
}

// RevokerFunc adapts a function to Revoker.
type RevokerFunc func(ctx context.Context) error

func (f RevokerFunc) Revoke(ctx context.Context) error { return f(ctx) }

// CredentialClearer removes the stored credential. *Store satisfies it.
type CredentialClearer interface {
	ClearCredential() error
}

// Terminator defaults.
const (
	DefaultRevocationGrace = 800 * time.Millisecond
	DefaultLoginPath       = "/login"
	RedirectParam          = "redirect"
)

// DefaultProtectedPrefixes are the route prefixes worth returning to
// after re-login. Expiry on a public page redirects to login plainly.
var DefaultProtectedPrefixes = []string{
	"/account",
	"/orders",
	"/checkout",
	"/wishlist",
	"/admin",
	"/supplier",
}

// Terminator tears a session down: best-effort revocation bounded by a
// grace window, local credential clear, then redirect to login with the
// interrupted path carried along when it was worth returning to.
// Termination is one-shot until Reset.
type Terminator struct {
	revoker     Revoker
	credentials CredentialClearer
	nav         Navigator
	loginPath   string
	grace       time.Duration
	protected   []string

	mu   sync.Mutex
	done bool
}

// TerminatorOption customizes a Terminator.
type TerminatorOption func(*Terminator)

// WithRevoker sets the server-side revocation hook.
func WithRevoker(r Revoker) TerminatorOption {
	return func(t *Terminator) { t.revoker = r }
}

// WithLoginPath overrides the login entry point.
func WithLoginPath(path string) TerminatorOption {
	return func(t *Terminator) { t.loginPath = path }
}

// WithRevocationGrace bounds how long termination waits on revocation.
func WithRevocationGrace(d time.Duration) TerminatorOption {
	return func(t *Terminator) { t.grace = d }
}

// WithProtectedPrefixes replaces the return-target prefix list.
func WithProtectedPrefixes(prefixes []string) TerminatorOption {
	return func(t *Terminator) { t.protected = prefixes }
}

// NewTerminator builds a terminator over the credential store and the
// host's navigator.
func NewTerminator(credentials CredentialClearer, nav Navigator, opts ...TerminatorOption) *Terminator {
	t := &Terminator{
		credentials: credentials,
		nav:         nav,
		loginPath:   DefaultLoginPath,
		grace:       DefaultRevocationGrace,
		protected:   DefaultProtectedPrefixes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Terminate runs the teardown for the session active at currentPath.
// Returns true for the call that performed it; concurrent and repeated
// calls return false without side effects. Revocation failures are
// swallowed: the local teardown and redirect always complete.
func (t *Terminator) Terminate(currentPath string) bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	t.mu.Unlock()

	if t.revoker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), t.grace)
		_ = t.revoker.Revoke(ctx)
		cancel()
	}

	if t.credentials != nil {
		_ = t.credentials.ClearCredential()
	}

	t.nav.Redirect(t.target(currentPath))
	return true
}

// Reset re-arms the terminator after a successful login.
func (t *Terminator) Reset() {
	t.mu.Lock()
	t.done = false
	t.mu.Unlock()
}

// RedirectToLogin navigates to the login entry point with no return
// target. Used by deliberate sign-out, which is not a termination.
func (t *Terminator) RedirectToLogin() {
	t.nav.Redirect(t.loginPath)
}

func (t *Terminator) target(currentPath string) string {
	if !t.isProtected(currentPath) {
		return t.loginPath
	}
	return t.loginPath + "?" + RedirectParam + "=" + url.QueryEscape(currentPath)
}

func (t *Terminator) isProtected(path string) bool {
	for _, prefix := range t.protected {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
