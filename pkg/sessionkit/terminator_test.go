package sessionkit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-kit/session-service/pkg/sessionkit"
)

type navRecorder struct {
	mu      sync.Mutex
	targets []string
}

func (n *navRecorder) Redirect(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func (n *navRecorder) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.targets) == 0 {
		return ""
	}
	return n.targets[len(n.targets)-1]
}

func (n *navRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.targets)
}

func TestTerminateRevokesClearsAndRedirects(t *testing.T) {
	store := sessionkit.NewStore()
	require.NoError(t, store.SetCredential("token-123"))

	var revoked atomic.Int32
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(store, nav,
		sessionkit.WithRevoker(sessionkit.RevokerFunc(func(context.Context) error {
			revoked.Add(1)
			return nil
		})))

	assert.True(t, term.Terminate("/account/orders"))

	assert.Equal(t, int32(1), revoked.Load())
	assert.Empty(t, store.Credential())
	assert.Equal(t, "/login?redirect=%2Faccount%2Forders", nav.last())
}

func TestTerminatePublicPathOmitsReturnTarget(t *testing.T) {
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(sessionkit.NewStore(), nav)

	assert.True(t, term.Terminate("/products/shoes"))
	assert.Equal(t, "/login", nav.last())
}

func TestTerminateProtectedPathMatching(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/account", "/login?redirect=%2Faccount"},
		{"/account/orders", "/login?redirect=%2Faccount%2Forders"},
		{"/checkout/payment", "/login?redirect=%2Fcheckout%2Fpayment"},
		{"/admin/users", "/login?redirect=%2Fadmin%2Fusers"},
		// a shared prefix is not a match; only exact or slash-separated
		{"/accounts", "/login"},
		{"/", "/login"},
		{"", "/login"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			nav := &navRecorder{}
			term := sessionkit.NewTerminator(sessionkit.NewStore(), nav)
			term.Terminate(tc.path)
			assert.Equal(t, tc.want, nav.last())
		})
	}
}

func TestTerminateIsOneShot(t *testing.T) {
	nav := &navRecorder{}
	store := sessionkit.NewStore()
	term := sessionkit.NewTerminator(store, nav)

	assert.True(t, term.Terminate("/account"))
	assert.False(t, term.Terminate("/account"))
	assert.Equal(t, 1, nav.count())
}

func TestTerminateConcurrentCallsRunOnce(t *testing.T) {
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(sessionkit.NewStore(), nav)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if term.Terminate("/account") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, nav.count())
}

func TestTerminateSwallowsRevocationFailure(t *testing.T) {
	store := sessionkit.NewStore()
	require.NoError(t, store.SetCredential("token-123"))

	nav := &navRecorder{}
	term := sessionkit.NewTerminator(store, nav,
		sessionkit.WithRevoker(sessionkit.RevokerFunc(func(context.Context) error {
			return errors.New("server unreachable")
		})))

	assert.True(t, term.Terminate("/account"))
	assert.Empty(t, store.Credential())
	assert.Equal(t, 1, nav.count())
}

// TestTerminateBoundsSlowRevocation pins the race between revocation
// and the grace window: a hung revoker must not hold up teardown beyond
// the grace.
func TestTerminateBoundsSlowRevocation(t *testing.T) {
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(sessionkit.NewStore(), nav,
		sessionkit.WithRevocationGrace(50*time.Millisecond),
		sessionkit.WithRevoker(sessionkit.RevokerFunc(func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		})))

	start := time.Now()
	assert.True(t, term.Terminate("/account"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, nav.count())
}

func TestTerminateResetRearms(t *testing.T) {
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(sessionkit.NewStore(), nav)

	assert.True(t, term.Terminate("/account"))
	term.Reset()
	assert.True(t, term.Terminate("/orders"))
	assert.Equal(t, 2, nav.count())
}

func TestRedirectToLoginDoesNotConsumeTermination(t *testing.T) {
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(sessionkit.NewStore(), nav)

	term.RedirectToLogin()
	assert.Equal(t, "/login", nav.last())

	// sign-out navigation is not a termination; the one-shot is intact
	assert.True(t, term.Terminate("/account"))
	assert.Equal(t, 2, nav.count())
}

func TestTerminatorOptions(t *testing.T) {
	nav := &navRecorder{}
	term := sessionkit.NewTerminator(sessionkit.NewStore(), nav,
		sessionkit.WithLoginPath("/signin"),
		sessionkit.WithProtectedPrefixes([]string{"/dashboard"}))

	term.Terminate("/dashboard/reports")
	assert.Equal(t, "/signin?redirect=%2Fdashboard%2Freports", nav.last())

	term.Reset()
	// the default prefixes were replaced, so /account is public now
	term.Terminate("/account")
	assert.Equal(t, "/signin", nav.last())
}
