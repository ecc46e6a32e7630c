package sessionkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/domain"
)

// ErrNoCredential is returned by Hydrate when nothing is stored: a
// first visit or a post-logout state. Not a failure, just "show login".
var ErrNoCredential = errors.New("no stored credential")

// Kit wires store, client, monitor and terminator into the full client
// lifecycle: login adopts a session and arms the idle monitor; monitor
// expiry and server rejections both run the terminator; deliberate
// sign-out wipes local state wholesale.
type Kit struct {
	client     *Client
	store      *Store
	monitor    *Monitor
	terminator *Terminator
	otpGate    *ResendGate
	emailGate  *ResendGate

	pathFn          func() string
	budgetFn        func(role string) time.Duration
	hydrateInterval time.Duration
	hydrateRetries  uint64

	mu       sync.Mutex
	identity *Identity
}

type kitConfig struct {
	pathFn          func() string
	budgetFn        func(role string) time.Duration
	hydrateInterval time.Duration
	hydrateRetries  uint64
	clientOpts      []ClientOption
	monitorOpts     []MonitorOption
	termOpts        []TerminatorOption
}

// KitOption customizes a Kit.
type KitOption func(*kitConfig)

// WithCurrentPath supplies the host's notion of the current route, used
// as the post-login return target on termination.
func WithCurrentPath(fn func() string) KitOption {
	return func(cfg *kitConfig) { cfg.pathFn = fn }
}

// WithIdleBudget overrides the fallback role-to-idle-budget mapping
// used when the server response carries no usable deadlines.
func WithIdleBudget(fn func(role string) time.Duration) KitOption {
	return func(cfg *kitConfig) { cfg.budgetFn = fn }
}

// WithHydrateRetry tunes the hydration retry schedule.
func WithHydrateRetry(initial time.Duration, retries uint64) KitOption {
	return func(cfg *kitConfig) {
		cfg.hydrateInterval = initial
		cfg.hydrateRetries = retries
	}
}

// WithClientOptions forwards options to the embedded Client.
func WithClientOptions(opts ...ClientOption) KitOption {
	return func(cfg *kitConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithMonitorOptions forwards options to the embedded Monitor.
func WithMonitorOptions(opts ...MonitorOption) KitOption {
	return func(cfg *kitConfig) { cfg.monitorOpts = append(cfg.monitorOpts, opts...) }
}

// WithTerminatorOptions forwards options to the embedded Terminator.
func WithTerminatorOptions(opts ...TerminatorOption) KitOption {
	return func(cfg *kitConfig) { cfg.termOpts = append(cfg.termOpts, opts...) }
}

// NewKit assembles the client lifecycle over a store and the host's
// navigator.
func NewKit(baseURL string, store *Store, nav Navigator, opts ...KitOption) *Kit {
	cfg := &kitConfig{
		pathFn:          func() string { return "/" },
		budgetFn:        defaultIdleBudget,
		hydrateInterval: 500 * time.Millisecond,
		hydrateRetries:  3,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	k := &Kit{
		store:           store,
		otpGate:         NewResendGate(),
		emailGate:       NewResendGate(),
		pathFn:          cfg.pathFn,
		budgetFn:        cfg.budgetFn,
		hydrateInterval: cfg.hydrateInterval,
		hydrateRetries:  cfg.hydrateRetries,
	}

	clientOpts := append([]ClientOption{WithUnauthenticatedHook(k.Invalidate)}, cfg.clientOpts...)
	k.client = NewClient(baseURL, store, clientOpts...)

	k.monitor = NewMonitor(k.onIdleExpired, cfg.monitorOpts...)

	termOpts := append([]TerminatorOption{WithRevoker(RevokerFunc(func(ctx context.Context) error {
		_, err := k.client.Logout(ctx)
		return err
	}))}, cfg.termOpts...)
	k.terminator = NewTerminator(store, nav, termOpts...)

	return k
}

// Login authenticates, stores the credential and arms the idle monitor
// with the role's budget.
func (k *Kit) Login(ctx context.Context, email, password string) (*Identity, error) {
	res, err := k.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return k.adopt(res)
}

// Register creates an account and adopts the session it comes with.
func (k *Kit) Register(ctx context.Context, params RegisterParams) (*Identity, error) {
	res, err := k.client.Register(ctx, params)
	if err != nil {
		return nil, err
	}
	return k.adopt(res)
}

// Hydrate restores a session from the stored credential on startup.
// Transient failures (network, 5xx) are retried with exponential
// backoff; a server rejection is final and has already triggered
// termination through the client hook.
func (k *Kit) Hydrate(ctx context.Context) (*Identity, error) {
	if k.store.Credential() == "" {
		return nil, ErrNoCredential
	}

	var (
		ident *Identity
		sess  *SessionInfo
	)
	operation := func() error {
		var err error
		ident, sess, err = k.client.Me(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnauthenticated) {
			return backoff.Permanent(err)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, k.retryPolicy(ctx)); err != nil {
		return nil, err
	}

	k.setIdentity(ident)
	k.terminator.Reset()
	k.monitor.Arm(k.resolveBudget(*sess, ident.Role))

	out := *ident
	return &out, nil
}

// Touch records user activity.
func (k *Kit) Touch() { k.monitor.Touch() }

// Suspend pauses idle tracking while the host is hidden or sleeping.
func (k *Kit) Suspend() { k.monitor.Suspend() }

// Resume settles a suspension gap; an overrun budget terminates.
func (k *Kit) Resume() { k.monitor.Resume() }

// MonitorState reports the idle monitor's lifecycle state.
func (k *Kit) MonitorState() State { return k.monitor.State() }

// SignOut is the deliberate logout: revoke best-effort, wipe the whole
// local store (credential, consent, cart) and land on login with no
// return target. A revocation failure is reported but never blocks the
// local teardown.
func (k *Kit) SignOut(ctx context.Context) error {
	k.monitor.Stop()
	_, revokeErr := k.client.Logout(ctx)
	k.setIdentity(nil)
	clearErr := k.store.ClearAll()
	k.terminator.RedirectToLogin()

	if revokeErr != nil {
		return revokeErr
	}
	return clearErr
}

// Invalidate is the convergence point for "this session is gone":
// called by the client hook on 401/403 and available to the host. Stops
// the monitor and runs the terminator once.
func (k *Kit) Invalidate() {
	k.monitor.Stop()
	k.setIdentity(nil)
	k.terminator.Terminate(k.pathFn())
}

// ResendOTP requests a phone code, honoring the local cooldown gate.
func (k *Kit) ResendOTP(ctx context.Context) (*Resend, error) {
	return k.resendThrough(ctx, k.otpGate, k.client.ResendOTP)
}

// ResendEmail requests a verification mail, honoring its cooldown gate.
func (k *Kit) ResendEmail(ctx context.Context) (*Resend, error) {
	return k.resendThrough(ctx, k.emailGate, k.client.ResendEmail)
}

// VerifyPhone submits an OTP code and refreshes the cached identity.
func (k *Kit) VerifyPhone(ctx context.Context, code string) (*Identity, error) {
	ident, err := k.client.VerifyPhone(ctx, code)
	if err != nil {
		return nil, err
	}
	k.setIdentity(ident)
	return ident, nil
}

// Identity returns a copy of the last hydrated identity, nil when
// logged out.
func (k *Kit) Identity() *Identity {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.identity == nil {
		return nil
	}
	out := *k.identity
	return &out
}

// Client exposes the underlying API client for calls the kit does not
// wrap.
func (k *Kit) Client() *Client { return k.client }

// Store exposes the local state store.
func (k *Kit) Store() *Store { return k.store }

func (k *Kit) adopt(res *LoginResult) (*Identity, error) {
	if err := k.store.SetCredential(res.Token); err != nil {
		return nil, err
	}
	k.setIdentity(&res.Identity)
	k.terminator.Reset()
	k.monitor.Arm(k.resolveBudget(res.Session, res.Identity.Role))

	out := res.Identity
	return &out, nil
}

func (k *Kit) onIdleExpired() {
	k.setIdentity(nil)
	k.terminator.Terminate(k.pathFn())
}

// resolveBudget prefers the server-computed deadlines; the local policy
// table is only the fallback.
func (k *Kit) resolveBudget(sess SessionInfo, role string) time.Duration {
	if b := sess.IdleBudget(); b > 0 {
		return b
	}
	return k.budgetFn(role)
}

func (k *Kit) resendThrough(ctx context.Context, gate *ResendGate, call func(context.Context) (*Resend, error)) (*Resend, error) {
	if wait := gate.Remaining(); wait > 0 {
		return nil, &CooldownActiveError{Remaining: wait}
	}

	res, err := call(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			gate.Block(apiErr.RetryAfter)
		}
		return nil, err
	}

	gate.Block(res.RetryAfter)
	return res, nil
}

func (k *Kit) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = k.hydrateInterval
	return backoff.WithContext(backoff.WithMaxRetries(b, k.hydrateRetries), ctx)
}

func (k *Kit) setIdentity(ident *Identity) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.identity = ident
}

func defaultIdleBudget(role string) time.Duration {
	return auth.PolicyFor(domain.Role(role)).Idle
}
