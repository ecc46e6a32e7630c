package sessionkit

import (
	"fmt"
	"sync"
	"time"
)

// CooldownActiveError reports a resend attempted while its client-side
// cooldown is still running.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("resend available in %s", e.Remaining.Round(time.Second))
}

// ResendGate tracks one resend cooldown locally so the UI can disable
// its button and skip doomed requests. The server remains the authority;
// the gate just mirrors the retry_after_sec it was last told.
type ResendGate struct {
	mu    sync.Mutex
	until time.Time
}

// NewResendGate returns an open gate.
func NewResendGate() *ResendGate {
	return &ResendGate{}
}

// Ready reports whether a resend is currently allowed.
func (g *ResendGate) Ready() bool {
	return g.Remaining() == 0
}

// Remaining returns the wait left before the next resend, zero when
// open.
func (g *ResendGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	rest := time.Until(g.until)
	if rest < 0 {
		return 0
	}
	return rest
}

// Block closes the gate for d. A shorter d never truncates a running
// cooldown.
func (g *ResendGate) Block(d time.Duration) {
	if d <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(g.until) {
		g.until = until
	}
}
