package sessionkit_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-kit/session-service/internal/auth"
	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/pkg/sessionkit"
)

type expiryCounter struct {
	ch    chan struct{}
	count atomic.Int32
}

func newExpiryCounter() *expiryCounter {
	return &expiryCounter{ch: make(chan struct{}, 16)}
}

func (c *expiryCounter) fire() {
	c.count.Add(1)
	c.ch <- struct{}{}
}

func (c *expiryCounter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry callback never fired")
	}
}

func (c *expiryCounter) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-c.ch:
		t.Fatal("unexpected expiry callback")
	case <-time.After(d):
	}
}

func TestMonitorExpiresAfterIdleBudget(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(80 * time.Millisecond)
	assert.Equal(t, sessionkit.StateArmed, m.State())

	counter.wait(t)
	assert.Equal(t, sessionkit.StateExpired, m.State())

	// terminal until the next Arm: no second firing
	counter.quiet(t, 200*time.Millisecond)
	assert.Equal(t, int32(1), counter.count.Load())
}

func TestMonitorTouchExtendsDeadline(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire, sessionkit.WithThrottle(0))

	m.Arm(300 * time.Millisecond)
	for i := 0; i < 4; i++ {
		time.Sleep(75 * time.Millisecond)
		m.Touch()
	}
	// more than one budget has elapsed in total, but activity kept
	// pushing the deadline out
	assert.Equal(t, int32(0), counter.count.Load())

	counter.wait(t)
	assert.Equal(t, int32(1), counter.count.Load())
}

func TestMonitorThrottleCollapsesBursts(t *testing.T) {
	m := sessionkit.NewMonitor(nil, sessionkit.WithThrottle(200*time.Millisecond))
	m.Arm(time.Hour)

	time.Sleep(50 * time.Millisecond)
	m.Touch()
	// inside the throttle window: the mark must not have moved
	assert.GreaterOrEqual(t, m.IdleFor(), 40*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	m.Touch()
	assert.Less(t, m.IdleFor(), 100*time.Millisecond)
}

func TestMonitorSuspendBlocksExpiry(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(100 * time.Millisecond)
	m.Suspend()

	counter.quiet(t, 250*time.Millisecond)
	assert.Equal(t, sessionkit.StateArmed, m.State())

	// activity cannot happen while suspended
	m.Touch()

	// the gap exceeded the budget, so resuming settles it immediately
	m.Resume()
	assert.Equal(t, sessionkit.StateExpired, m.State())
	assert.Equal(t, int32(1), counter.count.Load())
}

func TestMonitorResumeWithinBudgetRearms(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(400 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	m.Suspend()
	time.Sleep(100 * time.Millisecond)

	m.Resume()
	assert.Equal(t, sessionkit.StateArmed, m.State())

	counter.wait(t)
	assert.Equal(t, int32(1), counter.count.Load())
}

func TestMonitorStopPreventsCallback(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(80 * time.Millisecond)
	m.Stop()

	counter.quiet(t, 250*time.Millisecond)
	assert.Equal(t, sessionkit.StateInactive, m.State())
	assert.Equal(t, time.Duration(0), m.IdleFor())
}

func TestMonitorRearmsAfterExpiry(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(60 * time.Millisecond)
	counter.wait(t)

	m.Arm(60 * time.Millisecond)
	counter.wait(t)
	assert.Equal(t, int32(2), counter.count.Load())
}

func TestMonitorTouchIgnoredAfterExpiry(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(60 * time.Millisecond)
	counter.wait(t)

	m.Touch()
	assert.Equal(t, sessionkit.StateExpired, m.State())
	counter.quiet(t, 150*time.Millisecond)
}

func TestMonitorArmRequiresPositiveBudget(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(0)
	assert.Equal(t, sessionkit.StateInactive, m.State())
	m.Arm(-time.Second)
	assert.Equal(t, sessionkit.StateInactive, m.State())

	counter.quiet(t, 100*time.Millisecond)
}

func TestMonitorCallbackMayRearm(t *testing.T) {
	var m *sessionkit.Monitor
	counter := newExpiryCounter()

	m = sessionkit.NewMonitor(func() {
		counter.fire()
		if counter.count.Load() == 1 {
			m.Arm(60 * time.Millisecond)
		}
	})

	m.Arm(60 * time.Millisecond)
	counter.wait(t)
	counter.wait(t)
	assert.Equal(t, int32(2), counter.count.Load())
}

// TestMonitorExpiresExactlyOnceUnderChurn hammers the monitor from
// several goroutines. Whatever the interleaving, one armed period must
// produce exactly one callback.
func TestMonitorExpiresExactlyOnceUnderChurn(t *testing.T) {
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	m.Arm(50 * time.Millisecond)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				switch n % 3 {
				case 0:
					m.Touch()
				case 1:
					m.Suspend()
				case 2:
					m.Resume()
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	time.Sleep(300 * time.Millisecond)
	close(stop)
	wg.Wait()

	// settle a possible trailing suspension; past the budget this either
	// expires now or finds the monitor already expired
	m.Resume()

	require.Eventually(t, func() bool { return counter.count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), counter.count.Load())
}

// The two role scenarios below run against budgets derived from the server's
// policy table, scaled from minutes/days down to milliseconds.

func TestMonitorAdminBudgetExpiresExactlyOnce(t *testing.T) {
	budget := auth.PolicyFor(domain.RoleAdmin).Idle / 6000 // 30m scaled to 300ms
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire)

	start := time.Now()
	m.Arm(budget)

	counter.wait(t)
	assert.GreaterOrEqual(t, time.Since(start), budget)
	assert.Equal(t, sessionkit.StateExpired, m.State())

	counter.quiet(t, 200*time.Millisecond)
	assert.Equal(t, int32(1), counter.count.Load())
}

func TestMonitorShopperLateActivityDefersExpiry(t *testing.T) {
	budget := auth.PolicyFor(domain.RoleShopper).Idle / 1_800_000 // 7d scaled to 336ms
	counter := newExpiryCounter()
	m := sessionkit.NewMonitor(counter.fire, sessionkit.WithThrottle(0))

	m.Arm(budget)

	// activity late in the window pushes the deadline to touch+budget
	time.Sleep(260 * time.Millisecond)
	touchedAt := time.Now()
	m.Touch()

	// past the original deadline the session must still be armed
	time.Sleep(140 * time.Millisecond)
	assert.Equal(t, sessionkit.StateArmed, m.State())
	assert.Equal(t, int32(0), counter.count.Load())

	counter.wait(t)
	assert.GreaterOrEqual(t, time.Since(touchedAt), budget)
	assert.Equal(t, int32(1), counter.count.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "inactive", sessionkit.StateInactive.String())
	assert.Equal(t, "armed", sessionkit.StateArmed.String())
	assert.Equal(t, "expired", sessionkit.StateExpired.String())
	assert.Equal(t, "unknown", sessionkit.State(99).String())
}
