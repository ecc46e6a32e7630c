package sessionkit

import (
	"sync"
	"time"
)

// State is the monitor lifecycle. Inactive means no session is being
// watched; Armed means the idle timer is live; Expired is terminal until
// the next Arm.
type State int

const (
	StateInactive State = iota
	StateArmed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateArmed:
		return "armed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// DefaultThrottle is the minimum spacing between activity marks. Bursts
// of activity inside the window collapse into the first mark.
const DefaultThrottle = 2 * time.Second

// Monitor watches user activity against an idle budget and fires its
// expiry callback exactly once per armed period. The callback runs on
// the timer goroutine (or the Resume caller), never under the monitor's
// lock, so it may call back into the monitor.
type Monitor struct {
	mu           sync.Mutex
	state        State
	epoch        uint64
	budget       time.Duration
	throttle     time.Duration
	lastActivity time.Time
	suspended    bool
	timer        *time.Timer
	onExpire     func()
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithThrottle overrides the activity-mark spacing. Zero disables
// throttling; every Touch then moves the deadline.
func WithThrottle(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.throttle = d
	}
}

// NewMonitor builds a monitor in the Inactive state.
func NewMonitor(onExpire func(), opts ...MonitorOption) *Monitor {
	m := &Monitor{
		throttle: DefaultThrottle,
		onExpire: onExpire,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Arm starts (or restarts) watching with the given idle budget. Arming
// counts as activity: the full budget is available from now.
func (m *Monitor) Arm(budget time.Duration) {
	if budget <= 0 {
		return
	}

	m.mu.Lock()
	m.state = StateArmed
	m.suspended = false
	m.budget = budget
	m.lastActivity = time.Now()
	m.scheduleLocked(budget)
	m.mu.Unlock()
}

// Touch records user activity, pushing the idle deadline out by a full
// budget. Touches inside the throttle window are dropped without moving
// anything. Touches while Inactive, Expired or suspended are ignored.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateArmed || m.suspended {
		return
	}

	now := time.Now()
	if now.Before(m.lastActivity) {
		return
	}
	if now.Sub(m.lastActivity) < m.throttle {
		return
	}

	m.lastActivity = now
	m.scheduleLocked(m.budget)
}

// Suspend pauses the timer while keeping the last-activity mark, for
// hosts that know the user cannot generate activity (window hidden,
// machine about to sleep). Resume settles what the gap meant.
func (m *Monitor) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateArmed || m.suspended {
		return
	}
	m.suspended = true
	m.cancelTimerLocked()
}

// Resume ends a suspension. If the gap already exceeded the budget the
// monitor expires immediately; otherwise the timer restarts with the
// remaining allowance.
func (m *Monitor) Resume() {
	m.mu.Lock()

	if m.state != StateArmed || !m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = false

	elapsed := time.Since(m.lastActivity)
	if elapsed >= m.budget {
		m.expireLocked()
		return
	}

	m.scheduleLocked(m.budget - elapsed)
	m.mu.Unlock()
}

// Stop returns the monitor to Inactive without firing the callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateInactive
	m.suspended = false
	m.cancelTimerLocked()
}

// State reports the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IdleFor reports how long the session has been without activity. Zero
// when not armed.
func (m *Monitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateArmed {
		return 0
	}
	return time.Since(m.lastActivity)
}

// scheduleLocked replaces the pending timer. The epoch ties each timer
// to the arming period that created it; a stale timer that fires after
// its epoch passed is ignored.
func (m *Monitor) scheduleLocked(d time.Duration) {
	m.cancelTimerLocked()
	epoch := m.epoch
	m.timer = time.AfterFunc(d, func() {
		m.expire(epoch)
	})
}

func (m *Monitor) cancelTimerLocked() {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) expire(epoch uint64) {
	m.mu.Lock()
	if m.state != StateArmed || m.suspended || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.expireLocked()
}

// expireLocked transitions to Expired and fires the callback with the
// lock released. Callers must hold the lock; it is released here.
func (m *Monitor) expireLocked() {
	m.state = StateExpired
	m.cancelTimerLocked()
	cb := m.onExpire
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}
