package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketplace-kit/session-service/internal/domain"
	"github.com/marketplace-kit/session-service/internal/events"
	"github.com/marketplace-kit/session-service/internal/repository/repotest"
)

type expiredRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *expiredRecorder) record(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *expiredRecorder) reasons() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.events))
	for _, e := range r.events {
		out[e.SessionID] = e.Payload.(events.SessionExpiredPayload).Reason
	}
	return out
}

func seedSweepFixtures(sessions *repotest.Sessions) {
	now := time.Now()
	sessions.Put(domain.Session{
		ID:             "fresh",
		UserID:         "user-1",
		Role:           domain.RoleShopper,
		LastActivity:   now,
		AbsoluteExpiry: now.Add(24 * time.Hour),
	})
	sessions.Put(domain.Session{
		ID:             "idle-stale",
		UserID:         "user-1",
		Role:           domain.RoleShopper,
		LastActivity:   now.Add(-8 * 24 * time.Hour),
		AbsoluteExpiry: now.Add(24 * time.Hour),
	})
	sessions.Put(domain.Session{
		ID:           "absolute-stale",
		UserID:       "user-2",
		Role:         domain.RoleSuperAdmin,
		LastActivity: now,
		// recent activity, but the hard lifetime cap has passed
		AbsoluteExpiry: now.Add(-time.Minute),
	})
}

func TestSweepReapsExpiredSessions(t *testing.T) {
	sessions := repotest.NewSessions()
	seedSweepFixtures(sessions)

	recorder := &expiredRecorder{}
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventSessionExpired, recorder.record)

	reaper := NewSessionReaper(sessions, dispatcher, zap.NewNop(), time.Minute)
	reaper.sweep(context.Background())

	assert.Equal(t, 1, sessions.Count())
	_, err := sessions.Get(context.Background(), "fresh")
	assert.NoError(t, err)

	reasons := recorder.reasons()
	assert.Equal(t, events.ReasonIdle, reasons["idle-stale"])
	assert.Equal(t, events.ReasonAbsolute, reasons["absolute-stale"])
	assert.NotContains(t, reasons, "fresh")
}

func TestSweepIsQuietWhenNothingExpired(t *testing.T) {
	sessions := repotest.NewSessions()
	sessions.Put(domain.Session{
		ID:             "fresh",
		UserID:         "user-1",
		Role:           domain.RoleShopper,
		LastActivity:   time.Now(),
		AbsoluteExpiry: time.Now().Add(24 * time.Hour),
	})

	recorder := &expiredRecorder{}
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventSessionExpired, recorder.record)

	reaper := NewSessionReaper(sessions, dispatcher, zap.NewNop(), time.Minute)
	reaper.sweep(context.Background())
	reaper.sweep(context.Background())

	assert.Equal(t, 1, sessions.Count())
	assert.Empty(t, recorder.reasons())
}

func TestRunSweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	sessions := repotest.NewSessions()
	seedSweepFixtures(sessions)

	reaper := NewSessionReaper(sessions, events.NewInMemoryDispatcher(), zap.NewNop(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	// the startup sweep runs before the first tick
	require.Eventually(t, func() bool { return sessions.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after context cancel")
	}
}

func TestNewSessionReaperDefaultsInterval(t *testing.T) {
	reaper := NewSessionReaper(repotest.NewSessions(), nil, zap.NewNop(), 0)
	assert.Equal(t, time.Minute, reaper.interval)
}
