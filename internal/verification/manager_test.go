package verification

import (
	"context"
	"testing"
	"time"

	"ticket-verifier/internal/scanner"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(auth *fakeAuthority, src *fakeSource) *Manager {
	return NewManager(ManagerConfig{
		Lookup:   auth,
		Verifier: auth,
		Scanner:  func() scanner.Source { return src },
		IdleTTL:  time.Minute,
	})
}

func TestManager_OpenGetClose(t *testing.T) {
	m := newTestManager(newFakeAuthority(ticket("TKT-1", false)), newFakeSource())

	s, err := m.Open("op-1", "bearer-1")
	require.NoError(t, err)
	_, err = uuid.Parse(s.ID())
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(s.ID(), "op-1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get(s.ID(), "op-2")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, m.Close(s.ID(), "op-2"), ErrUnknownSession)

	require.NoError(t, m.Close(s.ID(), "op-1"))
	assert.Equal(t, 0, m.Len())
	_, err = m.Get(s.ID(), "op-1")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, m.Close(s.ID(), "op-1"), ErrUnknownSession)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	auth := newFakeAuthority(ticket("TKT-1", false), ticket("TKT-2", true))
	m := newTestManager(auth, newFakeSource())
	defer m.Shutdown()
	ctx := context.Background()

	a, err := m.Open("op-1", "bearer-1")
	require.NoError(t, err)
	b, err := m.Open("op-2", "bearer-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.SubmitManualIdentifier(ctx, "TKT-1"))
	require.NoError(t, b.SubmitManualIdentifier(ctx, "TKT-2"))

	assert.Equal(t, OutcomeValid, a.State().Outcome)
	assert.Equal(t, OutcomeAlreadyUsed, b.State().Outcome)
}

func TestManager_SweepClosesIdleSessions(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(newFakeAuthority(), src)
	now := time.Now()
	m.now = func() time.Time { return now }

	idle, err := m.Open("op-1", "")
	require.NoError(t, err)
	require.NoError(t, idle.StartScanning(context.Background()))

	assert.Equal(t, 0, m.Sweep())

	now = now.Add(2 * time.Minute)
	fresh, err := m.Open("op-2", "")
	require.NoError(t, err)
	fresh.lastActive = now

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.False(t, src.isRunning())

	_, err = m.Get(idle.ID(), "op-1")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = m.Get(fresh.ID(), "op-2")
	assert.NoError(t, err)
}

func TestManager_SweepSkipsBusySessions(t *testing.T) {
	auth := newFakeAuthority(ticket("TKT-1", false))
	auth.block()
	m := newTestManager(auth, newFakeSource())
	now := time.Now()
	m.now = func() time.Time { return now }

	s, err := m.Open("op-1", "")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.SubmitManualIdentifier(context.Background(), "TKT-1") }()
	require.Eventually(t, func() bool { return s.State().Phase == PhaseResolving }, waitFor, tick)

	now = now.Add(time.Hour)
	assert.Equal(t, 0, m.Sweep())

	auth.release()
	require.NoError(t, <-done)
	m.Shutdown()
	assert.Equal(t, 0, m.Len())
}

func TestManager_RunShutsDownOnCancel(t *testing.T) {
	m := newTestManager(newFakeAuthority(), newFakeSource())
	_, err := m.Open("op-1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, 0, m.Len())
}

func TestManager_DefaultToken(t *testing.T) {
	auth := newFakeAuthority(ticket("TKT-1", false))
	m := NewManager(ManagerConfig{Lookup: auth, Verifier: auth, DefaultToken: "service-token"})
	defer m.Shutdown()

	s, err := m.Open("op-1", "")
	require.NoError(t, err)
	require.NoError(t, s.SubmitManualIdentifier(context.Background(), "TKT-1"))

	assert.Equal(t, []string{"service-token"}, auth.tokens)
}
