package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateBindsMembers(t *testing.T) {
	mgr := NewManager(newFakeNotifier(), nil, nil, nil)

	m, err := mgr.Create(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.NotNil(t, m)
	t.Cleanup(m.cancel)

	assert.Equal(t, 1, mgr.Count())

	got, err := mgr.Get(m.ID)
	require.NoError(t, err)
	assert.Same(t, m, got)

	// Members resolve to the match before they even join, so input
	// routing works from the moment the assignment is announced.
	forU1, err := mgr.MatchFor("u1")
	require.NoError(t, err)
	assert.Same(t, m, forU1)
}

func TestManagerUnknownLookups(t *testing.T) {
	mgr := NewManager(newFakeNotifier(), nil, nil, nil)

	_, err := mgr.Get("nope")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = mgr.MatchFor("nobody")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestManagerReclaim(t *testing.T) {
	mgr := NewManager(newFakeNotifier(), nil, nil, nil)

	m, err := mgr.Create(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)

	mgr.reclaim(m)

	assert.Equal(t, 0, mgr.Count())
	_, err = mgr.MatchFor("u1")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestManagerReclaimsAbandonedMatches(t *testing.T) {
	mgr := NewManager(newFakeNotifier(), nil, nil, nil)
	mgr.waitFor = 50 * time.Millisecond

	for i := 0; i < 5; i++ {
		_, err := mgr.Create(context.Background(), []string{userID(2 * i), userID(2*i + 1)})
		require.NoError(t, err)
	}
	require.Equal(t, 5, mgr.Count())

	// Nobody sends match:join; every match must be abandoned and its
	// bindings released.
	assert.Eventually(t, func() bool { return mgr.Count() == 0 }, 2*time.Second, 20*time.Millisecond)

	_, err := mgr.MatchFor(userID(0))
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestManagerMarkDisconnected(t *testing.T) {
	mgr := NewManager(newFakeNotifier(), nil, nil, nil)

	m, err := mgr.Create(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	t.Cleanup(m.cancel)

	require.NoError(t, m.AddPlayer("u1", "alice"))

	// Routed through the manager on disconnect.
	mgr.MarkDisconnected("u1")

	m.mu.RLock()
	p := m.players["u1"]
	m.mu.RUnlock()
	assert.False(t, p.Connected)

	// Users without a match are a no-op.
	mgr.MarkDisconnected("ghost")
}
