package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/blastio/internal/cache"
	"github.com/udisondev/blastio/internal/game"
	"github.com/udisondev/blastio/internal/match"
)

// fakeStore is an in-memory QueueStore.
type fakeStore struct {
	mu          sync.Mutex
	entries     map[string]cache.QueueEntry
	assignments map[string]cache.MatchAssignment
	cachedMMR   map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:     make(map[string]cache.QueueEntry),
		assignments: make(map[string]cache.MatchAssignment),
		cachedMMR:   make(map[string]int),
	}
}

func (s *fakeStore) EnqueueMatchmaking(_ context.Context, e cache.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.UserID] = e
	return nil
}

func (s *fakeStore) RemoveFromQueue(_ context.Context, userIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range userIDs {
		delete(s.entries, id)
	}
	return nil
}

func (s *fakeStore) SnapshotQueue(_ context.Context) ([]cache.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cache.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) QueueSize(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *fakeStore) PutMatchAssignments(_ context.Context, assignments map[string]cache.MatchAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range assignments {
		s.assignments[id] = a
	}
	return nil
}

func (s *fakeStore) CachedUserMMR(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mmr, ok := s.cachedMMR[userID]; ok {
		return mmr, nil
	}
	return 0, cache.ErrNotFound
}

func (s *fakeStore) CacheUserMMR(_ context.Context, userID string, mmr int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedMMR[userID] = mmr
	return nil
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fakeRatings serves fixed MMR values and errors for everyone else.
type fakeRatings struct {
	mmr map[string]int
}

func (f *fakeRatings) UserMMR(_ context.Context, userID string) (int, error) {
	if mmr, ok := f.mmr[userID]; ok {
		return mmr, nil
	}
	return 0, errors.New("user not found")
}

// fakeNotifier records message types per user.
type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[string][]string)}
}

func (f *fakeNotifier) SendToUser(userID, msgType string, _ any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[userID] = append(f.sent[userID], msgType)
	return true
}

func (f *fakeNotifier) TrySendToUser(userID, msgType string, payload any) bool {
	return f.SendToUser(userID, msgType, payload)
}

func (f *fakeNotifier) received(userID, msgType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.sent[userID] {
		if t == msgType {
			return true
		}
	}
	return false
}

func newTestMatchmaker(store *fakeStore, ratings RatingSource, notifier *fakeNotifier) *Matchmaker {
	matches := match.NewManager(notifier, nil, nil, nil)
	return New(store, ratings, matches, notifier, nil, nil)
}

func TestMMRWindow(t *testing.T) {
	assert.Equal(t, 100, mmrWindow(0))
	assert.Equal(t, 100, mmrWindow(9*time.Second))
	assert.Equal(t, 150, mmrWindow(10*time.Second))
	assert.Equal(t, 400, mmrWindow(65*time.Second))
	assert.Equal(t, 500, mmrWindow(80*time.Second))
	assert.Equal(t, 500, mmrWindow(10*time.Minute))
}

func TestJoinGuestUsesDefaultMMR(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, &fakeRatings{}, notifier)

	require.NoError(t, mm.Join(context.Background(), "guest_abc", "Guest"))

	e := store.entries["guest_abc"]
	assert.Equal(t, defaultMMR, e.MMR)
	assert.True(t, notifier.received("guest_abc", "matchmaking:joined"))
}

func TestJoinReadsRatingAndCachesIt(t *testing.T) {
	store := newFakeStore()
	ratings := &fakeRatings{mmr: map[string]int{"u1": 1473}}
	mm := newTestMatchmaker(store, ratings, newFakeNotifier())

	require.NoError(t, mm.Join(context.Background(), "u1", "alice"))

	assert.Equal(t, 1473, store.entries["u1"].MMR)
	assert.Equal(t, 1473, store.cachedMMR["u1"])

	// Subsequent joins hit the cache, not the ratings source.
	store.cachedMMR["u1"] = 1500
	require.NoError(t, mm.Join(context.Background(), "u1", "alice"))
	assert.Equal(t, 1500, store.entries["u1"].MMR)
}

func TestJoinRatingFailureFallsBack(t *testing.T) {
	store := newFakeStore()
	mm := newTestMatchmaker(store, &fakeRatings{}, newFakeNotifier())

	require.NoError(t, mm.Join(context.Background(), "unknown", "who"))
	assert.Equal(t, defaultMMR, store.entries["unknown"].MMR)
}

func TestLeave(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, nil, notifier)

	require.NoError(t, mm.Join(context.Background(), "guest_a", "a"))
	require.NoError(t, mm.Leave(context.Background(), "guest_a"))

	assert.Equal(t, 0, store.size())
	assert.True(t, notifier.received("guest_a", "matchmaking:left"))
}

func TestCycleComposesGroup(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, nil, notifier)

	enqueue(store, "u1", 1000, 0)
	enqueue(store, "u2", 1050, 0)

	require.NoError(t, mm.cycle(context.Background()))

	assert.Equal(t, 0, store.size())
	assert.True(t, notifier.received("u1", "matchmaking:match_found"))
	assert.True(t, notifier.received("u2", "matchmaking:match_found"))

	a1 := store.assignments["u1"]
	a2 := store.assignments["u2"]
	require.NotEmpty(t, a1.MatchID)
	assert.Equal(t, a1.MatchID, a2.MatchID)
	assert.Equal(t, 2, a1.PlayerCount)
}

func TestCycleSinglePlayerWaits(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, nil, notifier)

	enqueue(store, "u1", 1000, 0)

	require.NoError(t, mm.cycle(context.Background()))

	assert.Equal(t, 1, store.size())
	assert.False(t, notifier.received("u1", "matchmaking:match_found"))
}

func TestCycleWindowWidensWithWait(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, nil, notifier)

	// 200 MMR apart: outside the fresh 100 window.
	enqueue(store, "u1", 1000, 0)
	enqueue(store, "u2", 1200, 0)

	require.NoError(t, mm.cycle(context.Background()))
	assert.Equal(t, 2, store.size())

	// After 30s of waiting the anchor's window is 250 and covers the gap.
	enqueue(store, "u1", 1000, 30*time.Second)

	require.NoError(t, mm.cycle(context.Background()))
	assert.Equal(t, 0, store.size())
	assert.True(t, notifier.received("u2", "matchmaking:match_found"))
}

func TestCycleCapsGroupSize(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, nil, notifier)

	for i := 0; i < game.MaxPlayers+1; i++ {
		enqueue(store, fmt.Sprintf("u%02d", i), 1000, 0)
	}

	require.NoError(t, mm.cycle(context.Background()))

	// One full group commits, the 17th stays queued.
	assert.Equal(t, 1, store.size())

	counts := make(map[string]int)
	for _, a := range store.assignments {
		counts[a.MatchID]++
	}
	require.Len(t, counts, 1)
	for _, n := range counts {
		assert.Equal(t, game.MaxPlayers, n)
	}
}

func TestCycleEvictsTimedOut(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	mm := newTestMatchmaker(store, nil, notifier)

	enqueue(store, "u1", 1000, queueWaitTimeout+time.Minute)

	require.NoError(t, mm.cycle(context.Background()))

	assert.Equal(t, 0, store.size())
	assert.True(t, notifier.received("u1", "matchmaking:timeout"))
	assert.False(t, notifier.received("u1", "matchmaking:match_found"))
}

func enqueue(store *fakeStore, userID string, mmr int, waited time.Duration) {
	store.entries[userID] = cache.QueueEntry{
		UserID:   userID,
		Username: userID,
		MMR:      mmr,
		JoinedAt: time.Now().UTC().Add(-waited),
	}
}
