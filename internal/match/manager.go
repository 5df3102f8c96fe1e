package match

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/blastio/internal/game"
	"github.com/udisondev/blastio/internal/game/mapgen"
	"github.com/udisondev/blastio/internal/metrics"
)

var ErrMatchNotFound = errors.New("match not found")

// EventPublisher mirrors match lifecycle events to the cluster relay.
// May be left unset.
type EventPublisher interface {
	PublishMatchEnded(matchID, winnerID string, playerCount int)
}

// Manager tracks every live match and which match each user belongs
// to. Finished matches remove themselves.
type Manager struct {
	mu      sync.RWMutex
	matches map[string]*Match
	byUser  map[string]string // userID -> matchID

	gen      *mapgen.Generator
	notifier Notifier
	sink     ResultSink
	lobbies  LobbyStore
	metrics  *metrics.Registry
	pub      EventPublisher

	// waitFor bounds how long a created match may sit in Waiting before
	// it is abandoned and reclaimed.
	waitFor time.Duration
}

// SetEventPublisher installs the cluster event mirror. Call before the
// first Create.
func (mgr *Manager) SetEventPublisher(p EventPublisher) {
	mgr.pub = p
}

// NewManager creates the match manager. sink and lobbies may be nil;
// the affected best-effort paths become no-ops.
func NewManager(notifier Notifier, sink ResultSink, lobbies LobbyStore, reg *metrics.Registry) *Manager {
	return &Manager{
		matches:  make(map[string]*Match),
		byUser:   make(map[string]string),
		gen:      mapgen.NewGenerator(game.MapWidth, game.MapHeight),
		notifier: notifier,
		sink:     sink,
		lobbies:  lobbies,
		metrics:  reg,
		waitFor:  waitTimeout,
	}
}

// Create registers a new match for the given members and returns its
// controller. Members are bound to the match immediately so message
// routing works from the moment the assignment is announced.
func (mgr *Manager) Create(ctx context.Context, memberIDs []string) (*Match, error) {
	matchID := uuid.NewString()
	m := newMatch(matchID, len(memberIDs), mgr.waitFor, mgr.gen, mgr.notifier, mgr.sink, mgr.lobbies, mgr.metrics, mgr.reclaim)

	mgr.mu.Lock()
	mgr.matches[matchID] = m
	for _, id := range memberIDs {
		mgr.byUser[id] = matchID
	}
	count := len(mgr.matches)
	mgr.mu.Unlock()

	if mgr.metrics != nil {
		mgr.metrics.ActiveMatches.Set(float64(count))
	}
	if mgr.lobbies != nil {
		if err := mgr.lobbies.CreateLobby(ctx, matchID, len(memberIDs)); err != nil {
			slog.Warn("creating lobby record", "match", matchID, "error", err)
		}
	}

	go mgr.forwardEvents(m)

	slog.Info("match created", "match", matchID, "players", len(memberIDs))
	return m, nil
}

// forwardEvents drains the match's control stream and mirrors terminal
// events to the cluster. Runs until the stream closes at Finished.
func (mgr *Manager) forwardEvents(m *Match) {
	for ev := range m.Events() {
		if ev.Type != "match_ended" || mgr.pub == nil {
			continue
		}
		winnerID, _ := ev.Data["winnerId"].(string)
		count := 0
		if rankings, ok := ev.Data["rankings"].([]game.FinalRanking); ok {
			count = len(rankings)
		}
		mgr.pub.PublishMatchEnded(m.ID, winnerID, count)
	}
}

// Get returns a match by ID or ErrMatchNotFound.
func (mgr *Manager) Get(matchID string) (*Match, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	m, ok := mgr.matches[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// MatchFor returns the match a user is bound to, or ErrMatchNotFound.
func (mgr *Manager) MatchFor(userID string) (*Match, error) {
	mgr.mu.RLock()
	matchID, ok := mgr.byUser[userID]
	m := mgr.matches[matchID]
	mgr.mu.RUnlock()

	if !ok || m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// Count returns the number of live matches.
func (mgr *Manager) Count() int {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return len(mgr.matches)
}

// MarkDisconnected flags the user's connection as gone in whichever
// match they belong to. Called from the disconnect cascade.
func (mgr *Manager) MarkDisconnected(userID string) {
	if m, err := mgr.MatchFor(userID); err == nil {
		m.MarkDisconnected(userID)
	}
}

// reclaim removes a finished match and its user bindings.
func (mgr *Manager) reclaim(m *Match) {
	mgr.mu.Lock()
	delete(mgr.matches, m.ID)
	for userID, matchID := range mgr.byUser {
		if matchID == m.ID {
			delete(mgr.byUser, userID)
		}
	}
	count := len(mgr.matches)
	mgr.mu.Unlock()

	if mgr.metrics != nil {
		mgr.metrics.ActiveMatches.Set(float64(count))
	}
	slog.Info("match reclaimed", "match", m.ID)
}
