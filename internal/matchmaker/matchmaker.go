// Package matchmaker runs the MMR-bucketed queue: players join a
// Redis-backed sorted queue, and a background loop periodically
// composes groups with a wait-time-widening MMR window and commits
// them to new matches.
package matchmaker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/udisondev/blastio/internal/cache"
	"github.com/udisondev/blastio/internal/game"
	"github.com/udisondev/blastio/internal/match"
	"github.com/udisondev/blastio/internal/metrics"
)

const (
	// cycleInterval is how often the grouping loop runs.
	cycleInterval = 2 * time.Second

	// The MMR window starts at baseWindow and grows by windowStep for
	// every widenEvery of waiting, capped at windowCap (reached at 80s).
	baseWindow  = 100
	windowStep  = 50
	widenEvery  = 10 * time.Second
	windowCap   = 500

	// queueWaitTimeout evicts players no group ever formed around.
	queueWaitTimeout = 5 * time.Minute

	// defaultMMR is used for guests and for users whose rating cannot
	// be read.
	defaultMMR = 1000
)

// QueueStore is the slice of the cache the matchmaker needs.
type QueueStore interface {
	EnqueueMatchmaking(ctx context.Context, e cache.QueueEntry) error
	RemoveFromQueue(ctx context.Context, userIDs ...string) error
	SnapshotQueue(ctx context.Context) ([]cache.QueueEntry, error)
	QueueSize(ctx context.Context) (int64, error)
	PutMatchAssignments(ctx context.Context, assignments map[string]cache.MatchAssignment) error
	CachedUserMMR(ctx context.Context, userID string) (int, error)
	CacheUserMMR(ctx context.Context, userID string, mmr int) error
}

// RatingSource reads a user's persistent MMR. Implemented by the
// users repository.
type RatingSource interface {
	UserMMR(ctx context.Context, userID string) (int, error)
}

// MatchCreator commits a composed group to a new match.
type MatchCreator interface {
	Create(ctx context.Context, memberIDs []string) (*match.Match, error)
}

// Notifier reaches the queued players' connections.
type Notifier interface {
	SendToUser(userID, msgType string, payload any) bool
}

// Publisher announces committed matches to the rest of the cluster.
// May be nil.
type Publisher interface {
	PublishMatchFound(matchID string, userIDs []string)
}

// Matchmaker is the singleton queue coordinator.
type Matchmaker struct {
	store    QueueStore
	ratings  RatingSource
	matches  MatchCreator
	notifier Notifier
	pub      Publisher
	metrics  *metrics.Registry
}

// New creates a Matchmaker. ratings and pub may be nil.
func New(store QueueStore, ratings RatingSource, matches MatchCreator, notifier Notifier, pub Publisher, reg *metrics.Registry) *Matchmaker {
	return &Matchmaker{
		store:    store,
		ratings:  ratings,
		matches:  matches,
		notifier: notifier,
		pub:      pub,
		metrics:  reg,
	}
}

// Join inserts the user into the queue, replacing any previous entry
// they had (self-dedup). Guests queue at the default rating.
func (mm *Matchmaker) Join(ctx context.Context, userID, username string) error {
	entry := cache.QueueEntry{
		UserID:   userID,
		Username: username,
		MMR:      mm.resolveMMR(ctx, userID),
		JoinedAt: time.Now().UTC(),
	}

	if err := mm.store.EnqueueMatchmaking(ctx, entry); err != nil {
		return err
	}

	slog.Info("player queued", "user", userID, "mmr", entry.MMR)
	mm.notifier.SendToUser(userID, "matchmaking:joined", map[string]any{"mmr": entry.MMR})
	return nil
}

// Leave removes the user from the queue. Best-effort: a leave racing
// the commit step may still produce an assignment, which the client
// is free to ignore.
func (mm *Matchmaker) Leave(ctx context.Context, userID string) error {
	if err := mm.store.RemoveFromQueue(ctx, userID); err != nil {
		return err
	}
	mm.notifier.SendToUser(userID, "matchmaking:left", nil)
	return nil
}

// resolveMMR reads the caller's rating: guests and lookup failures get
// the default; database reads go through the user cache.
func (mm *Matchmaker) resolveMMR(ctx context.Context, userID string) int {
	if strings.HasPrefix(userID, "guest_") {
		return defaultMMR
	}

	if mmr, err := mm.store.CachedUserMMR(ctx, userID); err == nil {
		return mmr
	}

	if mm.ratings == nil {
		return defaultMMR
	}
	mmr, err := mm.ratings.UserMMR(ctx, userID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("reading user rating, using default", "user", userID, "error", err)
		}
		return defaultMMR
	}

	if err := mm.store.CacheUserMMR(ctx, userID, mmr); err != nil {
		slog.Debug("caching user rating", "user", userID, "error", err)
	}
	return mmr
}

// Run executes grouping cycles until the context is canceled.
func (mm *Matchmaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := mm.cycle(ctx); err != nil {
				slog.Error("matchmaking cycle", "error", err)
			}
		}
	}
}

// cycle snapshots the queue, composes as many groups as it can, then
// evicts players past the wait timeout.
func (mm *Matchmaker) cycle(ctx context.Context) error {
	entries, err := mm.store.SnapshotQueue(ctx)
	if err != nil {
		return err
	}

	if mm.metrics != nil {
		mm.metrics.QueueSize.Set(float64(len(entries)))
	}
	if len(entries) == 0 {
		return nil
	}

	// MMR-ascending; equal ratings break toward the longer wait.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].MMR != entries[j].MMR {
			return entries[i].MMR < entries[j].MMR
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})

	now := time.Now()
	remaining := mm.composeGroups(ctx, entries, now)
	mm.evictTimedOut(ctx, remaining, now)
	return nil
}

// composeGroups walks the sorted entries: each remaining lowest-MMR
// player anchors a window sized by their wait time; consecutive
// candidates inside the window fill the group up to MaxPlayers.
// Returns the entries no group consumed.
func (mm *Matchmaker) composeGroups(ctx context.Context, entries []cache.QueueEntry, now time.Time) []cache.QueueEntry {
	var leftover []cache.QueueEntry

	i := 0
	for i < len(entries) {
		anchor := entries[i]
		window := mmrWindow(now.Sub(anchor.JoinedAt))

		group := []cache.QueueEntry{anchor}
		j := i + 1
		for j < len(entries) && len(group) < game.MaxPlayers {
			if entries[j].MMR-anchor.MMR > window {
				break
			}
			group = append(group, entries[j])
			j++
		}

		if len(group) < game.MinPlayers {
			leftover = append(leftover, anchor)
			i++
			continue
		}

		if err := mm.commit(ctx, group); err != nil {
			slog.Error("committing group", "size", len(group), "error", err)
			leftover = append(leftover, group...)
		}
		i = j
	}

	return leftover
}

// mmrWindow widens with wait time and never exceeds the cap.
func mmrWindow(wait time.Duration) int {
	w := baseWindow + windowStep*int(wait/widenEvery)
	if w > windowCap {
		return windowCap
	}
	return w
}

// commit turns a group into a match: create the controller, remove the
// members from the queue, write everyone's assignment in one pipeline
// and announce the match.
func (mm *Matchmaker) commit(ctx context.Context, group []cache.QueueEntry) error {
	ids := make([]string, len(group))
	for i, e := range group {
		ids[i] = e.UserID
	}

	m, err := mm.matches.Create(ctx, ids)
	if err != nil {
		return err
	}

	if err := mm.store.RemoveFromQueue(ctx, ids...); err != nil {
		return err
	}

	assignments := make(map[string]cache.MatchAssignment, len(group))
	now := time.Now().UTC()
	for _, e := range group {
		assignments[e.UserID] = cache.MatchAssignment{
			MatchID:     m.ID,
			PlayerCount: len(group),
			CreatedAt:   now,
		}
	}
	if err := mm.store.PutMatchAssignments(ctx, assignments); err != nil {
		return err
	}

	slog.Info("match found", "match", m.ID, "players", len(group))

	for _, e := range group {
		mm.notifier.SendToUser(e.UserID, "matchmaking:match_found", map[string]any{
			"matchId":     m.ID,
			"playerCount": len(group),
		})
	}
	if mm.pub != nil {
		mm.pub.PublishMatchFound(m.ID, ids)
	}
	return nil
}

// evictTimedOut removes ungrouped players past the wait ceiling and
// tells them to requeue.
func (mm *Matchmaker) evictTimedOut(ctx context.Context, entries []cache.QueueEntry, now time.Time) {
	for _, e := range entries {
		if now.Sub(e.JoinedAt) <= queueWaitTimeout {
			continue
		}
		if err := mm.store.RemoveFromQueue(ctx, e.UserID); err != nil {
			slog.Warn("evicting timed-out entry", "user", e.UserID, "error", err)
			continue
		}
		slog.Info("queue wait timeout", "user", e.UserID, "waited", now.Sub(e.JoinedAt).Round(time.Second))
		mm.notifier.SendToUser(e.UserID, "matchmaking:timeout", map[string]any{
			"waitedSeconds": int(now.Sub(e.JoinedAt).Seconds()),
		})
	}
}
