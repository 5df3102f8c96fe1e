package db

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/udisondev/blastio/internal/match"
)

// ResultWriter is the persistence adapter the match controller calls
// once at Ending. Every write is best-effort: per-player failures are
// logged and skipped, never propagated as a match failure.
type ResultWriter struct {
	repo *MatchRepository
}

// NewResultWriter creates the adapter.
func NewResultWriter(repo *MatchRepository) *ResultWriter {
	return &ResultWriter{repo: repo}
}

// PersistResults writes the match row, then each non-guest player's
// result, rating delta and aggregate stats.
func (w *ResultWriter) PersistResults(ctx context.Context, sum match.Summary) error {
	err := w.repo.InsertMatch(ctx, MatchRecord{
		MatchID:     sum.MatchID,
		MapName:     sum.MapName,
		PlayerCount: sum.PlayerCount,
		StartTime:   sum.StartTime,
		EndTime:     sum.EndTime,
		Duration:    sum.Duration,
	})
	if err != nil {
		return fmt.Errorf("persisting match %s: %w", sum.MatchID, err)
	}

	total := len(sum.Rankings)
	for _, rank := range sum.Rankings {
		// Guests have no relational identity.
		if strings.HasPrefix(rank.UserID, "guest_") {
			continue
		}

		delta := MMRDelta(rank.Placement, total)

		// The auth service normally owns user rows; creating missing ones
		// here keeps results for accounts that predate the users table.
		if err := w.repo.EnsureUser(ctx, rank.UserID, rank.Username); err != nil {
			slog.Error("ensuring user row", "match", sum.MatchID, "user", rank.UserID, "error", err)
		}

		err := w.repo.InsertResult(ctx, ResultRecord{
			MatchID:      sum.MatchID,
			UserID:       rank.UserID,
			Placement:    rank.Placement,
			Kills:        rank.Kills,
			DamageDealt:  rank.DamageDealt,
			SurvivalTime: sum.Duration,
			MMRChange:    delta,
		})
		if err != nil {
			slog.Error("persisting player result", "match", sum.MatchID, "user", rank.UserID, "error", err)
			continue
		}

		if err := w.repo.ApplyMMRDelta(ctx, rank.UserID, delta); err != nil {
			slog.Error("applying mmr delta", "match", sum.MatchID, "user", rank.UserID, "error", err)
		}

		won := rank.Placement == 1
		deaths := 0
		if !won {
			deaths = 1
		}
		if err := w.repo.UpdateAggregates(ctx, rank.UserID, won, rank.Kills, deaths); err != nil {
			slog.Error("updating aggregates", "match", sum.MatchID, "user", rank.UserID, "error", err)
		}
	}

	return nil
}

// MMRDelta converts a placement into a rating change: the winner gains
// more in bigger lobbies, the top quarter and top half gain a little,
// everyone else loses. The repository clamps the applied rating at 0.
func MMRDelta(placement, totalPlayers int) int {
	if placement == 1 {
		return 25 + (totalPlayers - 2)
	}
	if placement <= int(math.Ceil(float64(totalPlayers)*0.25)) {
		return 15
	}
	if placement <= int(math.Ceil(float64(totalPlayers)*0.5)) {
		return 5
	}
	return -10
}
