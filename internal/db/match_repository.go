package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when a user row does not exist.
var ErrUserNotFound = errors.New("user not found")

// MatchRecord is one row of the matches table.
type MatchRecord struct {
	MatchID     string
	MapName     string
	PlayerCount int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}

// ResultRecord is one player's outcome in a match.
type ResultRecord struct {
	MatchID      string
	UserID       string
	Placement    int
	Kills        int
	DamageDealt  float64
	SurvivalTime time.Duration
	MMRChange    int
}

// MatchRepository persists matches, per-player results and user
// rating/aggregate updates.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository creates a repository over the pool.
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// InsertMatch writes the match row.
func (r *MatchRepository) InsertMatch(ctx context.Context, m MatchRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO matches (match_id, map_name, player_count, start_time, end_time, duration_sec)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.MatchID, m.MapName, m.PlayerCount, m.StartTime, m.EndTime, int(m.Duration.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("inserting match %s: %w", m.MatchID, err)
	}
	return nil
}

// InsertResult writes one player's result row.
func (r *MatchRepository) InsertResult(ctx context.Context, res ResultRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO match_results (match_id, user_id, placement, kills, damage_dealt, survival_sec, mmr_change)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.MatchID, res.UserID, res.Placement, res.Kills, res.DamageDealt,
		int(res.SurvivalTime.Seconds()), res.MMRChange,
	)
	if err != nil {
		return fmt.Errorf("inserting result for %s in %s: %w", res.UserID, res.MatchID, err)
	}
	return nil
}

// ApplyMMRDelta adjusts a user's rating, clamping the result at zero.
func (r *MatchRepository) ApplyMMRDelta(ctx context.Context, userID string, delta int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET mmr = GREATEST(mmr + $1, 0) WHERE user_id = $2`,
		delta, userID,
	)
	if err != nil {
		return fmt.Errorf("updating mmr for %s: %w", userID, err)
	}
	return nil
}

// UpdateAggregates bumps a user's lifetime stats after a match.
func (r *MatchRepository) UpdateAggregates(ctx context.Context, userID string, won bool, kills, deaths int) error {
	wins := 0
	if won {
		wins = 1
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET wins = wins + $1,
		     kills = kills + $2,
		     deaths = deaths + $3,
		     games_played = games_played + 1
		 WHERE user_id = $4`,
		wins, kills, deaths, userID,
	)
	if err != nil {
		return fmt.Errorf("updating aggregates for %s: %w", userID, err)
	}
	return nil
}

// UserMMR reads a user's current rating.
func (r *MatchRepository) UserMMR(ctx context.Context, userID string) (int, error) {
	var mmr int
	err := r.pool.QueryRow(ctx,
		`SELECT mmr FROM users WHERE user_id = $1`, userID,
	).Scan(&mmr)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading mmr for %s: %w", userID, err)
	}
	return mmr, nil
}

// EnsureUser creates the user row if it does not exist yet.
func (r *MatchRepository) EnsureUser(ctx context.Context, userID, username string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id, username) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, username,
	)
	if err != nil {
		return fmt.Errorf("ensuring user %s: %w", userID, err)
	}
	return nil
}
