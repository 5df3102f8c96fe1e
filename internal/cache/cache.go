// Package cache is the typed wrapper over Redis that holds every
// short-lived coordination record: sessions, the matchmaking queue,
// match assignments, rate-limit counters and a few observability
// structures. Every temporary record carries a TTL so a crashed
// coordinator never leaks state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/udisondev/blastio/internal/metrics"
)

// TTL ceilings per record family.
const (
	TTLSession    = 7 * 24 * time.Hour
	TTLAssignment = 5 * time.Minute
	TTLRateLimit  = 60 * time.Second
	TTLUserCache  = 5 * time.Minute
	TTLLobby      = 2 * time.Hour
)

// Key prefixes / fixed keys. Keys are flat strings; the prefixes here
// are the wire contract shared with the auth service.
const (
	keySessionPrefix    = "session:"
	keyBlacklistPrefix  = "blacklist:token:"
	keyAssignmentPrefix = "match:player:"
	keyRateLimitPrefix  = "ratelimit:"
	keyUserCachePrefix  = "user:cache:"
	keyLobbyPrefix      = "lobby:"
	keyQueue            = "matchmaking:queue"
	keyQueueEntries     = "matchmaking:queue:entries"
	keyOnline           = "players:online"
	keyRecentMatches    = "matches:recent"
	keyServerMetrics    = "metrics:server"

	recentMatchesCap = 100
)

// ErrNotFound is returned when a record is absent or expired.
var ErrNotFound = errors.New("cache: record not found")

// Session is one authenticated identity's live session record.
type Session struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
	IsGuest   bool      `json:"isGuest"`
}

// QueueEntry is one player waiting in the matchmaking queue.
type QueueEntry struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	MMR      int       `json:"mmr"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MatchAssignment binds a user to a committed match for the duration
// of the join window.
type MatchAssignment struct {
	MatchID     string    `json:"matchId"`
	PlayerCount int       `json:"playerCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RecentMatch is one row of the capped recent-matches list.
type RecentMatch struct {
	MatchID     string    `json:"matchId"`
	EndedAt     time.Time `json:"endedAt"`
	WinnerID    string    `json:"winnerId"`
	PlayerCount int       `json:"playerCount"`
}

// Cache wraps a Redis client with the server's record types. Safe for
// concurrent use; multi-step writes go through pipelines.
type Cache struct {
	client  *redis.Client
	metrics *metrics.Registry // nil disables instrumentation
}

// New creates a Cache over an already-connected client.
func New(client *redis.Client, reg *metrics.Registry) *Cache {
	return &Cache{client: client, metrics: reg}
}

// Ping verifies the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

func (c *Cache) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.CacheOpSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (c *Cache) hit(found bool) {
	if c.metrics == nil {
		return
	}
	if found {
		c.metrics.CacheHits.Inc()
	} else {
		c.metrics.CacheMisses.Inc()
	}
}

// --- Sessions (7d TTL) ---

// PutSession writes the session record, stamping CreatedAt on first
// write and LastSeen always. Overwrite is idempotent.
func (c *Cache) PutSession(ctx context.Context, s Session) error {
	defer c.observe("put_session", time.Now())

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastSeen = now

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", s.UserID, err)
	}
	if err := c.client.Set(ctx, keySessionPrefix+s.UserID, data, TTLSession).Err(); err != nil {
		return fmt.Errorf("writing session %s: %w", s.UserID, err)
	}
	return nil
}

// GetSession returns the live session or ErrNotFound. Misses are
// counted, not errors in the log-worthy sense.
func (c *Cache) GetSession(ctx context.Context, userID string) (Session, error) {
	defer c.observe("get_session", time.Now())

	data, err := c.client.Get(ctx, keySessionPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		c.hit(false)
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session %s: %w", userID, err)
	}
	c.hit(true)

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decoding session %s: %w", userID, err)
	}
	return s, nil
}

// RefreshSession re-stamps LastSeen and extends the TTL. Fails with
// ErrNotFound once the record has expired.
func (c *Cache) RefreshSession(ctx context.Context, userID string) error {
	defer c.observe("refresh_session", time.Now())

	s, err := c.GetSession(ctx, userID)
	if err != nil {
		return err
	}
	return c.PutSession(ctx, s)
}

// DeleteSession removes the session record. Deleting a missing record
// is not an error.
func (c *Cache) DeleteSession(ctx context.Context, userID string) error {
	defer c.observe("delete_session", time.Now())

	if err := c.client.Del(ctx, keySessionPrefix+userID).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", userID, err)
	}
	return nil
}

// ListActiveSessions walks the session keyspace with SCAN so it never
// blocks Redis, and returns the userIDs with live sessions.
func (c *Cache) ListActiveSessions(ctx context.Context) ([]string, error) {
	defer c.observe("list_sessions", time.Now())

	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keySessionPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning sessions: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len(keySessionPrefix):])
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

// IsTokenBlacklisted honors revocations written by the auth service.
func (c *Cache) IsTokenBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	defer c.observe("token_blacklist", time.Now())

	n, err := c.client.Exists(ctx, keyBlacklistPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("checking token blacklist: %w", err)
	}
	return n > 0, nil
}

// --- Matchmaking queue (ZSET scored by MMR) ---

// EnqueueMatchmaking inserts (or re-inserts) a queue entry. The score
// set and the entry hash are written in one pipeline; re-enqueueing an
// already-queued user overwrites both, which is the self-dedup the
// matchmaker relies on.
func (c *Cache) EnqueueMatchmaking(ctx context.Context, e QueueEntry) error {
	defer c.observe("enqueue", time.Now())

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling queue entry %s: %w", e.UserID, err)
	}

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, keyQueue, redis.Z{Score: float64(e.MMR), Member: e.UserID})
	pipe.HSet(ctx, keyQueueEntries, e.UserID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueueing %s: %w", e.UserID, err)
	}
	return nil
}

// RemoveFromQueue deletes the given users from the queue. Removing a
// user who already left is a no-op.
func (c *Cache) RemoveFromQueue(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	defer c.observe("queue_remove", time.Now())

	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}

	pipe := c.client.TxPipeline()
	pipe.ZRem(ctx, keyQueue, members...)
	pipe.HDel(ctx, keyQueueEntries, userIDs...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing %d queue entries: %w", len(userIDs), err)
	}
	return nil
}

// SnapshotQueue returns every queue entry in ascending MMR order.
// Entries whose detail record went missing are skipped.
func (c *Cache) SnapshotQueue(ctx context.Context) ([]QueueEntry, error) {
	defer c.observe("queue_snapshot", time.Now())

	ids, err := c.client.ZRange(ctx, keyQueue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ranging queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := c.client.HMGet(ctx, keyQueueEntries, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading queue entries: %w", err)
	}

	entries := make([]QueueEntry, 0, len(ids))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e QueueEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DequeueMatchmaking pops the lowest-MMR entry at or above the given
// rating, or ErrNotFound when no such entry exists.
func (c *Cache) DequeueMatchmaking(ctx context.Context, mmr int) (QueueEntry, error) {
	defer c.observe("dequeue", time.Now())

	ids, err := c.client.ZRangeByScore(ctx, keyQueue, &redis.ZRangeBy{
		Min:   strconv.Itoa(mmr),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return QueueEntry{}, fmt.Errorf("ranging queue by score: %w", err)
	}
	if len(ids) == 0 {
		return QueueEntry{}, ErrNotFound
	}

	data, err := c.client.HGet(ctx, keyQueueEntries, ids[0]).Result()
	if errors.Is(err, redis.Nil) {
		return QueueEntry{}, ErrNotFound
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("loading queue entry %s: %w", ids[0], err)
	}

	var e QueueEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return QueueEntry{}, fmt.Errorf("decoding queue entry %s: %w", ids[0], err)
	}

	if err := c.RemoveFromQueue(ctx, ids[0]); err != nil {
		return QueueEntry{}, err
	}
	return e, nil
}

// QueueSize returns the number of waiting players.
func (c *Cache) QueueSize(ctx context.Context) (int64, error) {
	defer c.observe("queue_size", time.Now())

	n, err := c.client.ZCard(ctx, keyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("sizing queue: %w", err)
	}
	return n, nil
}

// --- Match assignments (5m TTL) ---

// PutMatchAssignments writes the assignment record for every member of
// a newly committed match in a single pipeline.
func (c *Cache) PutMatchAssignments(ctx context.Context, assignments map[string]MatchAssignment) error {
	defer c.observe("put_assignments", time.Now())

	pipe := c.client.TxPipeline()
	for userID, a := range assignments {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshaling assignment for %s: %w", userID, err)
		}
		pipe.Set(ctx, keyAssignmentPrefix+userID, data, TTLAssignment)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing %d assignments: %w", len(assignments), err)
	}
	return nil
}

// GetMatchAssignment returns the caller's pending assignment or
// ErrNotFound after the join window closed.
func (c *Cache) GetMatchAssignment(ctx context.Context, userID string) (MatchAssignment, error) {
	defer c.observe("get_assignment", time.Now())

	data, err := c.client.Get(ctx, keyAssignmentPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		c.hit(false)
		return MatchAssignment{}, ErrNotFound
	}
	if err != nil {
		return MatchAssignment{}, fmt.Errorf("reading assignment %s: %w", userID, err)
	}
	c.hit(true)

	var a MatchAssignment
	if err := json.Unmarshal(data, &a); err != nil {
		return MatchAssignment{}, fmt.Errorf("decoding assignment %s: %w", userID, err)
	}
	return a, nil
}

// DeleteMatchAssignment removes a consumed assignment.
func (c *Cache) DeleteMatchAssignment(ctx context.Context, userID string) error {
	defer c.observe("delete_assignment", time.Now())

	if err := c.client.Del(ctx, keyAssignmentPrefix+userID).Err(); err != nil {
		return fmt.Errorf("deleting assignment %s: %w", userID, err)
	}
	return nil
}

// --- Rate limiting (60s sliding window) ---

// RateLimit atomically bumps the caller's counter for an endpoint and
// returns the count inside the current window.
func (c *Cache) RateLimit(ctx context.Context, userID, endpoint string) (int64, error) {
	defer c.observe("rate_limit", time.Now())

	key := keyRateLimitPrefix + userID + ":" + endpoint

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, TTLRateLimit)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limiting %s on %s: %w", userID, endpoint, err)
	}
	return incr.Val(), nil
}

// --- Online set (manual cleanup) ---

// TouchOnline stamps the user as seen now.
func (c *Cache) TouchOnline(ctx context.Context, userID string) error {
	defer c.observe("touch_online", time.Now())

	err := c.client.ZAdd(ctx, keyOnline, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("touching online set: %w", err)
	}
	return nil
}

// PruneOnline drops entries idle longer than the given duration and
// returns how many were removed.
func (c *Cache) PruneOnline(ctx context.Context, idle time.Duration) (int64, error) {
	defer c.observe("prune_online", time.Now())

	cutoff := time.Now().Add(-idle).Unix()
	n, err := c.client.ZRemRangeByScore(ctx, keyOnline, "0", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("pruning online set: %w", err)
	}
	return n, nil
}

// OnlineCount returns the size of the online set.
func (c *Cache) OnlineCount(ctx context.Context) (int64, error) {
	defer c.observe("online_count", time.Now())

	n, err := c.client.ZCard(ctx, keyOnline).Result()
	if err != nil {
		return 0, fmt.Errorf("counting online set: %w", err)
	}
	return n, nil
}

// --- User profile cache (5m TTL, fronts the users table) ---

// CacheUserMMR stores a user's rating for the matchmaker's fast path.
func (c *Cache) CacheUserMMR(ctx context.Context, userID string, mmr int) error {
	defer c.observe("cache_user", time.Now())

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, keyUserCachePrefix+userID, "mmr", mmr)
	pipe.Expire(ctx, keyUserCachePrefix+userID, TTLUserCache)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching user %s: %w", userID, err)
	}
	return nil
}

// CachedUserMMR returns the cached rating or ErrNotFound.
func (c *Cache) CachedUserMMR(ctx context.Context, userID string) (int, error) {
	defer c.observe("cached_user", time.Now())

	v, err := c.client.HGet(ctx, keyUserCachePrefix+userID, "mmr").Result()
	if errors.Is(err, redis.Nil) {
		c.hit(false)
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading cached user %s: %w", userID, err)
	}
	c.hit(true)

	mmr, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("decoding cached mmr for %s: %w", userID, err)
	}
	return mmr, nil
}

// --- Lobby observability records (2h safety TTL) ---

// CreateLobby writes the observability record for a committed match.
// The in-process match manager stays the source of truth; this record
// only exists so operators can see live matches from outside.
func (c *Cache) CreateLobby(ctx context.Context, matchID string, playerCount int) error {
	defer c.observe("create_lobby", time.Now())

	key := keyLobbyPrefix + matchID
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":      "waiting",
		"playerCount": playerCount,
		"createdAt":   time.Now().UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, TTLLobby)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("creating lobby %s: %w", matchID, err)
	}
	return nil
}

// SetLobbyStatus updates the lobby's status field.
func (c *Cache) SetLobbyStatus(ctx context.Context, matchID, status string) error {
	defer c.observe("lobby_status", time.Now())

	if err := c.client.HSet(ctx, keyLobbyPrefix+matchID, "status", status).Err(); err != nil {
		return fmt.Errorf("updating lobby %s: %w", matchID, err)
	}
	return nil
}

// DeleteLobby removes the lobby record at match finish.
func (c *Cache) DeleteLobby(ctx context.Context, matchID string) error {
	defer c.observe("delete_lobby", time.Now())

	if err := c.client.Del(ctx, keyLobbyPrefix+matchID).Err(); err != nil {
		return fmt.Errorf("deleting lobby %s: %w", matchID, err)
	}
	return nil
}

// --- Recent matches (capped list) ---

// AddRecentMatch pushes a finished match onto the capped list.
func (c *Cache) AddRecentMatch(ctx context.Context, m RecentMatch) error {
	defer c.observe("recent_match", time.Now())

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling recent match: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, keyRecentMatches, data)
	pipe.LTrim(ctx, keyRecentMatches, 0, recentMatchesCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording recent match %s: %w", m.MatchID, err)
	}
	return nil
}

// RecentMatches returns up to limit most recent finished matches.
func (c *Cache) RecentMatches(ctx context.Context, limit int64) ([]RecentMatch, error) {
	defer c.observe("recent_matches", time.Now())

	raw, err := c.client.LRange(ctx, keyRecentMatches, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading recent matches: %w", err)
	}

	out := make([]RecentMatch, 0, len(raw))
	for _, r := range raw {
		var m RecentMatch
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// --- Server metrics hash ---

// IncrServerMetric bumps a field of the metrics:server hash.
func (c *Cache) IncrServerMetric(ctx context.Context, field string, delta int64) error {
	if err := c.client.HIncrBy(ctx, keyServerMetrics, field, delta).Err(); err != nil {
		return fmt.Errorf("incrementing server metric %s: %w", field, err)
	}
	return nil
}

// SetServerMetric sets a field of the metrics:server hash.
func (c *Cache) SetServerMetric(ctx context.Context, field string, value interface{}) error {
	if err := c.client.HSet(ctx, keyServerMetrics, field, value).Err(); err != nil {
		return fmt.Errorf("setting server metric %s: %w", field, err)
	}
	return nil
}
