// Package match owns the per-match lifecycle: the Waiting -> Playing ->
// Ending -> Finished state machine, the simulation engine it spawns,
// snapshot fan-out to member connections and end-of-match persistence.
package match

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/blastio/internal/cache"
	"github.com/udisondev/blastio/internal/game"
	"github.com/udisondev/blastio/internal/game/mapgen"
	"github.com/udisondev/blastio/internal/metrics"
)

var (
	ErrNotWaiting        = errors.New("match is not accepting players")
	ErrAlreadyJoined     = errors.New("player already in match")
	ErrMatchFull         = errors.New("match is full")
	ErrNotEnoughPlayers  = errors.New("not enough players to start")
	ErrNotPlaying        = errors.New("match is not in progress")
)

// MaxDuration force-ends any match still running after 15 minutes.
const MaxDuration = 15 * time.Minute

// endingGrace is how long a match lingers in Ending before releasing
// its resources, giving clients time to consume the final messages.
const endingGrace = 5 * time.Second

// waitTimeout bounds the Waiting phase. It mirrors the assignment TTL:
// once the assignment has expired, a missing member can no longer join,
// so the match can never start.
const waitTimeout = 5 * time.Minute

// Phase is the match lifecycle state.
type Phase int32

const (
	PhaseWaiting Phase = iota
	PhasePlaying
	PhaseEnding
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhasePlaying:
		return "playing"
	case PhaseEnding:
		return "ending"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Notifier delivers messages to member connections. Implemented by the
// connection registry.
type Notifier interface {
	SendToUser(userID, msgType string, payload any) bool
	TrySendToUser(userID, msgType string, payload any) bool
}

// ResultSink persists final match results. Best-effort: a failing sink
// never delays or suppresses client notifications.
type ResultSink interface {
	PersistResults(ctx context.Context, sum Summary) error
}

// LobbyStore maintains the cache-side observability records for a
// match. All calls are best-effort.
type LobbyStore interface {
	CreateLobby(ctx context.Context, matchID string, playerCount int) error
	SetLobbyStatus(ctx context.Context, matchID, status string) error
	DeleteLobby(ctx context.Context, matchID string) error
	AddRecentMatch(ctx context.Context, m cache.RecentMatch) error
}

// Summary is everything the persistence adapter needs at match end.
type Summary struct {
	MatchID     string
	MapName     string
	PlayerCount int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	WinnerID    string
	Rankings    []game.FinalRanking
}

// Event is one control-stream message emitted by the controller.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Player is one match member as the controller sees it; the simulated
// entity lives inside the engine.
type Player struct {
	UserID       string
	Username     string
	Connected    bool
	DisconnectAt time.Time
	Entity       *game.Player
}

// Match is one active match's controller. The engine goroutine owns
// the simulation; the controller owns phase transitions, the monitor
// loop and fan-out.
type Match struct {
	ID       string
	expected int

	mu      sync.RWMutex
	players map[string]*Player

	phase     atomic.Int32
	startTime time.Time
	endTime   time.Time

	engine *game.Engine
	gen    *mapgen.Generator

	notifier Notifier
	sink     ResultSink
	lobbies  LobbyStore
	metrics  *metrics.Registry

	events  chan Event
	endOnce sync.Once

	waitTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	// onFinished runs once when the match reaches Finished; the manager
	// uses it to reclaim the entry.
	onFinished func(*Match)
}

func newMatch(id string, expected int, waitFor time.Duration, gen *mapgen.Generator, notifier Notifier, sink ResultSink, lobbies LobbyStore, reg *metrics.Registry, onFinished func(*Match)) *Match {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Match{
		ID:         id,
		expected:   expected,
		players:    make(map[string]*Player, expected),
		gen:        gen,
		notifier:   notifier,
		sink:       sink,
		lobbies:    lobbies,
		metrics:    reg,
		events:     make(chan Event, 8),
		ctx:        ctx,
		cancel:     cancel,
		onFinished: onFinished,
	}
	m.phase.Store(int32(PhaseWaiting))
	m.waitTimer = time.AfterFunc(waitFor, m.abandon)
	return m
}

// Phase returns the current lifecycle phase.
func (m *Match) Phase() Phase {
	return Phase(m.phase.Load())
}

// Events is the control stream for match-level messages. Closed when
// the match reaches Finished; closure is normal termination.
func (m *Match) Events() <-chan Event {
	return m.events
}

// PlayerCount returns the number of joined players.
func (m *Match) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// AddPlayer admits a player while the match is Waiting. When the full
// expected count has joined, the match starts.
func (m *Match) AddPlayer(userID, username string) error {
	m.mu.Lock()

	if m.Phase() != PhaseWaiting {
		m.mu.Unlock()
		return ErrNotWaiting
	}
	if _, ok := m.players[userID]; ok {
		m.mu.Unlock()
		return ErrAlreadyJoined
	}
	if len(m.players) >= game.MaxPlayers {
		m.mu.Unlock()
		return ErrMatchFull
	}

	m.players[userID] = &Player{
		UserID:    userID,
		Username:  username,
		Connected: true,
	}
	ready := len(m.players) >= m.expected
	m.mu.Unlock()

	slog.Info("player joined match", "match", m.ID, "user", userID, "joined", m.PlayerCount(), "expected", m.expected)

	if ready {
		if err := m.Start(); err != nil && !errors.Is(err, errAlreadyStarted) {
			m.notifyStartFailure()
			return err
		}
	}
	return nil
}

var errAlreadyStarted = errors.New("match already started")

// notifyStartFailure tells every joined member the arena could not be
// prepared; the error return alone only reaches the last joiner.
func (m *Match) notifyStartFailure() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.players))
	for id := range m.players {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.notifier.SendToUser(id, "error", map[string]any{
			"message": "match failed to start",
			"code":    "match_start_failed",
		})
	}
}

// abandon tears down a match that never left Waiting: a committed
// member dropped before joining and, past the assignment TTL, never
// will. Joined players are told, then the match releases its resources
// exactly like a finished one. The monitor loop never ran, so this is
// the only termination path for such a match.
func (m *Match) abandon() {
	m.mu.Lock()
	if m.Phase() != PhaseWaiting {
		m.mu.Unlock()
		return
	}
	m.phase.Store(int32(PhaseEnding))
	ids := make([]string, 0, len(m.players))
	for id := range m.players {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	slog.Info("match abandoned", "match", m.ID, "joined", len(ids), "expected", m.expected)

	for _, id := range ids {
		m.notifier.SendToUser(id, "error", map[string]any{
			"message": "match cancelled: not all players joined",
			"code":    "match_cancelled",
		})
	}

	select {
	case m.events <- Event{Type: "match_cancelled", Data: map[string]any{"matchId": m.ID}}:
	default:
	}

	m.finish()
}

// MarkDisconnected flags a member's connection as gone. The simulation
// keeps treating their entity normally; only bookkeeping changes.
func (m *Match) MarkDisconnected(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[userID]; ok && p.Connected {
		p.Connected = false
		p.DisconnectAt = time.Now()
	}
}

// Start generates the arena, spawns every joined player on a circle
// facing center and launches the engine. A map-generation failure
// leaves the match Waiting so the caller can surface the error.
func (m *Match) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Phase() != PhaseWaiting {
		return errAlreadyStarted
	}
	if len(m.players) < game.MinPlayers {
		return ErrNotEnoughPlayers
	}

	seed := time.Now().UnixNano()
	world, err := m.gen.Generate(seed)
	if err != nil {
		return err
	}

	engine := game.NewEngine(m.ID, world)

	// Players spawn evenly on a circle of radius 1/4 map width, facing
	// the center.
	center := game.Vector2D{X: world.Width / 2, Y: world.Height / 2}
	spawnRadius := world.Width / 4
	step := 2 * math.Pi / float64(len(m.players))

	i := 0
	for _, p := range m.players {
		angle := float64(i) * step
		pos := center.Add(game.UnitFromAngle(angle).Scale(spawnRadius))
		pos = world.FindFreeNear(pos, game.PlayerRadius)

		entity := game.NewPlayer(p.UserID, p.Username, pos)
		entity.Rotation = angle + math.Pi
		p.Entity = entity

		if err := engine.AddPlayer(entity); err != nil {
			return err
		}
		i++
	}

	m.engine = engine
	m.startTime = time.Now()
	m.phase.Store(int32(PhasePlaying))

	if err := engine.Start(m.ctx); err != nil {
		m.phase.Store(int32(PhaseWaiting))
		return err
	}

	m.waitTimer.Stop()

	go m.forwardSnapshots()
	go m.monitor()

	if m.metrics != nil {
		m.metrics.MatchesStarted.Inc()
	}
	if m.lobbies != nil {
		if err := m.lobbies.SetLobbyStatus(m.ctx, m.ID, "playing"); err != nil {
			slog.Warn("updating lobby status", "match", m.ID, "error", err)
		}
	}

	slog.Info("match started", "match", m.ID, "players", len(m.players), "seed", seed)

	for id := range m.players {
		m.notifier.SendToUser(id, "match:started", map[string]any{
			"matchId":     m.ID,
			"playerCount": len(m.players),
			"map": map[string]any{
				"width":     world.Width,
				"height":    world.Height,
				"obstacles": world.Obstacles,
				"crates":    world.Crates,
			},
		})
	}

	return nil
}

// QueueCommand forwards a client command to the engine's input queue.
func (m *Match) QueueCommand(cmd game.Command) error {
	if m.Phase() != PhasePlaying {
		return ErrNotPlaying
	}
	return m.engine.Queue(cmd)
}

// forwardSnapshots consumes the engine's broadcast channel and fans
// each snapshot out per recipient with interest filtering. Sends are
// non-blocking; the slowest client loses snapshots, never the
// simulation. Channel closure means the engine stopped.
func (m *Match) forwardSnapshots() {
	for snap := range m.engine.Snapshots() {
		start := time.Now()

		m.mu.RLock()
		ids := make([]string, 0, len(m.players))
		for id, p := range m.players {
			if p.Connected {
				ids = append(ids, id)
			}
		}
		m.mu.RUnlock()

		for _, id := range ids {
			filtered := snap.FilterFor(id)
			if !m.notifier.TrySendToUser(id, "game:state", filtered) && m.metrics != nil {
				m.metrics.SnapshotsDropped.Inc()
			}
		}

		if m.metrics != nil {
			m.metrics.FanoutSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// monitor polls end conditions once per second while the match plays.
func (m *Match) monitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkEndConditions()
		}
	}
}

// checkEndConditions applies the battle-royale rule: the match ends
// when nobody is alive, when a multi-player match is down to one, or
// at the hard duration cap. A solo match never ends on the "one left"
// trigger so a single tester is not booted immediately.
func (m *Match) checkEndConditions() {
	if m.Phase() != PhasePlaying {
		return
	}

	alive := m.engine.AliveCount()
	total := m.PlayerCount()

	switch {
	case alive == 0:
		m.endMatch("all players eliminated")
	case total > 1 && alive <= 1:
		m.endMatch("last player standing")
	case time.Since(m.startTime) > MaxDuration:
		m.endMatch("time limit reached")
	}
}

// endMatch performs the Playing -> Ending transition exactly once:
// stop the engine, notify clients, then persist. The match_ended
// message goes out before persistence is attempted so a failing sink
// can never leave clients hanging.
func (m *Match) endMatch(reason string) {
	m.endOnce.Do(func() {
		m.phase.Store(int32(PhaseEnding))
		m.endTime = time.Now()

		m.engine.Stop()
		rankings := m.engine.FinalRankings()

		winnerID := ""
		if len(rankings) > 0 {
			winnerID = rankings[0].UserID
		}

		sum := Summary{
			MatchID:     m.ID,
			MapName:     "procedural",
			PlayerCount: m.PlayerCount(),
			StartTime:   m.startTime,
			EndTime:     m.endTime,
			Duration:    m.endTime.Sub(m.startTime),
			WinnerID:    winnerID,
			Rankings:    rankings,
		}

		slog.Info("match ended", "match", m.ID, "reason", reason,
			"duration", sum.Duration.Round(time.Second), "winner", winnerID)

		ended := map[string]any{
			"matchId":  m.ID,
			"reason":   reason,
			"duration": int(sum.Duration.Seconds()),
			"winnerId": winnerID,
			"rankings": rankings,
		}

		m.mu.RLock()
		ids := make([]string, 0, len(m.players))
		for id := range m.players {
			ids = append(ids, id)
		}
		m.mu.RUnlock()

		for _, id := range ids {
			m.notifier.SendToUser(id, "match_ended", ended)
		}

		select {
		case m.events <- Event{Type: "match_ended", Data: ended}:
		default:
		}

		go m.persist(sum)

		time.AfterFunc(endingGrace, m.finish)
	})
}

// persist runs the best-effort sinks: relational results, the recent-
// matches list and the lobby record. Failures are logged only.
func (m *Match) persist(sum Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if m.sink != nil {
		if err := m.sink.PersistResults(ctx, sum); err != nil {
			slog.Error("persisting match results", "match", m.ID, "error", err)
		}
	}
	if m.metrics != nil {
		m.metrics.PersistSeconds.Observe(time.Since(start).Seconds())
	}

	if m.lobbies != nil {
		if err := m.lobbies.AddRecentMatch(ctx, cache.RecentMatch{
			MatchID:     sum.MatchID,
			EndedAt:     sum.EndTime,
			WinnerID:    sum.WinnerID,
			PlayerCount: sum.PlayerCount,
		}); err != nil {
			slog.Warn("recording recent match", "match", m.ID, "error", err)
		}
		if err := m.lobbies.SetLobbyStatus(ctx, m.ID, "ended"); err != nil {
			slog.Warn("updating lobby status", "match", m.ID, "error", err)
		}
	}
}

// finish completes the Ending -> Finished transition and releases
// every resource the match owns.
func (m *Match) finish() {
	m.phase.Store(int32(PhaseFinished))
	m.cancel()
	close(m.events)

	if m.lobbies != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.lobbies.DeleteLobby(ctx, m.ID); err != nil {
			slog.Warn("deleting lobby record", "match", m.ID, "error", err)
		}
		cancel()
	}
	if m.metrics != nil {
		m.metrics.MatchesCompleted.Inc()
	}
	if m.onFinished != nil {
		m.onFinished(m)
	}
}
