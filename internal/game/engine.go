package game

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEngineRunning   = errors.New("engine already running")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrQueueFull       = errors.New("engine input queue full")
	ErrMatchFull       = errors.New("match is full")
	ErrDuplicatePlayer = errors.New("player already in match")
)

// commandQueueSize bounds the per-match input queue. 16 players at a
// realistic input rate stay far below this; overflow means a client
// is flooding and its commands are dropped with an error.
const commandQueueSize = 1024

// Engine is the authoritative 30Hz simulation for one match. A single
// goroutine owns every mutable entity; the outside world talks to it
// through Queue (inbound commands) and Snapshots (per-tick state).
type Engine struct {
	matchID string

	world    *Map
	safeZone *SafeZone

	players     map[string]*Player
	order       []string // join order, for deterministic iteration
	projectiles []*Projectile
	contained   map[string]*Loot // crate contents, hidden until opened
	ground      map[string]*Loot // collectible ground loot

	commandCh  chan Command
	snapshotCh chan *Snapshot
	seq        atomic.Uint64

	tick       atomic.Int64
	aliveCount atomic.Int32

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	droppedSnapshots atomic.Int64
}

// NewEngine creates an engine over a generated map. Crates and their
// contents are taken from the map; players are added before Start.
func NewEngine(matchID string, world *Map) *Engine {
	e := &Engine{
		matchID:    matchID,
		world:      world,
		safeZone:   NewSafeZone(world),
		players:    make(map[string]*Player),
		contained:  make(map[string]*Loot),
		ground:     make(map[string]*Loot),
		commandCh:  make(chan Command, commandQueueSize),
		snapshotCh: make(chan *Snapshot, 2),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, l := range world.Loot {
		e.contained[l.ID] = l
	}

	return e
}

// AddPlayer registers an entity before the simulation starts.
func (e *Engine) AddPlayer(p *Player) error {
	if e.started.Load() {
		return ErrEngineRunning
	}
	if _, ok := e.players[p.UserID]; ok {
		return ErrDuplicatePlayer
	}
	if len(e.players) >= MaxPlayers {
		return ErrMatchFull
	}

	e.players[p.UserID] = p
	e.order = append(e.order, p.UserID)
	e.aliveCount.Add(1)
	return nil
}

// Start launches the simulation goroutine. The snapshot channel is
// closed by that goroutine when it exits.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}

	slog.Info("engine started",
		"match", e.matchID,
		"players", len(e.players),
		"crates", len(e.world.Crates))

	go e.run(ctx)
	return nil
}

// Stop terminates the simulation and waits for the goroutine to exit,
// so final state reads are safe afterwards. Idempotent.
func (e *Engine) Stop() {
	if !e.started.Load() {
		e.stopped.Store(true)
		return
	}
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	<-e.done
}

// Queue hands a client command to the simulation. Non-blocking: a full
// queue rejects the command rather than stalling the caller's read loop.
func (e *Engine) Queue(cmd Command) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}

	cmd.seq = e.seq.Add(1)
	select {
	case e.commandCh <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshots is the per-tick broadcast channel. Closed when the engine
// stops; receivers treat closure as normal termination.
func (e *Engine) Snapshots() <-chan *Snapshot {
	return e.snapshotCh
}

// AliveCount returns the number of living players. Safe from any
// goroutine; the monitor loop polls it.
func (e *Engine) AliveCount() int {
	return int(e.aliveCount.Load())
}

// CurrentTick returns the last completed tick number.
func (e *Engine) CurrentTick() int64 {
	return e.tick.Load()
}

// DroppedSnapshots counts ticks whose snapshot found no room in the
// broadcast channel.
func (e *Engine) DroppedSnapshots() int64 {
	return e.droppedSnapshots.Load()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer close(e.snapshotCh)
	defer e.stopped.Store(true)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopping", "match", e.matchID, "reason", "context canceled")
			return

		case <-e.stopCh:
			slog.Info("engine stopped", "match", e.matchID, "tick", e.tick.Load())
			return

		case <-ticker.C:
			e.step()
		}
	}
}

// step advances the world by one tick.
func (e *Engine) step() {
	now := e.tick.Add(1)

	fires := e.applyCommands(now)
	e.movePlayers()
	for _, f := range fires {
		e.tryFire(f.player, f.angle, f.effectiveTick, now)
	}
	e.advanceProjectiles(now)
	e.advanceSafeZone(now)
	e.resolvePickups()
	e.publishSnapshot(now)
}

type pendingFire struct {
	player        *Player
	angle         float64
	effectiveTick int64
}

// applyCommands drains the queue and applies every command in
// (userID, arrival) order. Fire intents are deferred until after
// movement so the muzzle position matches this tick's world.
func (e *Engine) applyCommands(now int64) []pendingFire {
	var cmds []Command
	for {
		select {
		case c := <-e.commandCh:
			cmds = append(cmds, c)
			continue
		default:
		}
		break
	}

	if len(cmds) == 0 {
		return nil
	}

	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].UserID != cmds[j].UserID {
			return cmds[i].UserID < cmds[j].UserID
		}
		return cmds[i].seq < cmds[j].seq
	})

	var fires []pendingFire
	for _, cmd := range cmds {
		p, ok := e.players[cmd.UserID]
		if !ok || !p.Alive {
			continue
		}

		switch cmd.Kind {
		case CmdInput:
			p.lastInput = cmd.Input
			p.hasInput = true
			p.Rotation = cmd.Input.AimAngle
			if cmd.Input.Shoot {
				fires = append(fires, pendingFire{
					player:        p,
					angle:         cmd.Input.AimAngle,
					effectiveTick: e.compensatedTick(cmd.ClientTick, now),
				})
			}

		case CmdShoot:
			fires = append(fires, pendingFire{
				player:        p,
				angle:         cmd.Angle,
				effectiveTick: e.compensatedTick(cmd.ClientTick, now),
			})

		case CmdCollect:
			e.tryCollect(p, cmd.LootID)

		case CmdSwitchWeapon:
			if cmd.Weapon.Valid() {
				p.SwitchWeapon(cmd.Weapon)
			}
		}
	}

	return fires
}

// compensatedTick honors a client-stamped tick when it falls inside
// the lag compensation window so cross-wire delay does not eat into
// fire cooldowns; stamps outside the window snap to the current tick.
func (e *Engine) compensatedTick(clientTick, now int64) int64 {
	if clientTick <= 0 || clientTick > now {
		return now
	}
	if clientTick < now-LagCompensationTicks {
		return now
	}
	return clientTick
}

func (e *Engine) movePlayers() {
	for _, id := range e.order {
		p := e.players[id]
		if !p.Alive || !p.hasInput {
			continue
		}

		dir := p.lastInput.Direction()
		p.Velocity = dir.Scale(BaseSpeed)
		if dir.X == 0 && dir.Y == 0 {
			continue
		}
		p.Position = e.world.ResolveMove(p.Position, p.Velocity, PlayerRadius)
	}
}

func (e *Engine) tryFire(p *Player, angle float64, effectiveTick, now int64) {
	if !p.Alive || !p.CanFire(effectiveTick) {
		return
	}

	stats := p.Weapon.Stats()
	dir := UnitFromAngle(angle)
	muzzle := p.Position.Add(dir.Scale(PlayerRadius))

	e.projectiles = append(e.projectiles, &Projectile{
		ID:            uuid.NewString(),
		OwnerUserID:   p.UserID,
		Position:      muzzle,
		StartPosition: muzzle,
		Velocity:      dir.Scale(stats.Speed),
		Damage:        stats.Damage * p.DamageMultiplier(),
		Weapon:        p.Weapon,
		SpawnTick:     now,
		ClientTick:    effectiveTick,
		ExpireTick:    now + p.Weapon.LifetimeTicks(),
		MaxRange:      stats.Range,
	})

	p.LastFireTick = effectiveTick
	p.Rotation = angle
}

// advanceProjectiles moves every projectile and resolves hits. A
// projectile retires on obstacle hit, player hit, range exhaustion or
// lifetime expiry; the clamped final step still gets its hit test.
func (e *Engine) advanceProjectiles(now int64) {
	kept := e.projectiles[:0]

	for _, pr := range e.projectiles {
		flying := pr.Advance(now)

		if e.world.Blocked(pr.Position, ProjectileRadius) {
			continue
		}
		if e.resolveHit(pr, now) {
			continue
		}
		if flying {
			kept = append(kept, pr)
		}
	}

	e.projectiles = kept
}

// resolveHit applies the projectile to the first overlapping player.
func (e *Engine) resolveHit(pr *Projectile, now int64) bool {
	for _, id := range e.order {
		target := e.players[id]
		if !pr.Hits(target) {
			continue
		}

		shieldDelta, healthDelta := target.ApplyDamage(pr.Damage)
		if owner, ok := e.players[pr.OwnerUserID]; ok {
			owner.DamageDealt += shieldDelta + healthDelta
		}

		if target.Health <= 0 && target.Kill(now) {
			e.aliveCount.Add(-1)
			if owner, ok := e.players[pr.OwnerUserID]; ok {
				owner.Kills++
			}
			slog.Debug("player eliminated",
				"match", e.matchID,
				"victim", target.UserID,
				"killer", pr.OwnerUserID,
				"tick", now)
		}
		return true
	}
	return false
}

func (e *Engine) advanceSafeZone(now int64) {
	e.safeZone.Advance(now)

	for _, id := range e.order {
		p := e.players[id]
		if !p.Alive || e.safeZone.Contains(p.Position) {
			continue
		}

		p.ApplyDamage(e.safeZone.DamagePerTick)
		if p.Health <= 0 && p.Kill(now) {
			e.aliveCount.Add(-1)
			slog.Debug("player eliminated by zone",
				"match", e.matchID, "victim", p.UserID, "tick", now)
		}
	}
}

// resolvePickups opens crates and applies ground loot for every alive
// player within collection range. Crate contents drop to the ground
// first, so an effect the player cannot take (stack cap) stays
// collectible by others.
func (e *Engine) resolvePickups() {
	for _, id := range e.order {
		p := e.players[id]
		if !p.Alive {
			continue
		}

		for _, c := range e.world.Crates {
			if c.Opened || p.Position.DistanceTo(c.Position) > LootCollectionRadius {
				continue
			}
			e.openCrate(c)
		}

		e.tryCollect(p, "")
	}
}

func (e *Engine) openCrate(c *Crate) {
	c.Opened = true
	if l, ok := e.contained[c.LootID]; ok {
		delete(e.contained, c.LootID)
		l.Position = c.Position
		e.ground[l.ID] = l
	}
}

// tryCollect applies a specific ground loot item (or any in range when
// lootID is empty). Items whose effect fails stay on the ground.
func (e *Engine) tryCollect(p *Player, lootID string) bool {
	if lootID != "" {
		l, ok := e.ground[lootID]
		if !ok || p.Position.DistanceTo(l.Position) > LootCollectionRadius {
			return false
		}
		if !l.Apply(p) {
			return false
		}
		delete(e.ground, lootID)
		return true
	}

	ids := make([]string, 0, len(e.ground))
	for id := range e.ground {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l := e.ground[id]
		if p.Position.DistanceTo(l.Position) > LootCollectionRadius {
			continue
		}
		if l.Apply(p) {
			delete(e.ground, id)
			return true
		}
	}
	return false
}

func (e *Engine) publishSnapshot(now int64) {
	snap := e.buildSnapshot(now)

	select {
	case e.snapshotCh <- snap:
	default:
		e.droppedSnapshots.Add(1)
	}
}

func (e *Engine) buildSnapshot(now int64) *Snapshot {
	snap := &Snapshot{
		Tick:        now,
		Players:     make([]PlayerSnapshot, 0, len(e.order)),
		Projectiles: make([]ProjectileSnapshot, 0, len(e.projectiles)),
		Loot:        make([]Loot, 0, len(e.ground)),
		Crates:      make([]Crate, 0, len(e.world.Crates)),
		SafeZone: SafeZoneSnapshot{
			Center:         e.safeZone.Center,
			CurrentRadius:  e.safeZone.CurrentRadius,
			TargetRadius:   e.safeZone.TargetRadius,
			NextShrinkTick: e.safeZone.ShrinkStart,
		},
		Phase:    "playing",
		Rankings: e.currentRankings(),
	}

	for _, id := range e.order {
		p := e.players[id]
		snap.Players = append(snap.Players, PlayerSnapshot{
			UserID:   p.UserID,
			Username: p.Username,
			Position: p.Position,
			Velocity: p.Velocity,
			Rotation: p.Rotation,
			Health:   p.Health,
			Shield:   p.Shield,
			Kills:    p.Kills,
			IsAlive:  p.Alive,
		})
	}

	for _, pr := range e.projectiles {
		snap.Projectiles = append(snap.Projectiles, ProjectileSnapshot{
			ID:       pr.ID,
			OwnerID:  pr.OwnerUserID,
			Position: pr.Position,
			Velocity: pr.Velocity,
			Weapon:   pr.Weapon,
		})
	}

	for _, l := range e.ground {
		snap.Loot = append(snap.Loot, *l)
	}
	sort.Slice(snap.Loot, func(i, j int) bool { return snap.Loot[i].ID < snap.Loot[j].ID })

	for _, c := range e.world.Crates {
		snap.Crates = append(snap.Crates, *c)
	}

	return snap
}

// rankedPlayers sorts all players last-alive-first, then by kills
// descending, with userID as the final deterministic tie-break.
func (e *Engine) rankedPlayers() []*Player {
	ranked := make([]*Player, 0, len(e.order))
	for _, id := range e.order {
		ranked = append(ranked, e.players[id])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Alive != b.Alive {
			return a.Alive
		}
		if !a.Alive && a.DeathTick != b.DeathTick {
			return a.DeathTick > b.DeathTick
		}
		if a.Kills != b.Kills {
			return a.Kills > b.Kills
		}
		return a.UserID < b.UserID
	})

	return ranked
}

func (e *Engine) currentRankings() []RankingEntry {
	ranked := e.rankedPlayers()

	out := make([]RankingEntry, len(ranked))
	for i, p := range ranked {
		out[i] = RankingEntry{
			UserID:    p.UserID,
			Username:  p.Username,
			Kills:     p.Kills,
			Placement: i + 1,
		}
	}
	return out
}

// FinalRankings produces the end-of-match result table. Call only
// after Stop has returned; the simulation goroutine is gone by then.
func (e *Engine) FinalRankings() []FinalRanking {
	ranked := e.rankedPlayers()

	out := make([]FinalRanking, len(ranked))
	for i, p := range ranked {
		out[i] = FinalRanking{
			UserID:      p.UserID,
			Username:    p.Username,
			Placement:   i + 1,
			Kills:       p.Kills,
			DamageDealt: p.DamageDealt,
		}
	}
	return out
}
