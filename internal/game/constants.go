package game

import "time"

// Tick cadence of the authoritative simulation.
const (
	TickRate     = 30
	TickInterval = time.Second / TickRate
)

// Arena dimensions and entity sizes, in world units.
const (
	MapWidth  = 3000.0
	MapHeight = 3000.0

	PlayerRadius     = 20.0
	ProjectileRadius = 5.0

	// BaseSpeed is how far a player moves per tick.
	BaseSpeed = 5.0

	LootCollectionRadius = 30.0

	// InterestRadius bounds which projectiles a client is told about.
	InterestRadius = 800.0
)

// Player vitals and stack caps.
const (
	MaxHealth      = 100.0
	ShieldPerStack = 50.0
	MaxStacks      = 3

	// DamageStackBonus is the damage multiplier gained per damage stack.
	DamageStackBonus = 0.15
	// FireRateStackReduction is the cooldown fraction removed per fire-rate stack.
	FireRateStackReduction = 0.20
)

// Safe zone schedule. The zone holds its initial radius for a grace
// period, then shrinks linearly to the floor.
const (
	SafeZoneInitialRadius = 1500.0
	SafeZoneFloorRadius   = 200.0
	SafeZoneDamagePerTick = 2.0

	SafeZoneGraceTicks  = 2 * 60 * TickRate // shrink begins at 2min
	SafeZoneShrinkTicks = 3 * 60 * TickRate // full shrink takes 3min
)

// Match composition bounds.
const (
	MinPlayers = 2
	MaxPlayers = 16
)

// Map generation targets.
const (
	ObstacleDensity       = 0.35  // fraction of map area covered
	ObstacleMinSeparation = 150.0 // minimum gap between obstacles
)

// LagCompensationWindow bounds how old a client-stamped input may be
// and still be applied at its original tick.
const (
	LagCompensationWindow = 200 * time.Millisecond
	LagCompensationTicks  = int64(LagCompensationWindow / TickInterval)
)
