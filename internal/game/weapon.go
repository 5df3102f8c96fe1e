package game

import "time"

// WeaponKind identifies one of the four weapon archetypes.
type WeaponKind string

const (
	WeaponPistol  WeaponKind = "pistol"
	WeaponRifle   WeaponKind = "rifle"
	WeaponShotgun WeaponKind = "shotgun"
	WeaponSniper  WeaponKind = "sniper"
)

// WeaponStats describes a weapon's authoritative combat numbers.
// Speed and Range are in world units per tick / total units.
type WeaponStats struct {
	Damage   float64
	Cooldown time.Duration
	Range    float64
	Speed    float64
	Lifetime time.Duration
}

var weaponTable = map[WeaponKind]WeaponStats{
	WeaponPistol:  {Damage: 15, Cooldown: 500 * time.Millisecond, Range: 600, Speed: 10, Lifetime: 3000 * time.Millisecond},
	WeaponRifle:   {Damage: 20, Cooldown: 400 * time.Millisecond, Range: 800, Speed: 12, Lifetime: 3500 * time.Millisecond},
	WeaponShotgun: {Damage: 35, Cooldown: 800 * time.Millisecond, Range: 400, Speed: 8, Lifetime: 2000 * time.Millisecond},
	WeaponSniper:  {Damage: 50, Cooldown: 1200 * time.Millisecond, Range: 1200, Speed: 15, Lifetime: 4000 * time.Millisecond},
}

// Stats returns the combat numbers for a weapon kind. Unknown kinds
// fall back to the pistol so a corrupt value can never brick a player.
func (w WeaponKind) Stats() WeaponStats {
	if s, ok := weaponTable[w]; ok {
		return s
	}
	return weaponTable[WeaponPistol]
}

// Valid reports whether w names a known weapon.
func (w WeaponKind) Valid() bool {
	_, ok := weaponTable[w]
	return ok
}

// CooldownTicks converts the weapon's cooldown into whole simulation
// ticks, after applying the shooter's fire-rate stacks (-20% per
// stack). The result never drops below one tick.
func (w WeaponKind) CooldownTicks(fireRateStacks int) int64 {
	cd := w.Stats().Cooldown
	reduced := time.Duration(float64(cd) * (1 - FireRateStackReduction*float64(fireRateStacks)))

	ticks := durationToTicks(reduced)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// LifetimeTicks converts the weapon's projectile lifetime into ticks.
func (w WeaponKind) LifetimeTicks() int64 {
	return durationToTicks(w.Stats().Lifetime)
}

// durationToTicks converts wall time to whole ticks. Multiplying before
// dividing keeps 500ms at exactly 15 ticks despite TickInterval not
// being a whole number of nanoseconds.
func durationToTicks(d time.Duration) int64 {
	return int64(d) * TickRate / int64(time.Second)
}
