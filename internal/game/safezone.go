package game

// SafeZone is the shrinking circle. It holds its initial radius for a
// grace period, then interpolates linearly down to the floor; players
// outside take damage every tick.
type SafeZone struct {
	Center        Vector2D
	InitialRadius float64
	CurrentRadius float64
	TargetRadius  float64
	ShrinkStart   int64 // tick the shrink begins
	ShrinkTicks   int64
	DamagePerTick float64
}

// NewSafeZone creates the zone centered on the map with the default
// schedule: shrink starts at 2min and reaches the floor at 5min.
func NewSafeZone(m *Map) *SafeZone {
	return &SafeZone{
		Center:        Vector2D{X: m.Width / 2, Y: m.Height / 2},
		InitialRadius: SafeZoneInitialRadius,
		CurrentRadius: SafeZoneInitialRadius,
		TargetRadius:  SafeZoneFloorRadius,
		ShrinkStart:   SafeZoneGraceTicks,
		ShrinkTicks:   SafeZoneShrinkTicks,
		DamagePerTick: SafeZoneDamagePerTick,
	}
}

// Advance recomputes the radius for the given tick.
func (z *SafeZone) Advance(tick int64) {
	if tick < z.ShrinkStart {
		return
	}

	elapsed := tick - z.ShrinkStart
	if elapsed >= z.ShrinkTicks {
		z.CurrentRadius = z.TargetRadius
		return
	}

	progress := float64(elapsed) / float64(z.ShrinkTicks)
	z.CurrentRadius = z.InitialRadius + (z.TargetRadius-z.InitialRadius)*progress
}

// Contains reports whether a position is inside the zone.
func (z *SafeZone) Contains(pos Vector2D) bool {
	return z.Center.DistanceTo(pos) <= z.CurrentRadius
}
