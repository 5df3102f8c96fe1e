package game

// Projectile is a live shot. Damage is captured at fire time (base
// damage x shooter's damage multiplier) so later stack pickups never
// change bullets already in flight.
type Projectile struct {
	ID            string
	OwnerUserID   string
	Position      Vector2D
	StartPosition Vector2D
	Velocity      Vector2D // units per tick
	Damage        float64
	Weapon        WeaponKind

	SpawnTick  int64
	ClientTick int64 // client-stamped fire tick, already clamped
	ExpireTick int64

	MaxRange float64
	Traveled float64
}

// Advance moves the projectile one tick, clamping the last step so the
// traveled distance never exceeds MaxRange. It returns false when the
// projectile must retire (range exhausted or lifetime expired).
func (pr *Projectile) Advance(tick int64) bool {
	if tick >= pr.ExpireTick {
		return false
	}

	step := pr.Velocity.Length()
	if remaining := pr.MaxRange - pr.Traveled; step >= remaining {
		pr.Position = pr.Position.Add(pr.Velocity.Normalized().Scale(remaining))
		pr.Traveled = pr.MaxRange
		return false
	}

	pr.Position = pr.Position.Add(pr.Velocity)
	pr.Traveled += step
	return true
}

// Hits reports whether the projectile currently overlaps the player.
func (pr *Projectile) Hits(p *Player) bool {
	if !p.Alive || p.UserID == pr.OwnerUserID {
		return false
	}
	return pr.Position.DistanceTo(p.Position) <= PlayerRadius+ProjectileRadius
}
