package game

// Player is one simulated entity. The engine goroutine is the sole
// writer; everything outside the engine sees players only through
// per-tick snapshot copies.
type Player struct {
	UserID   string
	Username string

	Position Vector2D
	Velocity Vector2D
	Rotation float64 // aim angle, radians

	Health float64
	Shield float64 // current shield points, 50 per stack

	ShieldStacks   int
	DamageStacks   int
	FireRateStacks int

	Weapon       WeaponKind
	OwnedWeapons map[WeaponKind]bool
	LastFireTick int64

	Kills       int
	DamageDealt float64

	Alive     bool
	DeathTick int64

	lastInput PlayerInput
	hasInput  bool
}

// NewPlayer creates a full-health player holding the starter pistol.
func NewPlayer(userID, username string, pos Vector2D) *Player {
	return &Player{
		UserID:       userID,
		Username:     username,
		Position:     pos,
		Health:       MaxHealth,
		Weapon:       WeaponPistol,
		OwnedWeapons: map[WeaponKind]bool{WeaponPistol: true},
		LastFireTick: -1 << 30,
		Alive:        true,
		DeathTick:    -1,
	}
}

// ApplyDamage routes damage through the shield first, spilling the
// remainder into health. Health is clamped at zero; the returned
// deltas always sum to min(damage, shield+health).
func (p *Player) ApplyDamage(damage float64) (shieldDelta, healthDelta float64) {
	if damage <= 0 || !p.Alive {
		return 0, 0
	}

	shieldDelta = damage
	if shieldDelta > p.Shield {
		shieldDelta = p.Shield
	}
	p.Shield -= shieldDelta

	healthDelta = damage - shieldDelta
	if healthDelta > p.Health {
		healthDelta = p.Health
	}
	p.Health -= healthDelta

	return shieldDelta, healthDelta
}

// Kill transitions alive→false. Returns true only for the call that
// performed the transition; a dead player stays dead for the rest of
// the match.
func (p *Player) Kill(tick int64) bool {
	if !p.Alive {
		return false
	}
	p.Alive = false
	p.Health = 0
	p.Velocity = Vector2D{}
	p.DeathTick = tick
	return true
}

// AddShieldStack grants one shield stack (cap 3) and refills 50 shield
// points up to the new stack limit. Returns false at the cap.
func (p *Player) AddShieldStack() bool {
	if p.ShieldStacks >= MaxStacks {
		return false
	}
	p.ShieldStacks++
	p.Shield += ShieldPerStack
	if maxShield := float64(p.ShieldStacks) * ShieldPerStack; p.Shield > maxShield {
		p.Shield = maxShield
	}
	return true
}

// AddDamageStack grants one damage stack (cap 3).
func (p *Player) AddDamageStack() bool {
	if p.DamageStacks >= MaxStacks {
		return false
	}
	p.DamageStacks++
	return true
}

// AddFireRateStack grants one fire-rate stack (cap 3).
func (p *Player) AddFireRateStack() bool {
	if p.FireRateStacks >= MaxStacks {
		return false
	}
	p.FireRateStacks++
	return true
}

// DamageMultiplier is the shooter-side damage scale: +15% per stack.
func (p *Player) DamageMultiplier() float64 {
	return 1 + DamageStackBonus*float64(p.DamageStacks)
}

// PickUpWeapon adds a weapon to the owned set and equips it.
func (p *Player) PickUpWeapon(w WeaponKind) {
	p.OwnedWeapons[w] = true
	p.Weapon = w
}

// SwitchWeapon equips one of the weapons the player already owns.
func (p *Player) SwitchWeapon(w WeaponKind) bool {
	if !p.OwnedWeapons[w] {
		return false
	}
	p.Weapon = w
	return true
}

// CanFire reports whether the weapon cooldown has elapsed at the given
// tick, with fire-rate stacks shortening the wait.
func (p *Player) CanFire(tick int64) bool {
	return tick-p.LastFireTick >= p.Weapon.CooldownTicks(p.FireRateStacks)
}
