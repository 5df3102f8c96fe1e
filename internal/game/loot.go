package game

// LootType is what a crate drops or ground loot grants.
type LootType string

const (
	LootRifle        LootType = "rifle"
	LootShotgun      LootType = "shotgun"
	LootSniper       LootType = "sniper"
	LootShield       LootType = "shield"
	LootDamageBoost  LootType = "damage-boost"
	LootFireRateBoost LootType = "fire-rate-boost"
)

// Loot is a collectible item on the ground.
type Loot struct {
	ID       string   `json:"id"`
	Type     LootType `json:"type"`
	Position Vector2D `json:"position"`
	Value    int      `json:"value"`
}

// Crate is a container placed by the map generator. Opening it drops
// its loot at the crate position.
type Crate struct {
	ID       string   `json:"id"`
	Position Vector2D `json:"position"`
	Opened   bool     `json:"opened"`
	LootID   string   `json:"lootId"`
}

// Apply grants the loot's effect to the player. Weapon loot always
// succeeds (pickup re-equips); boosts fail at the 3-stack cap.
func (l *Loot) Apply(p *Player) bool {
	switch l.Type {
	case LootRifle:
		p.PickUpWeapon(WeaponRifle)
	case LootShotgun:
		p.PickUpWeapon(WeaponShotgun)
	case LootSniper:
		p.PickUpWeapon(WeaponSniper)
	case LootShield:
		return p.AddShieldStack()
	case LootDamageBoost:
		return p.AddDamageStack()
	case LootFireRateBoost:
		return p.AddFireRateStack()
	default:
		return false
	}
	return true
}
