package game

// Snapshot is one tick's authoritative world state. The engine builds
// a fresh copy every tick; nothing in it aliases live simulation state,
// so consumers may read it without synchronization.
type Snapshot struct {
	Tick        int64                `json:"tick"`
	Players     []PlayerSnapshot     `json:"players"`
	Projectiles []ProjectileSnapshot `json:"projectiles"`
	Loot        []Loot               `json:"loot"`
	Crates      []Crate              `json:"crates"`
	SafeZone    SafeZoneSnapshot     `json:"safeZone"`
	Phase       string               `json:"phase"`
	Rankings    []RankingEntry       `json:"rankings"`
}

type PlayerSnapshot struct {
	UserID   string   `json:"userID"`
	Username string   `json:"username"`
	Position Vector2D `json:"position"`
	Velocity Vector2D `json:"velocity"`
	Rotation float64  `json:"rotation"`
	Health   float64  `json:"health"`
	Shield   float64  `json:"shield"`
	Kills    int      `json:"kills"`
	IsAlive  bool     `json:"isAlive"`
}

type ProjectileSnapshot struct {
	ID       string     `json:"id"`
	OwnerID  string     `json:"ownerID"`
	Position Vector2D   `json:"position"`
	Velocity Vector2D   `json:"velocity"`
	Weapon   WeaponKind `json:"weapon"`
}

type SafeZoneSnapshot struct {
	Center        Vector2D `json:"center"`
	CurrentRadius float64  `json:"currentRadius"`
	TargetRadius  float64  `json:"targetRadius"`
	NextShrinkTick int64   `json:"nextShrinkTick"`
}

// RankingEntry is one row of the live leaderboard.
type RankingEntry struct {
	UserID    string `json:"userID"`
	Username  string `json:"username"`
	Kills     int    `json:"kills"`
	Placement int    `json:"placement"`
}

// FinalRanking is one row of the end-of-match result table.
type FinalRanking struct {
	UserID      string  `json:"userID"`
	Username    string  `json:"username"`
	Placement   int     `json:"placement"`
	Kills       int     `json:"kills"`
	DamageDealt float64 `json:"damageDealt"`
}

// FilterFor returns a copy of the snapshot with projectiles reduced to
// those within the interest radius of the recipient's entity. The
// recipient sees everything else unfiltered; unknown recipients get
// the full projectile set.
func (s *Snapshot) FilterFor(userID string) Snapshot {
	out := *s

	var center Vector2D
	found := false
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			center = s.Players[i].Position
			found = true
			break
		}
	}
	if !found {
		return out
	}

	filtered := make([]ProjectileSnapshot, 0, len(s.Projectiles))
	for _, pr := range s.Projectiles {
		if pr.Position.DistanceTo(center) <= InterestRadius {
			filtered = append(filtered, pr)
		}
	}
	out.Projectiles = filtered

	return out
}
