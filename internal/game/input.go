package game

// PlayerInput is the movement/aim state reported by a client, applied
// by the engine on the next tick (or retro-applied within the lag
// compensation window for fire timing).
type PlayerInput struct {
	Tick     int64   `json:"tick"`
	Up       bool    `json:"up"`
	Down     bool    `json:"down"`
	Left     bool    `json:"left"`
	Right    bool    `json:"right"`
	Shoot    bool    `json:"shoot"`
	AimAngle float64 `json:"aimAngle"`
}

// Direction converts the movement booleans into a unit vector.
// Opposite keys cancel; diagonals are normalized so held keys never
// move a player faster than BaseSpeed.
func (in PlayerInput) Direction() Vector2D {
	var d Vector2D
	if in.Up {
		d.Y--
	}
	if in.Down {
		d.Y++
	}
	if in.Left {
		d.X--
	}
	if in.Right {
		d.X++
	}
	return d.Normalized()
}

// CommandKind discriminates engine queue entries.
type CommandKind uint8

const (
	CmdInput CommandKind = iota
	CmdShoot
	CmdCollect
	CmdSwitchWeapon
)

// Command is one queued client action. The router fills it and hands
// it to Engine.Queue; the engine drains the queue at tick start and
// applies commands in (userID, arrival) order.
type Command struct {
	Kind   CommandKind
	UserID string
	seq    uint64

	Input  PlayerInput // CmdInput
	Angle  float64     // CmdShoot
	LootID string      // CmdCollect, empty = nearest
	Weapon WeaponKind  // CmdSwitchWeapon

	// ClientTick is the client-stamped simulation tick used for lag
	// compensation of fire timing.
	ClientTick int64
}
