package game

import "math"

// ObstacleType categorizes an obstacle for the client renderer.
type ObstacleType string

const (
	ObstacleRock ObstacleType = "rock"
	ObstacleWall ObstacleType = "wall"
)

// Obstacle is an axis-aligned rectangle blocking movement and shots.
type Obstacle struct {
	ID     string       `json:"id"`
	X      float64      `json:"x"` // top-left corner
	Y      float64      `json:"y"`
	Width  float64      `json:"width"`
	Height float64      `json:"height"`
	Type   ObstacleType `json:"type"`
	Health float64      `json:"health"`
	Static bool         `json:"static"`
}

// blocksCircle reports whether a circle at pos with the given radius
// overlaps the obstacle.
func (o *Obstacle) blocksCircle(pos Vector2D, radius float64) bool {
	// Closest point on the rectangle to the circle center.
	cx := clamp(pos.X, o.X, o.X+o.Width)
	cy := clamp(pos.Y, o.Y, o.Y+o.Height)
	return pos.DistanceTo(Vector2D{X: cx, Y: cy}) < radius
}

// Map is one match's immutable terrain: bounds, obstacles, the crate
// layout and each crate's pre-rolled contents. Generated once at
// match start.
type Map struct {
	Width     float64
	Height    float64
	Seed      int64
	Obstacles []*Obstacle
	Crates    []*Crate
	Loot      []*Loot
}

// Blocked reports whether a circle at pos overlaps any obstacle or
// leaves the map bounds.
func (m *Map) Blocked(pos Vector2D, radius float64) bool {
	if pos.X < radius || pos.X > m.Width-radius ||
		pos.Y < radius || pos.Y > m.Height-radius {
		return true
	}
	for _, o := range m.Obstacles {
		if o.blocksCircle(pos, radius) {
			return true
		}
	}
	return false
}

// ResolveMove applies delta to pos with axis-separated sweeps: each
// axis is attempted independently and zeroed on collision, so sliding
// along walls works. The result is always inside map bounds.
func (m *Map) ResolveMove(pos, delta Vector2D, radius float64) Vector2D {
	next := pos

	if delta.X != 0 {
		tryX := Vector2D{X: clamp(pos.X+delta.X, radius, m.Width-radius), Y: next.Y}
		if !m.blockedByObstacle(tryX, radius) {
			next.X = tryX.X
		}
	}
	if delta.Y != 0 {
		tryY := Vector2D{X: next.X, Y: clamp(pos.Y+delta.Y, radius, m.Height-radius)}
		if !m.blockedByObstacle(tryY, radius) {
			next.Y = tryY.Y
		}
	}

	return next
}

func (m *Map) blockedByObstacle(pos Vector2D, radius float64) bool {
	for _, o := range m.Obstacles {
		if o.blocksCircle(pos, radius) {
			return true
		}
	}
	return false
}

// FindFreeNear returns pos if a circle of the given radius fits there,
// otherwise the nearest unblocked spot probing outward in rings. Falls
// back to the map center, which generation keeps reachable in practice.
func (m *Map) FindFreeNear(pos Vector2D, radius float64) Vector2D {
	if !m.Blocked(pos, radius) {
		return pos
	}

	const directions = 8
	for ring := 1; ring <= 40; ring++ {
		dist := float64(ring) * 2 * radius
		for d := 0; d < directions; d++ {
			angle := float64(d) * 2 * math.Pi / directions
			cand := pos.Add(UnitFromAngle(angle).Scale(dist))
			if !m.Blocked(cand, radius) {
				return cand
			}
		}
	}

	return Vector2D{X: m.Width / 2, Y: m.Height / 2}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
