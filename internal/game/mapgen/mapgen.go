// Package mapgen builds the procedural arena a match is played in:
// random non-overlapping obstacles plus a scattering of loot crates.
// Generation is deterministic for a given seed.
package mapgen

import (
	"fmt"
	"math/rand/v2"

	"github.com/udisondev/blastio/internal/game"
)

const (
	minObstacleSize = 300.0
	maxObstacleSize = 900.0

	// crateMargin keeps crates reachable: away from walls and not
	// touching any obstacle.
	crateMargin = 50.0
	crateRadius = 20.0

	minCrates = 20
	maxCrates = 30

	// placementAttempts bounds the dart-throwing loops. Generation is
	// not a hot path; a generous budget keeps coverage close to target.
	placementAttempts = 10000

	// viableCoverage is the fraction of the target obstacle area below
	// which the map is considered degenerate and generation fails.
	viableCoverage = 0.5
)

// Generator produces match maps of a fixed size.
type Generator struct {
	width  float64
	height float64
}

// NewGenerator creates a Generator for the given arena dimensions.
func NewGenerator(width, height float64) *Generator {
	return &Generator{width: width, height: height}
}

// Generate builds a map from the seed: obstacles covering ~35% of the
// arena with a minimum separation, then 20-30 crates with pre-rolled
// contents, none intersecting an obstacle.
func (g *Generator) Generate(seed int64) (*game.Map, error) {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))

	m := &game.Map{
		Width:  g.width,
		Height: g.height,
		Seed:   seed,
	}

	covered := g.placeObstacles(rng, m)

	target := g.width * g.height * game.ObstacleDensity
	if covered < target*viableCoverage {
		return nil, fmt.Errorf("degenerate map: obstacle coverage %.1f%% of arena (target %.1f%%)",
			100*covered/(g.width*g.height), 100*game.ObstacleDensity)
	}

	if err := g.placeCrates(rng, m); err != nil {
		return nil, err
	}

	return m, nil
}

func (g *Generator) placeObstacles(rng *rand.Rand, m *game.Map) float64 {
	target := g.width * g.height * game.ObstacleDensity

	var covered float64
	for attempt := 0; attempt < placementAttempts && covered < target; attempt++ {
		w := minObstacleSize + rng.Float64()*(maxObstacleSize-minObstacleSize)
		h := minObstacleSize + rng.Float64()*(maxObstacleSize-minObstacleSize)

		cand := &game.Obstacle{
			ID:     fmt.Sprintf("obs-%d", len(m.Obstacles)),
			X:      rng.Float64() * (g.width - w),
			Y:      rng.Float64() * (g.height - h),
			Width:  w,
			Height: h,
			Type:   game.ObstacleRock,
			Health: 100,
			Static: true,
		}
		if rng.IntN(4) == 0 {
			cand.Type = game.ObstacleWall
		}

		if tooClose(cand, m.Obstacles) {
			continue
		}

		m.Obstacles = append(m.Obstacles, cand)
		covered += w * h
	}

	return covered
}

// tooClose reports whether the candidate violates the minimum
// separation against any placed obstacle. Growing the candidate by the
// separation on every side turns the gap test into a plain overlap test.
func tooClose(cand *game.Obstacle, placed []*game.Obstacle) bool {
	const sep = game.ObstacleMinSeparation

	for _, o := range placed {
		if cand.X-sep < o.X+o.Width &&
			cand.X+cand.Width+sep > o.X &&
			cand.Y-sep < o.Y+o.Height &&
			cand.Y+cand.Height+sep > o.Y {
			return true
		}
	}
	return false
}

func (g *Generator) placeCrates(rng *rand.Rand, m *game.Map) error {
	count := minCrates + rng.IntN(maxCrates-minCrates+1)

	for i := 0; i < count; i++ {
		pos, ok := g.findCrateSpot(rng, m)
		if !ok {
			return fmt.Errorf("placed %d of %d crates before running out of room", i, count)
		}

		lootID := fmt.Sprintf("loot-%d", i)
		m.Crates = append(m.Crates, &game.Crate{
			ID:       fmt.Sprintf("crate-%d", i),
			Position: pos,
			LootID:   lootID,
		})
		m.Loot = append(m.Loot, &game.Loot{
			ID:       lootID,
			Type:     rollLoot(rng),
			Position: pos,
			Value:    1,
		})
	}

	return nil
}

func (g *Generator) findCrateSpot(rng *rand.Rand, m *game.Map) (game.Vector2D, bool) {
	for attempt := 0; attempt < placementAttempts; attempt++ {
		pos := game.Vector2D{
			X: crateMargin + rng.Float64()*(g.width-2*crateMargin),
			Y: crateMargin + rng.Float64()*(g.height-2*crateMargin),
		}
		if m.Blocked(pos, crateRadius) {
			continue
		}
		return pos, true
	}
	return game.Vector2D{}, false
}

var lootRoll = []game.LootType{
	game.LootRifle,
	game.LootShotgun,
	game.LootSniper,
	game.LootShield,
	game.LootDamageBoost,
	game.LootFireRateBoost,
}

func rollLoot(rng *rand.Rand) game.LootType {
	return lootRoll[rng.IntN(len(lootRoll))]
}
