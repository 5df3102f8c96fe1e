package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func emptyMap() *Map {
	return &Map{Width: MapWidth, Height: MapHeight}
}

func TestResolveMove_Free(t *testing.T) {
	m := emptyMap()

	next := m.ResolveMove(Vector2D{X: 100, Y: 100}, Vector2D{X: 5, Y: -5}, PlayerRadius)

	assert.Equal(t, Vector2D{X: 105, Y: 95}, next)
}

func TestResolveMove_ClampsToBounds(t *testing.T) {
	m := emptyMap()

	next := m.ResolveMove(Vector2D{X: PlayerRadius, Y: PlayerRadius}, Vector2D{X: -10, Y: -10}, PlayerRadius)

	assert.Equal(t, Vector2D{X: PlayerRadius, Y: PlayerRadius}, next)
}

func TestResolveMove_SlidesAlongObstacle(t *testing.T) {
	m := emptyMap()
	m.Obstacles = append(m.Obstacles, &Obstacle{
		ID: "o1", X: 200, Y: 0, Width: 100, Height: 1000, Type: ObstacleWall, Static: true,
	})

	start := Vector2D{X: 200 - PlayerRadius - 1, Y: 500}
	next := m.ResolveMove(start, Vector2D{X: 5, Y: 5}, PlayerRadius)

	// X axis is blocked and zeroed; Y still advances.
	assert.Equal(t, start.X, next.X)
	assert.Equal(t, start.Y+5, next.Y)
}

func TestBlocked(t *testing.T) {
	m := emptyMap()
	m.Obstacles = append(m.Obstacles, &Obstacle{
		ID: "o1", X: 100, Y: 100, Width: 50, Height: 50,
	})

	assert.True(t, m.Blocked(Vector2D{X: 125, Y: 125}, 5), "inside obstacle")
	assert.True(t, m.Blocked(Vector2D{X: 2, Y: 500}, 5), "outside left bound")
	assert.False(t, m.Blocked(Vector2D{X: 500, Y: 500}, 5))
}

func TestFindFreeNear(t *testing.T) {
	m := emptyMap()
	m.Obstacles = append(m.Obstacles, &Obstacle{
		ID: "o1", X: 400, Y: 400, Width: 200, Height: 200,
	})

	free := Vector2D{X: 1000, Y: 1000}
	assert.Equal(t, free, m.FindFreeNear(free, PlayerRadius))

	inside := Vector2D{X: 500, Y: 500}
	relocated := m.FindFreeNear(inside, PlayerRadius)
	assert.False(t, m.Blocked(relocated, PlayerRadius))
	assert.NotEqual(t, inside, relocated)
}
