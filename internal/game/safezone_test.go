package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testZone() *SafeZone {
	return NewSafeZone(&Map{Width: MapWidth, Height: MapHeight})
}

func TestSafeZone_HoldsDuringGrace(t *testing.T) {
	z := testZone()

	z.Advance(0)
	assert.Equal(t, SafeZoneInitialRadius, z.CurrentRadius)

	z.Advance(SafeZoneGraceTicks - 1)
	assert.Equal(t, SafeZoneInitialRadius, z.CurrentRadius)
}

func TestSafeZone_ShrinkTimeline(t *testing.T) {
	z := testZone()

	// Shrink begins at 2min and interpolates linearly.
	z.Advance(SafeZoneGraceTicks)
	assert.Equal(t, SafeZoneInitialRadius, z.CurrentRadius)

	z.Advance(SafeZoneGraceTicks + SafeZoneShrinkTicks/2)
	assert.InDelta(t, (SafeZoneInitialRadius+SafeZoneFloorRadius)/2, z.CurrentRadius, 1e-6)

	// At 5min the radius equals the floor and never goes below.
	z.Advance(SafeZoneGraceTicks + SafeZoneShrinkTicks)
	assert.Equal(t, SafeZoneFloorRadius, z.CurrentRadius)

	z.Advance(SafeZoneGraceTicks + 10*SafeZoneShrinkTicks)
	assert.Equal(t, SafeZoneFloorRadius, z.CurrentRadius)
}

func TestSafeZone_Contains(t *testing.T) {
	z := testZone()
	z.CurrentRadius = 100

	assert.True(t, z.Contains(z.Center))
	assert.True(t, z.Contains(z.Center.Add(Vector2D{X: 100})))
	assert.False(t, z.Contains(z.Center.Add(Vector2D{X: 101})))
}
