package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeaponTable(t *testing.T) {
	tests := []struct {
		kind     WeaponKind
		damage   float64
		cooldown time.Duration
		rng      float64
		speed    float64
		lifetime time.Duration
	}{
		{WeaponPistol, 15, 500 * time.Millisecond, 600, 10, 3 * time.Second},
		{WeaponRifle, 20, 400 * time.Millisecond, 800, 12, 3500 * time.Millisecond},
		{WeaponShotgun, 35, 800 * time.Millisecond, 400, 8, 2 * time.Second},
		{WeaponSniper, 50, 1200 * time.Millisecond, 1200, 15, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			s := tt.kind.Stats()
			assert.Equal(t, tt.damage, s.Damage)
			assert.Equal(t, tt.cooldown, s.Cooldown)
			assert.Equal(t, tt.rng, s.Range)
			assert.Equal(t, tt.speed, s.Speed)
			assert.Equal(t, tt.lifetime, s.Lifetime)
		})
	}
}

func TestCooldownTicks(t *testing.T) {
	assert.Equal(t, int64(15), WeaponPistol.CooldownTicks(0))
	assert.Equal(t, int64(12), WeaponRifle.CooldownTicks(0))
	assert.Equal(t, int64(24), WeaponShotgun.CooldownTicks(0))
	assert.Equal(t, int64(36), WeaponSniper.CooldownTicks(0))
}

func TestCooldownTicks_FireRateStacks(t *testing.T) {
	// -20% per stack: 500ms -> 400ms -> 300ms -> 200ms.
	assert.Equal(t, int64(12), WeaponPistol.CooldownTicks(1))
	assert.Equal(t, int64(9), WeaponPistol.CooldownTicks(2))
	assert.Equal(t, int64(6), WeaponPistol.CooldownTicks(3))
}

func TestCooldownTicks_NeverZero(t *testing.T) {
	// Even absurd stack counts leave at least one tick of cooldown.
	assert.GreaterOrEqual(t, WeaponPistol.CooldownTicks(5), int64(1))
}

func TestLifetimeTicks(t *testing.T) {
	assert.Equal(t, int64(90), WeaponPistol.LifetimeTicks())
	assert.Equal(t, int64(105), WeaponRifle.LifetimeTicks())
	assert.Equal(t, int64(60), WeaponShotgun.LifetimeTicks())
	assert.Equal(t, int64(120), WeaponSniper.LifetimeTicks())
}

func TestWeaponKind_UnknownFallsBackToPistol(t *testing.T) {
	var w WeaponKind = "bazooka"
	assert.False(t, w.Valid())
	assert.Equal(t, WeaponPistol.Stats(), w.Stats())
}
