package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDamage_HealthOnly(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{X: 100, Y: 100})

	shieldDelta, healthDelta := p.ApplyDamage(15)

	assert.Equal(t, 0.0, shieldDelta)
	assert.Equal(t, 15.0, healthDelta)
	assert.Equal(t, 85.0, p.Health)
}

func TestApplyDamage_ShieldAbsorbsFirst(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})
	p.AddShieldStack() // 50 shield

	shieldDelta, healthDelta := p.ApplyDamage(15)

	assert.Equal(t, 15.0, shieldDelta)
	assert.Equal(t, 0.0, healthDelta)
	assert.Equal(t, 35.0, p.Shield)
	assert.Equal(t, MaxHealth, p.Health)
}

func TestApplyDamage_SpillsThroughShield(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})
	p.AddShieldStack()
	p.Shield = 20

	shieldDelta, healthDelta := p.ApplyDamage(50)

	// shieldDelta + healthDelta always equals the damage dealt,
	// and the shield never absorbs more than it holds.
	assert.Equal(t, 20.0, shieldDelta)
	assert.Equal(t, 30.0, healthDelta)
	assert.Equal(t, 0.0, p.Shield)
	assert.Equal(t, 70.0, p.Health)
}

func TestApplyDamage_Overkill(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})
	p.Health = 10

	shieldDelta, healthDelta := p.ApplyDamage(50)

	assert.Equal(t, 0.0, shieldDelta)
	assert.Equal(t, 10.0, healthDelta)
	assert.Equal(t, 0.0, p.Health)
}

func TestApplyDamage_DeadTakesNothing(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})
	p.Kill(10)

	shieldDelta, healthDelta := p.ApplyDamage(50)

	assert.Equal(t, 0.0, shieldDelta)
	assert.Equal(t, 0.0, healthDelta)
}

func TestKill_ExactlyOnce(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})

	assert.True(t, p.Kill(42))
	assert.False(t, p.Kill(43), "second kill must not re-fire")
	assert.False(t, p.Alive)
	assert.Equal(t, int64(42), p.DeathTick)
}

func TestStacks_CapAtThree(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})

	for i := 0; i < MaxStacks; i++ {
		assert.True(t, p.AddShieldStack())
		assert.True(t, p.AddDamageStack())
		assert.True(t, p.AddFireRateStack())
	}

	assert.False(t, p.AddShieldStack())
	assert.False(t, p.AddDamageStack())
	assert.False(t, p.AddFireRateStack())

	assert.Equal(t, MaxStacks, p.ShieldStacks)
	assert.Equal(t, MaxStacks, p.DamageStacks)
	assert.Equal(t, MaxStacks, p.FireRateStacks)
	assert.Equal(t, 150.0, p.Shield)
}

func TestAddShieldStack_RefillsToStackLimit(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})
	p.AddShieldStack()
	p.Shield = 10 // chewed down by damage

	p.AddShieldStack()

	assert.Equal(t, 2, p.ShieldStacks)
	assert.Equal(t, 60.0, p.Shield)
}

func TestDamageMultiplier(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})
	assert.Equal(t, 1.0, p.DamageMultiplier())

	p.AddDamageStack()
	assert.InDelta(t, 1.15, p.DamageMultiplier(), 1e-9)

	p.AddDamageStack()
	p.AddDamageStack()
	assert.InDelta(t, 1.45, p.DamageMultiplier(), 1e-9)
}

func TestCanFire_PistolCooldown(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})

	assert.True(t, p.CanFire(1))
	p.LastFireTick = 1

	// 500ms at 30Hz is 15 ticks.
	assert.False(t, p.CanFire(11))
	assert.False(t, p.CanFire(15))
	assert.True(t, p.CanFire(16))
}

func TestSwitchWeapon_OnlyOwned(t *testing.T) {
	p := NewPlayer("u1", "alice", Vector2D{})

	assert.False(t, p.SwitchWeapon(WeaponRifle))
	assert.Equal(t, WeaponPistol, p.Weapon)

	p.PickUpWeapon(WeaponRifle)
	assert.Equal(t, WeaponRifle, p.Weapon)

	assert.True(t, p.SwitchWeapon(WeaponPistol))
	assert.Equal(t, WeaponPistol, p.Weapon)
	assert.True(t, p.SwitchWeapon(WeaponRifle))
}
