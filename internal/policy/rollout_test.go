package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollout_ZeroPercentNeverRoutesNew(t *testing.T) {
	r := NewRollout(map[string]int{"tool-policy": 0})
	for i := 0; i < 50; i++ {
		assert.False(t, r.RouteNew("tool-policy", "user-"+string(rune('a'+i%26))))
	}
}

func TestRollout_HundredPercentAlwaysRoutesNew(t *testing.T) {
	r := NewRollout(map[string]int{"tool-policy": 100})
	for i := 0; i < 50; i++ {
		assert.True(t, r.RouteNew("tool-policy", "user-"+string(rune('a'+i%26))))
	}
}

func TestRollout_UnknownFeatureDefaultsToLegacy(t *testing.T) {
	r := NewRollout(nil)
	assert.False(t, r.RouteNew("never-configured", "user-1"))
}

func TestRollout_StableAcrossCalls(t *testing.T) {
	r := NewRollout(map[string]int{"tool-policy": 50})
	first := r.RouteNew("tool-policy", "user-42")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.RouteNew("tool-policy", "user-42"))
	}
}

func TestRollout_SetPercentChangesRouting(t *testing.T) {
	r := NewRollout(map[string]int{"tool-policy": 0})
	assert.False(t, r.RouteNew("tool-policy", "user-1"))
	r.SetPercent("tool-policy", 100)
	assert.True(t, r.RouteNew("tool-policy", "user-1"))
}

func TestRollout_RollbackZeroesFeature(t *testing.T) {
	r := NewRollout(map[string]int{"tool-policy": 100})
	r.Rollback("tool-policy")
	assert.False(t, r.RouteNew("tool-policy", "user-1"))
}

func TestRollout_RollbackAllZeroesEverything(t *testing.T) {
	r := NewRollout(map[string]int{"a": 100, "b": 100})
	r.RollbackAll()
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, r.Status())
}

func TestRollout_ClampsOutOfRangePercent(t *testing.T) {
	r := NewRollout(map[string]int{"a": 150, "b": -5})
	status := r.Status()
	assert.Equal(t, 100, status["a"])
	assert.Equal(t, 0, status["b"])
}

func TestRollout_DistributionApproximatesPercentage(t *testing.T) {
	r := NewRollout(map[string]int{"f": 30})
	newCount := 0
	const n = 2000
	for i := 0; i < n; i++ {
		if r.RouteNew("f", "user-"+string(rune(i))+"-x") {
			newCount++
		}
	}
	ratio := float64(newCount) / float64(n)
	assert.InDelta(t, 0.30, ratio, 0.08)
}
