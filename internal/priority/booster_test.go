package priority

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/condition"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newBooster() *Booster {
	return NewBooster(condition.NewEvaluator(clock.NewFake(now), clock.AlwaysOpen{}, time.UTC, zerolog.Nop()))
}

func TestBoostAdditive(t *testing.T) {
	item := &types.QueueItem{ID: "i1", BasePriority: 5, EnqueuedAt: now.Add(-5 * time.Minute)}
	vip := &types.CustomerContext{Tier: "vip"}
	rules := []types.PriorityRule{
		{ID: "tier", IsActive: true, BoostPercentage: 200, Condition: types.CustomerTier{Tier: "vip"}},
		{ID: "wait", IsActive: true, BoostPercentage: 100, Condition: types.WaitTimeAbove{Minutes: 3}},
	}

	res := newBooster().Boost(item, vip, rules, now)
	assert.InDelta(t, 20.0, res.Effective, 1e-9, "base * 4.0")
	assert.Equal(t, []string{"tier", "wait"}, res.Matched)
	assert.Equal(t, 300.0, res.TotalPct)
}

func TestBoostIgnoresInactiveAndUnmatched(t *testing.T) {
	item := &types.QueueItem{BasePriority: 4, EnqueuedAt: now}
	rules := []types.PriorityRule{
		{ID: "off", IsActive: false, BoostPercentage: 300, Condition: types.CustomerTier{Tier: "vip"}},
		{ID: "wait", IsActive: true, BoostPercentage: 100, Condition: types.WaitTimeAbove{Minutes: 1}},
	}
	res := newBooster().Boost(item, &types.CustomerContext{Tier: "vip"}, rules, now)
	assert.Equal(t, 4.0, res.Effective)
	assert.Empty(t, res.Matched)
}

func TestBoostClamped(t *testing.T) {
	item := &types.QueueItem{BasePriority: 400, EnqueuedAt: now}
	rules := []types.PriorityRule{
		{ID: "tier", IsActive: true, BoostPercentage: 300, Condition: types.CustomerTier{Tier: "vip"}},
	}
	res := newBooster().Boost(item, &types.CustomerContext{Tier: "vip"}, rules, now)
	assert.Equal(t, MaxRank, res.Effective)
}

func TestBoostMonotonic(t *testing.T) {
	b := newBooster()
	cust := &types.CustomerContext{Tier: "gold", LifetimeValue: 900, InteractionCount: 4}
	item := &types.QueueItem{BasePriority: 3, EnqueuedAt: now.Add(-10 * time.Minute)}
	candidates := []types.PriorityRule{
		{ID: "a", IsActive: true, BoostPercentage: 10, Condition: types.CustomerTier{Tier: "gold"}},
		{ID: "b", IsActive: true, BoostPercentage: 0, Condition: types.WaitTimeAbove{Minutes: 2}},
		{ID: "c", IsActive: true, BoostPercentage: 75, Condition: types.LifetimeValueAbove{Amount: 500}},
		{ID: "d", IsActive: true, BoostPercentage: 300, Condition: types.InteractionCountAbove{Count: 1}},
		{ID: "e", IsActive: true, BoostPercentage: 300, Condition: types.CustomerTier{Tier: "gold"}},
	}

	var rules []types.PriorityRule
	prev := b.Boost(item, cust, rules, now).Effective
	for _, r := range candidates {
		rules = append(rules, r)
		got := b.Boost(item, cust, rules, now).Effective
		assert.GreaterOrEqual(t, got, prev, "adding rule %s decreased priority", r.ID)
		prev = got
	}
}

func TestBoostRecomputedAsWaitGrows(t *testing.T) {
	b := newBooster()
	item := &types.QueueItem{BasePriority: 2, EnqueuedAt: now}
	rules := []types.PriorityRule{{ID: "wait", IsActive: true, BoostPercentage: 50, Condition: types.WaitTimeAbove{Minutes: 2}}}

	assert.Equal(t, 2.0, b.Boost(item, nil, rules, now.Add(time.Minute)).Effective)
	assert.Equal(t, 3.0, b.Boost(item, nil, rules, now.Add(2*time.Minute)).Effective)
}
