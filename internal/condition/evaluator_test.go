package condition

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

type fixedCalendar bool

func (f fixedCalendar) IsBusinessHours(time.Time) bool { return bool(f) }

// Monday 2026-03-02 10:30 UTC
var monday = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func newEvaluator(now time.Time, open bool) *Evaluator {
	return NewEvaluator(clock.NewFake(now), fixedCalendar(open), time.UTC, zerolog.Nop())
}

func TestEvaluateEmptyConditionsMatch(t *testing.T) {
	res := newEvaluator(monday, false).Evaluate(types.RuleConditions{}, Context{})
	assert.True(t, res.Matched)
	assert.Empty(t, res.Failed)
	assert.Nil(t, res.Callback)
}

func TestEvaluateBusinessHours(t *testing.T) {
	conds := types.RuleConditions{BusinessHoursOnly: true}

	assert.True(t, newEvaluator(monday, true).Evaluate(conds, Context{}).Matched)

	res := newEvaluator(monday, false).Evaluate(conds, Context{})
	assert.False(t, res.Matched)
	assert.Equal(t, []string{"business_hours_only"}, res.Failed)

	noCal := NewEvaluator(clock.NewFake(monday), nil, nil, zerolog.Nop())
	assert.False(t, noCal.Evaluate(conds, Context{}).Matched)
}

func TestEvaluateCustomerTier(t *testing.T) {
	e := newEvaluator(monday, true)
	conds := types.RuleConditions{CustomerTier: "vip"}

	tests := []struct {
		name     string
		customer *types.CustomerContext
		want     bool
	}{
		{"exact match", &types.CustomerContext{Tier: "vip"}, true},
		{"different tier", &types.CustomerContext{Tier: "gold"}, false},
		{"case differs", &types.CustomerContext{Tier: "VIP"}, false},
		{"missing context fails closed", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Evaluate(conds, Context{Customer: tt.customer})
			assert.Equal(t, tt.want, res.Matched)
		})
	}
}

func TestEvaluateTimeWindow(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		window types.TimeWindow
		want   bool
	}{
		{"inside", monday, types.TimeWindow{Start: "09:00", End: "17:00"}, true},
		{"start inclusive", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), types.TimeWindow{Start: "09:00", End: "17:00"}, true},
		{"end inclusive", time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), types.TimeWindow{Start: "09:00", End: "17:00"}, true},
		{"after end", time.Date(2026, 3, 2, 17, 1, 0, 0, time.UTC), types.TimeWindow{Start: "09:00", End: "17:00"}, false},
		{"day listed", monday, types.TimeWindow{Start: "09:00", End: "17:00", Days: []time.Weekday{time.Monday}}, true},
		{"day not listed", monday, types.TimeWindow{Start: "09:00", End: "17:00", Days: []time.Weekday{time.Tuesday}}, false},
		{"overnight before midnight", time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC), types.TimeWindow{Start: "22:00", End: "06:00", Days: []time.Weekday{time.Monday}}, true},
		{"overnight after midnight counts previous day", time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), types.TimeWindow{Start: "22:00", End: "06:00", Days: []time.Weekday{time.Monday}}, true},
		{"overnight midday", monday, types.TimeWindow{Start: "22:00", End: "06:00"}, false},
		// 10:30 UTC is 05:30 in New York in March before DST starts
		{"rule timezone", monday, types.TimeWindow{Start: "09:00", End: "17:00", Timezone: "America/New_York"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.window
			res := newEvaluator(tt.now, true).Evaluate(types.RuleConditions{TimeWindow: &w}, Context{})
			assert.Equal(t, tt.want, res.Matched)
		})
	}
}

func TestEvaluateMalformedFailsClosed(t *testing.T) {
	e := newEvaluator(monday, true)
	for _, w := range []types.TimeWindow{
		{Start: "9am", End: "17:00"},
		{Start: "09:00", End: "25:00"},
		{Start: "09:00", End: "17:00", Timezone: "Mars/Olympus"},
	} {
		w := w
		res := e.Evaluate(types.RuleConditions{TimeWindow: &w}, Context{})
		assert.False(t, res.Matched)
		assert.Len(t, res.Failed, 1)
	}
}

func TestEvaluateAndCombinesAndReportsEveryFailure(t *testing.T) {
	e := newEvaluator(monday, false)
	res := e.Evaluate(types.RuleConditions{
		BusinessHoursOnly: true,
		CustomerTier:      "vip",
		TimeWindow:        &types.TimeWindow{Start: "12:00", End: "13:00"},
	}, Context{Customer: &types.CustomerContext{Tier: "standard"}})
	assert.False(t, res.Matched)
	assert.Equal(t, []string{"business_hours_only", "customer_tier", "time_window"}, res.Failed)
}

func TestEvaluateCallbackAnnotatesOnly(t *testing.T) {
	e := newEvaluator(monday, true)
	res := e.Evaluate(types.RuleConditions{
		Callback: &types.CallbackConfig{Enabled: true, ThresholdSeconds: 120},
	}, Context{})
	assert.True(t, res.Matched)
	if assert.NotNil(t, res.Callback) {
		assert.Equal(t, 120, res.Callback.ThresholdSeconds)
	}

	res = e.Evaluate(types.RuleConditions{Callback: &types.CallbackConfig{Enabled: false}}, Context{})
	assert.True(t, res.Matched)
	assert.Nil(t, res.Callback)
}

func TestEvaluatePriority(t *testing.T) {
	e := newEvaluator(monday, true)
	vip := &types.CustomerContext{Tier: "vip", LifetimeValue: 5000, InteractionCount: 12}

	tests := []struct {
		name string
		rule types.PriorityRule
		snap ItemSnapshot
		want bool
	}{
		{"tier", types.PriorityRule{IsActive: true, BoostPercentage: 50, Condition: types.CustomerTier{Tier: "vip"}}, ItemSnapshot{Customer: vip}, true},
		{"tier without customer", types.PriorityRule{IsActive: true, Condition: types.CustomerTier{Tier: "vip"}}, ItemSnapshot{}, false},
		{"wait threshold reached", types.PriorityRule{IsActive: true, Condition: types.WaitTimeAbove{Minutes: 3}}, ItemSnapshot{Wait: 3 * time.Minute}, true},
		{"wait below threshold", types.PriorityRule{IsActive: true, Condition: types.WaitTimeAbove{Minutes: 3}}, ItemSnapshot{Wait: 179 * time.Second}, false},
		{"lifetime value", types.PriorityRule{IsActive: true, Condition: types.LifetimeValueAbove{Amount: 5000}}, ItemSnapshot{Customer: vip}, true},
		{"interaction count", types.PriorityRule{IsActive: true, Condition: types.InteractionCountAbove{Count: 13}}, ItemSnapshot{Customer: vip}, false},
		{"inactive", types.PriorityRule{IsActive: false, Condition: types.CustomerTier{Tier: "vip"}}, ItemSnapshot{Customer: vip}, false},
		{"nil condition", types.PriorityRule{IsActive: true}, ItemSnapshot{Customer: vip}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, boost := e.EvaluatePriority(tt.rule, tt.snap)
			assert.Equal(t, tt.want, matched)
			if matched {
				assert.Equal(t, tt.rule.BoostPercentage, boost)
			} else {
				assert.Zero(t, boost)
			}
		})
	}
}
