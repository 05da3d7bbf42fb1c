// Package condition evaluates routing rule conditions and priority rule
// conditions against an interaction's context.
package condition

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Context is what a rule's conditions are evaluated against
type Context struct {
	Channel  types.ChannelType
	Customer *types.CustomerContext // nil when the directory had nothing
}

// Result explains an evaluation
type Result struct {
	Matched  bool
	Failed   []string              // sub-conditions that did not hold
	Callback *types.CallbackConfig // set when the rule offers a callback
}

// Evaluator checks conditions against the injected clock and calendar
type Evaluator struct {
	clock    clock.Clock
	calendar clock.Calendar
	loc      *time.Location // default timezone for time windows
	logger   zerolog.Logger
}

// NewEvaluator creates an Evaluator. loc is used for time windows that name no timezone.
func NewEvaluator(c clock.Clock, cal clock.Calendar, loc *time.Location, logger zerolog.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{
		clock:    c,
		calendar: cal,
		loc:      loc,
		logger:   logger.With().Str("component", "condition").Logger(),
	}
}

// Evaluate AND-combines every populated condition field. It never panics;
// malformed data makes the condition fail.
func (e *Evaluator) Evaluate(conds types.RuleConditions, ctx Context) Result {
	now := e.clock.Now()
	var failed []string

	if conds.BusinessHoursOnly {
		switch {
		case e.calendar == nil:
			failed = append(failed, "business_hours_only: no calendar configured")
		case !e.calendar.IsBusinessHours(now):
			failed = append(failed, "business_hours_only")
		}
	}

	if conds.CustomerTier != "" {
		switch {
		case ctx.Customer == nil:
			failed = append(failed, "customer_tier: no customer context")
		case ctx.Customer.Tier != conds.CustomerTier:
			failed = append(failed, "customer_tier")
		}
	}

	if conds.TimeWindow != nil {
		ok, err := e.inTimeWindow(conds.TimeWindow, now)
		if err != nil {
			e.logger.Warn().Err(err).Msg("malformed time window, treating as not matched")
			failed = append(failed, "time_window: "+err.Error())
		} else if !ok {
			failed = append(failed, "time_window")
		}
	}

	res := Result{Matched: len(failed) == 0, Failed: failed}
	if conds.Callback != nil && conds.Callback.Enabled {
		cb := *conds.Callback
		res.Callback = &cb
	}
	return res
}

func (e *Evaluator) inTimeWindow(w *types.TimeWindow, now time.Time) (bool, error) {
	start, err := clock.ParseHHMM(w.Start)
	if err != nil {
		return false, err
	}
	end, err := clock.ParseHHMM(w.End)
	if err != nil {
		return false, err
	}
	loc := e.loc
	if w.Timezone != "" {
		if loc, err = clock.LoadLocation(w.Timezone); err != nil {
			return false, err
		}
	}
	local := now.In(loc)
	minute := clock.MinuteOfDay(local)

	// An overnight window belongs to the day it started on.
	day := local.Weekday()
	if start > end && minute <= end {
		day = (day + 6) % 7
	}
	if len(w.Days) > 0 && !containsDay(w.Days, day) {
		return false, nil
	}
	return clock.InWindow(minute, start, end), nil
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

// ItemSnapshot is the per-tick view of a queued item used by priority rules
type ItemSnapshot struct {
	Wait     time.Duration
	Customer *types.CustomerContext
}

// EvaluatePriority reports whether a priority rule's condition holds and the
// boost percentage it contributes. Inactive rules never match.
func (e *Evaluator) EvaluatePriority(rule types.PriorityRule, snap ItemSnapshot) (bool, float64) {
	if !rule.IsActive {
		return false, 0
	}
	matched, err := matchPriority(rule.Condition, snap)
	if err != nil {
		e.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("malformed priority condition, treating as not matched")
		return false, 0
	}
	if !matched {
		return false, 0
	}
	return true, rule.BoostPercentage
}

func matchPriority(cond types.PriorityCondition, snap ItemSnapshot) (bool, error) {
	switch c := cond.(type) {
	case types.CustomerTier:
		return snap.Customer != nil && snap.Customer.Tier == c.Tier, nil
	case types.WaitTimeAbove:
		return snap.Wait.Seconds() >= c.Minutes*60, nil
	case types.LifetimeValueAbove:
		return snap.Customer != nil && snap.Customer.LifetimeValue >= c.Amount, nil
	case types.InteractionCountAbove:
		return snap.Customer != nil && snap.Customer.InteractionCount >= c.Count, nil
	case nil:
		return false, fmt.Errorf("rule has no condition")
	default:
		return false, fmt.Errorf("unsupported condition %T", cond)
	}
}
