// Package priority computes effective queue priority from active boost rules.
package priority

import (
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/condition"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// MaxRank is the highest effective priority an item can hold
const MaxRank = 1000.0

// Result is the outcome of a boost computation
type Result struct {
	Effective float64
	Matched   []string // IDs of priority rules that contributed
	TotalPct  float64
}

// Booster applies PriorityRules on top of an item's base priority
type Booster struct {
	evaluator *condition.Evaluator
}

// NewBooster creates a Booster using e for condition checks
func NewBooster(e *condition.Evaluator) *Booster {
	return &Booster{evaluator: e}
}

// Boost returns base * (1 + sum(boost)/100) over every satisfied active rule,
// clamped to [0, MaxRank]. Boosts are additive.
func (b *Booster) Boost(item *types.QueueItem, customer *types.CustomerContext, rules []types.PriorityRule, now time.Time) Result {
	snap := condition.ItemSnapshot{Wait: item.WaitTime(now), Customer: customer}

	var res Result
	for _, r := range rules {
		matched, pct := b.evaluator.EvaluatePriority(r, snap)
		if !matched || pct <= 0 {
			continue
		}
		res.TotalPct += pct
		res.Matched = append(res.Matched, r.ID)
	}

	res.Effective = clamp(float64(item.BasePriority) * (1 + res.TotalPct/100))
	return res
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > MaxRank:
		return MaxRank
	}
	return v
}
