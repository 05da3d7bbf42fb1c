package routing

import (
	"sort"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Qualified filters agents down to those allowed to take item under rule.
// A rule with a target skill requires that skill at min_skill_level or
// above; otherwise queue membership decides. Items moved by overflow only
// need membership of their new queue. A requested agent narrows the set
// to that agent.
func Qualified(agents []types.AgentInfo, item *types.QueueItem, rule *types.RoutingRule) []types.AgentInfo {
	out := make([]types.AgentInfo, 0, len(agents))
	for _, a := range agents {
		if item.RequestedAgent != "" && a.AgentID != item.RequestedAgent {
			continue
		}
		if rule != nil && rule.TargetSkill != "" && item.OverflowedFrom == "" {
			s, ok := a.Skill(rule.TargetSkill)
			if !ok || s.ProficiencyLevel < rule.MinSkillLevel {
				continue
			}
		} else if !a.ServesQueue(item.QueueName) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// SelectAgent applies the item's strategy to the qualified subset of
// eligible. It returns nil when nobody qualifies.
func (e *Evaluator) SelectAgent(item *types.QueueItem, rule *types.RoutingRule, eligible []types.AgentInfo) *types.AgentInfo {
	candidates := Qualified(eligible, item, rule)
	if len(candidates) == 0 {
		return nil
	}
	// deterministic base order
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AgentID < candidates[j].AgentID })

	strategy := item.Strategy
	if rule != nil {
		strategy = rule.Strategy
	}

	var picked *types.AgentInfo
	switch strategy {
	case types.StrategyRoundRobin:
		e.mu.Lock()
		last := e.rrCursor[item.QueueName]
		e.mu.Unlock()
		picked = roundRobin(candidates, last)
	case types.StrategyLeastActive:
		picked = leastActive(candidates)
	case types.StrategySkillsBased:
		skill := ""
		if rule != nil {
			skill = rule.TargetSkill
		}
		picked = highestSkill(candidates, skill)
	case types.StrategyPredictive:
		picked = predictive(candidates, item.ID)
	default:
		// longest_idle, priority_weighted and the unrouted default
		picked = longestIdle(candidates)
	}
	if picked == nil {
		return nil
	}
	agent := *picked
	return &agent
}

// roundRobin returns the first agent after last in id order, wrapping around
func roundRobin(candidates []types.AgentInfo, last string) *types.AgentInfo {
	for i := range candidates {
		if candidates[i].AgentID > last {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

func idleBefore(a, b *types.AgentInfo) bool {
	if !a.IdleSince.Equal(b.IdleSince) {
		return a.IdleSince.Before(b.IdleSince)
	}
	return a.AgentID < b.AgentID
}

func longestIdle(candidates []types.AgentInfo) *types.AgentInfo {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if idleBefore(&candidates[i], best) {
			best = &candidates[i]
		}
	}
	return best
}

func leastActive(candidates []types.AgentInfo) *types.AgentInfo {
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if c.ActiveCount() < best.ActiveCount() ||
			(c.ActiveCount() == best.ActiveCount() && idleBefore(c, best)) {
			best = c
		}
	}
	return best
}

func highestSkill(candidates []types.AgentInfo, skill string) *types.AgentInfo {
	level := func(a *types.AgentInfo) int {
		s, _ := a.Skill(skill)
		return s.ProficiencyLevel
	}
	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		if level(c) > level(best) || (level(c) == level(best) && idleBefore(c, best)) {
			best = c
		}
	}
	return best
}

// predictive prefers an agent already reserved for this interaction, then
// falls back to least active
func predictive(candidates []types.AgentInfo, token string) *types.AgentInfo {
	for i := range candidates {
		if token != "" && candidates[i].ReservedFor == token {
			return &candidates[i]
		}
	}
	return leastActive(candidates)
}
