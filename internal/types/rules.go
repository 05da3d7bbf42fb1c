package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoutingStrategy selects how an agent is picked once a rule wins
type RoutingStrategy string

const (
	StrategyRoundRobin       RoutingStrategy = "round_robin"
	StrategyLeastActive      RoutingStrategy = "least_active"
	StrategyLongestIdle      RoutingStrategy = "longest_idle"
	StrategySkillsBased      RoutingStrategy = "skills_based"
	StrategyPriorityWeighted RoutingStrategy = "priority_weighted"
	StrategyPredictive       RoutingStrategy = "predictive"
)

// Valid reports whether s is a known strategy
func (s RoutingStrategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastActive, StrategyLongestIdle,
		StrategySkillsBased, StrategyPriorityWeighted, StrategyPredictive:
		return true
	}
	return false
}

// OverflowAction is what happens when an interaction cannot be served within policy
type OverflowAction string

const (
	OverflowVoicemail  OverflowAction = "voicemail"
	OverflowCallback   OverflowAction = "callback"
	OverflowQueue      OverflowAction = "queue"
	OverflowRedirect   OverflowAction = "redirect"
	OverflowDisconnect OverflowAction = "disconnect"
)

// Valid reports whether a is a known overflow action
func (a OverflowAction) Valid() bool {
	switch a {
	case OverflowVoicemail, OverflowCallback, OverflowQueue, OverflowRedirect, OverflowDisconnect:
		return true
	}
	return false
}

// TimeWindow limits a rule to a daily window on selected weekdays.
// Start and End are "HH:MM" in Timezone; End before Start spans midnight.
type TimeWindow struct {
	Start    string         `json:"start" yaml:"start"`
	End      string         `json:"end" yaml:"end"`
	Days     []time.Weekday `json:"days" yaml:"days"`
	Timezone string         `json:"timezone,omitempty" yaml:"timezone"`
}

// CallbackConfig annotates a rule with a callback offer after a wait threshold
type CallbackConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	ThresholdSeconds int  `json:"thresholdSeconds" yaml:"threshold_seconds"`
}

// RuleConditions is the closed set of conditions a routing rule may carry.
// Every populated field must hold for the rule to match.
type RuleConditions struct {
	BusinessHoursOnly      bool            `json:"businessHoursOnly,omitempty"`
	CustomerTier           string          `json:"customerTier,omitempty"`
	TimeWindow             *TimeWindow     `json:"timeWindow,omitempty"`
	Callback               *CallbackConfig `json:"callback,omitempty"`
	BackupQueue            string          `json:"backupQueue,omitempty"`
	AgentSelectionCriteria string          `json:"agentSelectionCriteria,omitempty"`
}

// RoutingRule decides which queue and strategy an interaction gets
type RoutingRule struct {
	ID                       string          `json:"id"`
	Name                     string          `json:"name"`
	ChannelType              *ChannelType    `json:"channelType,omitempty"` // nil matches every channel
	Strategy                 RoutingStrategy `json:"routingStrategy"`
	Priority                 int             `json:"priority"` // 1-10
	TargetQueue              string          `json:"targetQueue,omitempty"`
	TargetSkill              string          `json:"targetSkill,omitempty"`
	MinSkillLevel            int             `json:"minSkillLevel,omitempty"`
	OverflowAction           OverflowAction  `json:"overflowAction"`
	OverflowThresholdSeconds int             `json:"overflowThresholdSeconds"`
	Conditions               RuleConditions  `json:"conditions"`
	IsActive                 bool            `json:"isActive"`
	CreatedSeq               int             `json:"createdSeq"` // creation order, breaks priority ties
}

// MatchesChannel reports whether the rule applies to channel c
func (r *RoutingRule) MatchesChannel(c ChannelType) bool {
	return r.ChannelType == nil || *r.ChannelType == c
}

// PriorityCondition is the single condition a PriorityRule carries.
// The set of implementations is closed.
type PriorityCondition interface {
	Kind() string
	isPriorityCondition()
}

// CustomerTier matches customers of exactly this tier
type CustomerTier struct{ Tier string }

// WaitTimeAbove matches items that waited at least Minutes
type WaitTimeAbove struct{ Minutes float64 }

// LifetimeValueAbove matches customers whose lifetime value is at least Amount
type LifetimeValueAbove struct{ Amount float64 }

// InteractionCountAbove matches customers with at least Count prior interactions
type InteractionCountAbove struct{ Count int }

func (CustomerTier) Kind() string          { return "customer_tier" }
func (WaitTimeAbove) Kind() string         { return "wait_time_above" }
func (LifetimeValueAbove) Kind() string    { return "lifetime_value_above" }
func (InteractionCountAbove) Kind() string { return "interaction_count_above" }

func (CustomerTier) isPriorityCondition()          {}
func (WaitTimeAbove) isPriorityCondition()         {}
func (LifetimeValueAbove) isPriorityCondition()    {}
func (InteractionCountAbove) isPriorityCondition() {}

// ConditionSpec is the wire form of a PriorityCondition
type ConditionSpec struct {
	Type    string  `json:"type" yaml:"type"`
	Tier    string  `json:"tier,omitempty" yaml:"tier,omitempty"`
	Minutes float64 `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	Amount  float64 `json:"amount,omitempty" yaml:"amount,omitempty"`
	Count   int     `json:"count,omitempty" yaml:"count,omitempty"`
}

// Condition converts the wire form into its variant, rejecting unknown or empty shapes
func (s ConditionSpec) Condition() (PriorityCondition, error) {
	switch s.Type {
	case "customer_tier":
		if s.Tier == "" {
			return nil, fmt.Errorf("customer_tier condition requires tier")
		}
		return CustomerTier{Tier: s.Tier}, nil
	case "wait_time_above":
		if s.Minutes < 0 {
			return nil, fmt.Errorf("wait_time_above minutes must not be negative")
		}
		return WaitTimeAbove{Minutes: s.Minutes}, nil
	case "lifetime_value_above":
		if s.Amount < 0 {
			return nil, fmt.Errorf("lifetime_value_above amount must not be negative")
		}
		return LifetimeValueAbove{Amount: s.Amount}, nil
	case "interaction_count_above":
		if s.Count < 0 {
			return nil, fmt.Errorf("interaction_count_above count must not be negative")
		}
		return InteractionCountAbove{Count: s.Count}, nil
	case "":
		return nil, fmt.Errorf("condition type is required")
	default:
		return nil, fmt.Errorf("unknown condition type %q", s.Type)
	}
}

// SpecOf returns the wire form of c
func SpecOf(c PriorityCondition) ConditionSpec {
	switch v := c.(type) {
	case CustomerTier:
		return ConditionSpec{Type: v.Kind(), Tier: v.Tier}
	case WaitTimeAbove:
		return ConditionSpec{Type: v.Kind(), Minutes: v.Minutes}
	case LifetimeValueAbove:
		return ConditionSpec{Type: v.Kind(), Amount: v.Amount}
	case InteractionCountAbove:
		return ConditionSpec{Type: v.Kind(), Count: v.Count}
	}
	return ConditionSpec{}
}

// PriorityRule boosts the effective priority of queued items meeting its condition
type PriorityRule struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	PriorityLevel   int               `json:"priorityLevel"`   // 1-10
	BoostPercentage float64           `json:"boostPercentage"` // 0-300
	Condition       PriorityCondition `json:"-"`
	IsActive        bool              `json:"isActive"`
}

type priorityRuleJSON struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	PriorityLevel   int           `json:"priorityLevel"`
	BoostPercentage float64       `json:"boostPercentage"`
	Condition       ConditionSpec `json:"condition"`
	IsActive        bool          `json:"isActive"`
}

// MarshalJSON encodes the condition variant in its wire form
func (r PriorityRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(priorityRuleJSON{
		ID:              r.ID,
		Name:            r.Name,
		PriorityLevel:   r.PriorityLevel,
		BoostPercentage: r.BoostPercentage,
		Condition:       SpecOf(r.Condition),
		IsActive:        r.IsActive,
	})
}

// UnmarshalJSON decodes and validates the condition variant
func (r *PriorityRule) UnmarshalJSON(data []byte) error {
	var raw priorityRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := raw.Condition.Condition()
	if err != nil {
		return fmt.Errorf("priority rule %s: %w", raw.ID, err)
	}
	*r = PriorityRule{
		ID:              raw.ID,
		Name:            raw.Name,
		PriorityLevel:   raw.PriorityLevel,
		BoostPercentage: raw.BoostPercentage,
		Condition:       cond,
		IsActive:        raw.IsActive,
	}
	return nil
}
