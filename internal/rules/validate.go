package rules

import (
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// ErrInvalidConfig is wrapped by Report.Err when records were quarantined
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultQueueName is used when a ruleset names no default queue
const DefaultQueueName = "default"

// Record kinds used in reports
const (
	KindQueue        = "queue"
	KindSkill        = "agent_skill"
	KindRoutingRule  = "routing_rule"
	KindPriorityRule = "priority_rule"
	KindMenu         = "ivr_menu"
	KindCampaign     = "campaign"
	KindCallListItem = "call_list_item"
	KindCustomer     = "customer"
)

// Issue describes one problem found while loading
type Issue struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %q: %s", i.Kind, i.ID, i.Reason)
}

// Report lists quarantined records and non-fatal warnings
type Report struct {
	Quarantined []Issue `json:"quarantined"`
	Warnings    []Issue `json:"warnings"`
}

func (r *Report) quarantine(kind, id, reason string) {
	r.Quarantined = append(r.Quarantined, Issue{Kind: kind, ID: id, Reason: reason})
}

func (r *Report) warn(kind, id, reason string) {
	r.Warnings = append(r.Warnings, Issue{Kind: kind, ID: id, Reason: reason})
}

func (r *Report) merge(o *Report) {
	r.Quarantined = append(r.Quarantined, o.Quarantined...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// Err returns an error wrapping ErrInvalidConfig if anything was quarantined
func (r *Report) Err() error {
	if r == nil || len(r.Quarantined) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d record(s) quarantined, first: %s", ErrInvalidConfig, len(r.Quarantined), r.Quarantined[0])
}

// Validate checks every record of set and returns a copy holding only the
// valid ones. Evaluation code never sees a half-valid record.
func Validate(set *Set) (*Set, *Report) {
	report := &Report{}
	out := &Set{DefaultQueue: set.DefaultQueue}
	if out.DefaultQueue == "" {
		out.DefaultQueue = DefaultQueueName
	}

	queues := make(map[string]bool)
	for _, q := range set.Queues {
		switch {
		case q.Name == "":
			report.quarantine(KindQueue, "", "name is required")
			continue
		case queues[q.Name]:
			report.quarantine(KindQueue, q.Name, "duplicate queue")
			continue
		case q.SLTarget < 0 || q.SLTarget > 100:
			report.quarantine(KindQueue, q.Name, fmt.Sprintf("sl_target must be between 0 and 100, got %d", q.SLTarget))
			continue
		}
		def := types.DefaultQueueConfig(q.Name)
		if q.SLTarget == 0 {
			q.SLTarget = def.SLTarget
		}
		if q.SLSeconds <= 0 {
			q.SLSeconds = def.SLSeconds
		}
		queues[q.Name] = true
		out.Queues = append(out.Queues, q)
	}
	if !queues[out.DefaultQueue] {
		queues[out.DefaultQueue] = true
		out.Queues = append(out.Queues, types.DefaultQueueConfig(out.DefaultQueue))
	}

	skillNames := make(map[string]bool)
	for _, s := range set.Skills {
		id := s.AgentID + "/" + s.SkillName
		switch {
		case s.AgentID == "" || s.SkillName == "":
			report.quarantine(KindSkill, id, "agent_id and skill_name are required")
			continue
		case s.ProficiencyLevel < 1 || s.ProficiencyLevel > 10:
			report.quarantine(KindSkill, id, fmt.Sprintf("proficiency_level must be between 1 and 10, got %d", s.ProficiencyLevel))
			continue
		}
		skillNames[s.SkillName] = true
		out.Skills = append(out.Skills, s)
	}

	ruleIDs := make(map[string]bool)
	for _, r := range set.RoutingRules {
		if err := validateRoutingRule(r, queues, skillNames, ruleIDs); err != nil {
			report.quarantine(KindRoutingRule, r.ID, err.Error())
			continue
		}
		ruleIDs[r.ID] = true
		if b := r.Conditions.BackupQueue; b != "" && r.OverflowAction == types.OverflowQueue && !queues[b] {
			report.warn(KindRoutingRule, r.ID, fmt.Sprintf("backup_queue %q is not in the catalog, overflow will fall back to voicemail", b))
		}
		if r.OverflowAction == types.OverflowQueue && r.Conditions.BackupQueue == "" {
			report.warn(KindRoutingRule, r.ID, "overflow_action queue without backup_queue, overflow will fall back to voicemail")
		}
		out.RoutingRules = append(out.RoutingRules, r)
	}

	prioIDs := make(map[string]bool)
	for _, p := range set.PriorityRules {
		var err error
		switch {
		case p.ID == "":
			err = fmt.Errorf("id is required")
		case prioIDs[p.ID]:
			err = fmt.Errorf("duplicate id")
		case p.PriorityLevel < 1 || p.PriorityLevel > 10:
			err = fmt.Errorf("priority_level must be between 1 and 10, got %d", p.PriorityLevel)
		case p.BoostPercentage < 0 || p.BoostPercentage > 300:
			err = fmt.Errorf("boost_percentage must be between 0 and 300, got %g", p.BoostPercentage)
		case p.Condition == nil:
			err = fmt.Errorf("condition is required")
		}
		if err != nil {
			report.quarantine(KindPriorityRule, p.ID, err.Error())
			continue
		}
		prioIDs[p.ID] = true
		out.PriorityRules = append(out.PriorityRules, p)
	}

	menuIDs := make(map[string]bool, len(set.Menus))
	for _, m := range set.Menus {
		menuIDs[m.ID] = true
	}
	seenMenus := make(map[string]bool)
	for _, m := range set.Menus {
		if seenMenus[m.ID] {
			report.quarantine(KindMenu, m.ID, "duplicate id")
			continue
		}
		seenMenus[m.ID] = true
		fixed, err := validateMenu(m, queues, menuIDs)
		if err != nil {
			report.quarantine(KindMenu, m.ID, err.Error())
			continue
		}
		out.Menus = append(out.Menus, fixed)
	}

	campaigns := make(map[string]bool)
	for _, c := range set.Campaigns {
		if campaigns[c.ID] {
			report.quarantine(KindCampaign, c.ID, "duplicate id")
			continue
		}
		fixed, err := validateCampaign(c)
		if err != nil {
			report.quarantine(KindCampaign, c.ID, err.Error())
			continue
		}
		campaigns[c.ID] = true
		out.Campaigns = append(out.Campaigns, fixed)
	}

	items := make(map[string]bool)
	for _, it := range set.CallList {
		var err error
		switch {
		case it.ID == "":
			err = fmt.Errorf("id is required")
		case items[it.ID]:
			err = fmt.Errorf("duplicate id")
		case !campaigns[it.CampaignID]:
			err = fmt.Errorf("campaign %q does not exist", it.CampaignID)
		case it.PhoneNumber == "":
			err = fmt.Errorf("phone_number is required")
		case it.Attempts < 0:
			err = fmt.Errorf("attempts must not be negative")
		}
		if err != nil {
			report.quarantine(KindCallListItem, it.ID, err.Error())
			continue
		}
		if it.Status == "" {
			it.Status = types.CallPending
		}
		items[it.ID] = true
		out.CallList = append(out.CallList, it)
	}

	for _, c := range set.Customers {
		if c.CustomerID == "" {
			report.quarantine(KindCustomer, "", "customer_id is required")
			continue
		}
		out.Customers = append(out.Customers, c)
	}

	return out, report
}

func validateRoutingRule(r types.RoutingRule, queues, skills, seen map[string]bool) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("id is required")
	case seen[r.ID]:
		return fmt.Errorf("duplicate id")
	case r.Priority < 1 || r.Priority > 10:
		return fmt.Errorf("priority must be between 1 and 10, got %d", r.Priority)
	case !r.Strategy.Valid():
		return fmt.Errorf("unknown routing_strategy %q", r.Strategy)
	case !r.OverflowAction.Valid():
		return fmt.Errorf("unknown overflow_action %q", r.OverflowAction)
	case r.OverflowThresholdSeconds < 0:
		return fmt.Errorf("overflow_threshold_seconds must not be negative")
	case r.TargetQueue != "" && !queues[r.TargetQueue]:
		return fmt.Errorf("target_queue %q does not exist", r.TargetQueue)
	case r.TargetSkill != "" && !skills[r.TargetSkill]:
		return fmt.Errorf("target_skill %q does not exist", r.TargetSkill)
	case r.MinSkillLevel < 0 || r.MinSkillLevel > 10:
		return fmt.Errorf("min_skill_level must be between 0 and 10, got %d", r.MinSkillLevel)
	case r.MinSkillLevel > 0 && r.TargetSkill == "":
		return fmt.Errorf("min_skill_level requires target_skill")
	case r.Strategy == types.StrategySkillsBased && r.TargetSkill == "":
		return fmt.Errorf("skills_based strategy requires target_skill")
	case r.OverflowAction == types.OverflowRedirect && r.Conditions.BackupQueue == "":
		return fmt.Errorf("redirect overflow requires backup_queue as the external target")
	}

	if cb := r.Conditions.Callback; cb != nil && cb.ThresholdSeconds < 0 {
		return fmt.Errorf("callback threshold_seconds must not be negative")
	}
	if tw := r.Conditions.TimeWindow; tw != nil {
		if _, err := clock.ParseHHMM(tw.Start); err != nil {
			return fmt.Errorf("time_window start: %w", err)
		}
		if _, err := clock.ParseHHMM(tw.End); err != nil {
			return fmt.Errorf("time_window end: %w", err)
		}
		if _, err := clock.LoadLocation(tw.Timezone); err != nil {
			return fmt.Errorf("time_window: %w", err)
		}
		for _, d := range tw.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("time_window day %d out of range", d)
			}
		}
	}
	return nil
}

func validateMenu(m types.IVRMenu, queues, menus map[string]bool) (types.IVRMenu, error) {
	if m.ID == "" {
		return m, fmt.Errorf("id is required")
	}
	if m.TimeoutSeconds <= 0 {
		return m, fmt.Errorf("timeout_seconds must be positive")
	}
	if m.MaxRetries < 0 {
		return m, fmt.Errorf("max_retries must not be negative")
	}

	keys := make(map[string]bool, len(m.Options))
	for _, o := range m.Options {
		if o.OptionKey == "" {
			return m, fmt.Errorf("option without option_key")
		}
		if keys[o.OptionKey] {
			return m, fmt.Errorf("duplicate option_key %q", o.OptionKey)
		}
		keys[o.OptionKey] = true
		if err := validateAction(o.ActionType, o.ActionTarget, queues, menus); err != nil {
			return m, fmt.Errorf("option %q: %w", o.OptionKey, err)
		}
	}

	if m.Fallback.ActionType == "" {
		m.Fallback.ActionType = types.ActionVoicemail
	}
	if m.Fallback.ActionType == types.ActionSubmenu || m.Fallback.ActionType == types.ActionAIIntent {
		return m, fmt.Errorf("fallback must be a terminal action, got %q", m.Fallback.ActionType)
	}
	if err := validateAction(m.Fallback.ActionType, m.Fallback.Target, queues, menus); err != nil {
		return m, fmt.Errorf("fallback: %w", err)
	}
	return m, nil
}

func validateAction(a types.IVRActionType, target string, queues, menus map[string]bool) error {
	if !a.Valid() {
		return fmt.Errorf("unknown action_type %q", a)
	}
	switch a {
	case types.ActionTransferQueue, types.ActionAIIntent:
		if target != "" && !queues[target] {
			return fmt.Errorf("queue %q does not exist", target)
		}
	case types.ActionTransferAgent:
		if target == "" {
			return fmt.Errorf("transfer_agent requires an agent id")
		}
	case types.ActionSubmenu:
		if !menus[target] {
			return fmt.Errorf("submenu %q does not exist", target)
		}
	}
	return nil
}

func validateCampaign(c types.DialerCampaign) (types.DialerCampaign, error) {
	if c.ID == "" {
		return c, fmt.Errorf("id is required")
	}
	if !c.DialerType.Valid() {
		return c, fmt.Errorf("unknown dialer_type %q", c.DialerType)
	}
	if c.Status == "" {
		c.Status = types.CampaignDraft
	}
	switch c.Status {
	case types.CampaignDraft, types.CampaignActive, types.CampaignPaused, types.CampaignCompleted:
	default:
		return c, fmt.Errorf("unknown status %q", c.Status)
	}
	if c.MaxCallAttempts < 1 {
		return c, fmt.Errorf("max_call_attempts must be at least 1")
	}
	if c.RetryDelayMinutes < 0 {
		return c, fmt.Errorf("retry_delay_minutes must not be negative")
	}
	if _, err := clock.ParseHHMM(c.CallingHoursStart); err != nil {
		return c, fmt.Errorf("calling_hours_start: %w", err)
	}
	if _, err := clock.ParseHHMM(c.CallingHoursEnd); err != nil {
		return c, fmt.Errorf("calling_hours_end: %w", err)
	}
	if _, err := clock.LoadLocation(c.Timezone); err != nil {
		return c, err
	}
	if c.MaxAbandonRate < 0 || c.MaxAbandonRate >= 1 {
		return c, fmt.Errorf("max_abandon_rate must be in [0, 1)")
	}
	if c.MaxLines < 0 {
		return c, fmt.Errorf("max_lines must not be negative")
	}
	if c.ScheduledStart != nil && c.ScheduledEnd != nil && !c.ScheduledEnd.After(*c.ScheduledStart) {
		return c, fmt.Errorf("scheduled_end must be after scheduled_start")
	}
	return c, nil
}
