package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// fileSet is the on-disk shape of a ruleset. Unknown keys land in Extra
// maps so that validation can quarantine records with unexpected shapes.
type fileSet struct {
	DefaultQueue  string                  `yaml:"default_queue"`
	Queues        []types.QueueConfig     `yaml:"queues"`
	Skills        []types.AgentSkill      `yaml:"skills"`
	RoutingRules  []fileRoutingRule       `yaml:"routing_rules"`
	PriorityRules []filePriorityRule      `yaml:"priority_rules"`
	Menus         []types.IVRMenu         `yaml:"ivr_menus"`
	Campaigns     []types.DialerCampaign  `yaml:"campaigns"`
	CallList      []types.CallListItem    `yaml:"call_list"`
	Customers     []types.CustomerContext `yaml:"customers"`
}

type fileRoutingRule struct {
	ID                       string         `yaml:"id"`
	Name                     string         `yaml:"name"`
	ChannelType              string         `yaml:"channel_type"`
	Strategy                 string         `yaml:"routing_strategy"`
	Priority                 int            `yaml:"priority"`
	TargetQueue              string         `yaml:"target_queue"`
	TargetSkill              string         `yaml:"target_skill"`
	MinSkillLevel            int            `yaml:"min_skill_level"`
	OverflowAction           string         `yaml:"overflow_action"`
	OverflowThresholdSeconds int            `yaml:"overflow_threshold_seconds"`
	Conditions               fileConditions `yaml:"conditions"`
	IsActive                 *bool          `yaml:"is_active"`
	Extra                    map[string]any `yaml:",inline"`
}

type fileConditions struct {
	BusinessHoursOnly      bool                  `yaml:"business_hours_only"`
	CustomerTier           string                `yaml:"customer_tier"`
	TimeWindow             *fileTimeWindow       `yaml:"time_window"`
	Callback               *types.CallbackConfig `yaml:"callback"`
	BackupQueue            string                `yaml:"backup_queue"`
	AgentSelectionCriteria string                `yaml:"agent_selection_criteria"`
	Extra                  map[string]any        `yaml:",inline"`
}

type fileTimeWindow struct {
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	Days     []string `yaml:"days"`
	Timezone string   `yaml:"timezone"`
}

type filePriorityRule struct {
	ID              string              `yaml:"id"`
	Name            string              `yaml:"name"`
	PriorityLevel   int                 `yaml:"priority_level"`
	BoostPercentage float64             `yaml:"boost_percentage"`
	Condition       types.ConditionSpec `yaml:"condition"`
	IsActive        *bool               `yaml:"is_active"`
	Extra           map[string]any      `yaml:",inline"`
}

// LoadFile reads and validates a YAML ruleset. A parse error fails the whole
// load; invalid records are quarantined and listed in the report.
func LoadFile(path string) (*Set, *Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading ruleset: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML ruleset and validates it
func Parse(data []byte) (*Set, *Report, error) {
	var fs fileSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, nil, fmt.Errorf("parsing ruleset: %w", err)
	}

	report := &Report{}
	set := &Set{
		DefaultQueue: fs.DefaultQueue,
		Queues:       fs.Queues,
		Skills:       fs.Skills,
		Menus:        fs.Menus,
		Campaigns:    fs.Campaigns,
		CallList:     fs.CallList,
		Customers:    fs.Customers,
	}

	for i, fr := range fs.RoutingRules {
		r, err := fr.convert(i + 1)
		if err != nil {
			report.quarantine(KindRoutingRule, fr.ID, err.Error())
			continue
		}
		set.RoutingRules = append(set.RoutingRules, r)
	}

	for _, fp := range fs.PriorityRules {
		p, err := fp.convert()
		if err != nil {
			report.quarantine(KindPriorityRule, fp.ID, err.Error())
			continue
		}
		set.PriorityRules = append(set.PriorityRules, p)
	}

	validated, vr := Validate(set)
	report.merge(vr)
	return validated, report, nil
}

func (fr fileRoutingRule) convert(seq int) (types.RoutingRule, error) {
	if len(fr.Extra) > 0 {
		return types.RoutingRule{}, fmt.Errorf("unknown fields: %s", keys(fr.Extra))
	}
	if len(fr.Conditions.Extra) > 0 {
		return types.RoutingRule{}, fmt.Errorf("unknown condition fields: %s", keys(fr.Conditions.Extra))
	}

	r := types.RoutingRule{
		ID:                       fr.ID,
		Name:                     fr.Name,
		Strategy:                 types.RoutingStrategy(fr.Strategy),
		Priority:                 fr.Priority,
		TargetQueue:              fr.TargetQueue,
		TargetSkill:              fr.TargetSkill,
		MinSkillLevel:            fr.MinSkillLevel,
		OverflowAction:           types.OverflowAction(fr.OverflowAction),
		OverflowThresholdSeconds: fr.OverflowThresholdSeconds,
		IsActive:                 fr.IsActive == nil || *fr.IsActive,
		CreatedSeq:               seq,
		Conditions: types.RuleConditions{
			BusinessHoursOnly:      fr.Conditions.BusinessHoursOnly,
			CustomerTier:           fr.Conditions.CustomerTier,
			Callback:               fr.Conditions.Callback,
			BackupQueue:            fr.Conditions.BackupQueue,
			AgentSelectionCriteria: fr.Conditions.AgentSelectionCriteria,
		},
	}

	if fr.ChannelType != "" && fr.ChannelType != "all" {
		ch := types.ChannelType(fr.ChannelType)
		if !ch.Valid() {
			return types.RoutingRule{}, fmt.Errorf("unknown channel_type %q", fr.ChannelType)
		}
		r.ChannelType = &ch
	}

	if tw := fr.Conditions.TimeWindow; tw != nil {
		days, err := parseDays(tw.Days)
		if err != nil {
			return types.RoutingRule{}, err
		}
		r.Conditions.TimeWindow = &types.TimeWindow{
			Start:    tw.Start,
			End:      tw.End,
			Days:     days,
			Timezone: tw.Timezone,
		}
	}
	return r, nil
}

func (fp filePriorityRule) convert() (types.PriorityRule, error) {
	if len(fp.Extra) > 0 {
		return types.PriorityRule{}, fmt.Errorf("unknown fields: %s", keys(fp.Extra))
	}
	cond, err := fp.Condition.Condition()
	if err != nil {
		return types.PriorityRule{}, err
	}
	return types.PriorityRule{
		ID:              fp.ID,
		Name:            fp.Name,
		PriorityLevel:   fp.PriorityLevel,
		BoostPercentage: fp.BoostPercentage,
		Condition:       cond,
		IsActive:        fp.IsActive == nil || *fp.IsActive,
	}, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseDays(in []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(in))
	for _, d := range in {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		out = append(out, wd)
	}
	return out, nil
}

func keys(m map[string]any) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
