// Package rules holds the validated routing configuration: routing rules,
// priority rules, agent skills, the queue catalog and IVR menus.
package rules

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Set is one complete, validated configuration
type Set struct {
	DefaultQueue  string
	Queues        []types.QueueConfig
	Skills        []types.AgentSkill
	RoutingRules  []types.RoutingRule
	PriorityRules []types.PriorityRule
	Menus         []types.IVRMenu
	Campaigns     []types.DialerCampaign
	CallList      []types.CallListItem
	Customers     []types.CustomerContext
}

// Store is the thread-safe holder of the active configuration.
// Readers always receive copies.
type Store struct {
	mu           sync.RWMutex
	defaultQueue string
	queues       map[string]types.QueueConfig
	queueOrder   []string
	skills       map[string][]types.AgentSkill // by agent
	routing      []types.RoutingRule           // sorted by priority desc, CreatedSeq asc
	priority     []types.PriorityRule
	menus        map[string]types.IVRMenu
	logger       zerolog.Logger
}

// NewStore creates an empty Store holding only the default queue
func NewStore(logger zerolog.Logger) *Store {
	s := &Store{logger: logger.With().Str("component", "rules").Logger()}
	s.Replace(&Set{})
	return s
}

// Replace swaps in a new configuration. set is expected to be validated.
func (s *Store) Replace(set *Set) {
	def := set.DefaultQueue
	if def == "" {
		def = DefaultQueueName
	}

	queues := make(map[string]types.QueueConfig, len(set.Queues)+1)
	order := make([]string, 0, len(set.Queues)+1)
	for _, q := range set.Queues {
		if _, dup := queues[q.Name]; dup {
			continue
		}
		queues[q.Name] = q
		order = append(order, q.Name)
	}
	if _, ok := queues[def]; !ok {
		queues[def] = types.DefaultQueueConfig(def)
		order = append(order, def)
	}
	sort.Strings(order)

	skills := make(map[string][]types.AgentSkill)
	for _, sk := range set.Skills {
		skills[sk.AgentID] = append(skills[sk.AgentID], sk)
	}

	routing := append([]types.RoutingRule(nil), set.RoutingRules...)
	SortRoutingRules(routing)

	menus := make(map[string]types.IVRMenu, len(set.Menus))
	for _, m := range set.Menus {
		menus[m.ID] = m
	}

	s.mu.Lock()
	s.defaultQueue = def
	s.queues = queues
	s.queueOrder = order
	s.skills = skills
	s.routing = routing
	s.priority = append([]types.PriorityRule(nil), set.PriorityRules...)
	s.menus = menus
	s.mu.Unlock()

	s.logger.Info().
		Int("routing_rules", len(routing)).
		Int("priority_rules", len(set.PriorityRules)).
		Int("queues", len(order)).
		Int("menus", len(menus)).
		Msg("ruleset loaded")
}

// SortRoutingRules orders rules by priority (highest first), then by
// creation order. The sort is stable so equal keys keep their input order.
func SortRoutingRules(rules []types.RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedSeq < rules[j].CreatedSeq
	})
}

// RoutingRules returns all routing rules in evaluation order
func (s *Store) RoutingRules() []types.RoutingRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.RoutingRule(nil), s.routing...)
}

// PriorityRules returns the active priority rules
func (s *Store) PriorityRules() []types.PriorityRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PriorityRule, 0, len(s.priority))
	for _, p := range s.priority {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

// DefaultQueue returns the queue unrouted interactions go to
func (s *Store) DefaultQueue() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultQueue
}

// Queue returns the catalog entry for name
func (s *Store) Queue(name string) (types.QueueConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	return q, ok
}

// Queues returns the catalog sorted by name
func (s *Store) Queues() []types.QueueConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.QueueConfig, 0, len(s.queueOrder))
	for _, name := range s.queueOrder {
		out = append(out, s.queues[name])
	}
	return out
}

// SkillsFor returns the configured skills of an agent
func (s *Store) SkillsFor(agentID string) []types.AgentSkill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.AgentSkill(nil), s.skills[agentID]...)
}

// Menu returns an IVR menu by id
func (s *Store) Menu(id string) (types.IVRMenu, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.menus[id]
	return m, ok
}

// RoutingRule returns a routing rule by id
func (s *Store) RoutingRule(id string) (types.RoutingRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.routing {
		if r.ID == id {
			return r, true
		}
	}
	return types.RoutingRule{}, false
}
