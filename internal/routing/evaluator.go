// Package routing picks the winning routing rule for an interaction, selects
// an agent with the rule's strategy and decides overflow.
package routing

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/condition"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// RuleSource is the read side of the rule store used for routing
type RuleSource interface {
	RoutingRules() []types.RoutingRule
	DefaultQueue() string
	Queue(name string) (types.QueueConfig, bool)
}

// AgentSource is the read side of the agent pool used for routing
type AgentSource interface {
	Eligible(token string) []types.AgentInfo
	LoggedIn() []types.AgentInfo
}

// Decision is the result of routing one interaction
type Decision struct {
	Rule     *types.RoutingRule // nil when no rule matched
	Queue    string
	Strategy types.RoutingStrategy
	Unrouted bool
	Callback *types.CallbackConfig
	Agent    *types.AgentInfo // free qualified agent, nil if none right now
	Overflow *OverflowDecision
}

// Evaluator routes interactions. It keeps one round-robin pointer per queue.
type Evaluator struct {
	rules      RuleSource
	agents     AgentSource
	conditions *condition.Evaluator
	logger     zerolog.Logger

	mu       sync.Mutex
	rrCursor map[string]string // queue -> last agent handed work by round robin
}

// NewEvaluator creates a routing Evaluator
func NewEvaluator(rules RuleSource, agents AgentSource, conditions *condition.Evaluator, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		rules:      rules,
		agents:     agents,
		conditions: conditions,
		logger:     logger.With().Str("component", "routing").Logger(),
		rrCursor:   make(map[string]string),
	}
}

// SelectRule returns the highest priority active rule whose channel and
// conditions match. Equal priorities resolve to the earliest created rule.
func (e *Evaluator) SelectRule(in *types.Interaction, customer *types.CustomerContext) (*types.RoutingRule, condition.Result, bool) {
	ctx := condition.Context{Channel: in.Channel, Customer: customer}

	// rules arrive sorted by priority desc, CreatedSeq asc
	for _, r := range e.rules.RoutingRules() {
		if !r.IsActive || !r.MatchesChannel(in.Channel) {
			continue
		}
		res := e.conditions.Evaluate(r.Conditions, ctx)
		if !res.Matched {
			e.logger.Debug().
				Str("interaction_id", in.ID).
				Str("rule_id", r.ID).
				Strs("failed", res.Failed).
				Msg("rule conditions not met")
			continue
		}
		rule := r
		return &rule, res, true
	}
	return nil, condition.Result{}, false
}

// Route evaluates rules, picks a queue and tries to find a free agent. When
// no qualified agent is logged in at all the overflow decision is set.
func (e *Evaluator) Route(in *types.Interaction, customer *types.CustomerContext) Decision {
	rule, res, ok := e.SelectRule(in, customer)

	var d Decision
	if !ok {
		d.Strategy = types.StrategyLongestIdle
		if q := in.RequestedQueue; q != "" && e.queueExists(q) {
			d.Queue = q
		} else {
			d.Queue = e.rules.DefaultQueue()
			d.Unrouted = true
		}
		e.logger.Info().
			Str("interaction_id", in.ID).
			Str("queue", d.Queue).
			Bool("unrouted", d.Unrouted).
			Msg("no routing rule matched")
	} else {
		d.Rule = rule
		d.Strategy = rule.Strategy
		d.Callback = res.Callback
		switch {
		case rule.TargetQueue != "":
			d.Queue = rule.TargetQueue
		case in.RequestedQueue != "" && e.queueExists(in.RequestedQueue):
			d.Queue = in.RequestedQueue
		default:
			d.Queue = e.rules.DefaultQueue()
		}
	}

	item := &types.QueueItem{ID: in.ID, QueueName: d.Queue, RequestedAgent: in.RequestedAgent, Strategy: d.Strategy}
	if agent := e.SelectAgent(item, d.Rule, e.agents.Eligible(in.ID)); agent != nil {
		d.Agent = agent
		return d
	}

	if d.Rule != nil && len(Qualified(e.agents.LoggedIn(), item, d.Rule)) == 0 {
		od := e.Overflow(d.Rule, d.Queue)
		d.Overflow = &od
	}
	return d
}

// NoteAssigned advances the round-robin pointer after a successful assignment
func (e *Evaluator) NoteAssigned(queue, agentID string) {
	e.mu.Lock()
	e.rrCursor[queue] = agentID
	e.mu.Unlock()
}

func (e *Evaluator) queueExists(name string) bool {
	_, ok := e.rules.Queue(name)
	return ok
}
