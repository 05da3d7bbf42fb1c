package callqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/priority"
	"github.com/dennisdiepolder/monti/contactcore/internal/routing"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Event kinds emitted by the Manager
const (
	EventEnqueued        = "interaction.enqueued"
	EventAssigned        = "interaction.assigned"
	EventRequeued        = "interaction.requeued"
	EventAbandoned       = "interaction.abandoned"
	EventCompleted       = "interaction.completed"
	EventOverflow        = "interaction.overflow"
	EventCallbackOffered = "interaction.callback_offered"
	EventUnrouted        = "interaction.unrouted"
)

var (
	ErrDuplicate          = errors.New("interaction already queued")
	ErrInvalidInteraction = errors.New("invalid interaction")
)

const (
	maxUnrouted    = 200
	persistTimeout = 5 * time.Second
)

// DefaultFallbackAfter is how long an item without a usable rule threshold
// waits before it is sent to voicemail
const DefaultFallbackAfter = 5 * time.Minute

// RuleSource is the subset of rules.Store needed by the Manager
type RuleSource interface {
	PriorityRules() []types.PriorityRule
	RoutingRule(id string) (types.RoutingRule, bool)
	Queues() []types.QueueConfig
}

// AgentPool is the subset of cache.AgentPool the Manager assigns through
type AgentPool interface {
	Eligible(token string) []types.AgentInfo
	TryAssign(agentID, interactionID string) bool
	Release(agentID, interactionID string, acw bool) bool
}

// CustomerLookup resolves customer context at enqueue time
type CustomerLookup interface {
	GetContext(ctx context.Context, customerID string) (*types.CustomerContext, error)
}

// ItemStore is the subset of storage.Store needed by the Manager
type ItemStore interface {
	UpsertQueueItem(ctx context.Context, item types.QueueItem) error
	DeleteQueueItem(ctx context.Context, id string) error
	LoadQueueItems(ctx context.Context) ([]types.QueueItem, error)
	AppendInteractionRecord(ctx context.Context, rec types.InteractionRecord) error
}

// EventEmitter publishes queue events
type EventEmitter interface {
	Emit(kind string, payload any)
}

// OverflowSink carries out overflow actions that leave the queue
type OverflowSink interface {
	HandleOverflow(item types.QueueItem, d routing.OverflowDecision)
}

// Event is the payload of every queue event
type Event struct {
	InteractionID string               `json:"interactionId"`
	Queue         string               `json:"queue"`
	Channel       types.ChannelType    `json:"channel,omitempty"`
	AgentID       string               `json:"agentId,omitempty"`
	Action        types.OverflowAction `json:"action,omitempty"`
	Target        string               `json:"target,omitempty"`
	Fallback      bool                 `json:"fallback,omitempty"`
	Message       string               `json:"message,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Assignment is an interaction handed to an agent by Dispatch
type Assignment struct {
	Item    types.QueueItem
	AgentID string
}

// EnqueueResult describes where an interaction ended up
type EnqueueResult struct {
	Item     types.QueueItem
	Overflow *routing.OverflowDecision // set when the item overflowed on arrival
}

// Manager owns every queue and performs assignment and overflow.
// Lock order is mu, then queue locks in name order, then the agent pool.
// idxMu, ctxMu and unroutedMu are leaf locks.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*Queue

	idxMu sync.Mutex
	index map[string]string // interactionID -> queue name

	ctxMu     sync.Mutex
	customers map[string]*types.CustomerContext // interactionID -> context captured at enqueue

	unroutedMu sync.Mutex
	unrouted   []types.QueueItem

	rules   RuleSource
	pool    AgentPool
	router  *routing.Evaluator
	booster *priority.Booster
	clock   clock.Clock
	seq     atomic.Uint64
	kick    chan struct{}

	fallbackAfter time.Duration

	lookup CustomerLookup
	store  ItemStore
	events EventEmitter
	sink   OverflowSink
	logger zerolog.Logger
}

// NewManager creates a Manager with one queue per catalog entry
func NewManager(rules RuleSource, pool AgentPool, router *routing.Evaluator, booster *priority.Booster, c clock.Clock, logger zerolog.Logger) *Manager {
	m := &Manager{
		queues:    make(map[string]*Queue),
		index:     make(map[string]string),
		customers: make(map[string]*types.CustomerContext),
		rules:     rules,
		pool:      pool,
		router:    router,
		booster:   booster,
		clock:     c,
		kick:      make(chan struct{}, 1),
		logger:    logger.With().Str("component", "queue_manager").Logger(),

		fallbackAfter: DefaultFallbackAfter,
	}
	for _, cfg := range rules.Queues() {
		m.queues[cfg.Name] = NewQueue(cfg)
	}
	return m
}

// SetStore sets the persistence store for queue items and records
func (m *Manager) SetStore(store ItemStore) {
	m.store = store
}

// SetFallbackAfter sets the voicemail fallback wait for unrouted items and
// items already moved to a backup queue. Zero disables it.
func (m *Manager) SetFallbackAfter(d time.Duration) {
	m.fallbackAfter = d
}

// SetCustomerLookup sets the customer context collaborator
func (m *Manager) SetCustomerLookup(lookup CustomerLookup) {
	m.lookup = lookup
}

// SetEventEmitter sets where queue events go
func (m *Manager) SetEventEmitter(events EventEmitter) {
	m.events = events
}

// SetOverflowSink sets who acts on overflows that leave the queue
func (m *Manager) SetOverflowSink(sink OverflowSink) {
	m.sink = sink
}

// Kicks fires whenever new work may be dispatchable
func (m *Manager) Kicks() <-chan struct{} {
	return m.kick
}

// Kick requests a dispatch pass without waiting for the next tick
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Enqueue routes an interaction and places it in its queue, or applies
// overflow at once when no qualified agent is logged in.
func (m *Manager) Enqueue(ctx context.Context, in types.Interaction) (EnqueueResult, error) {
	if !in.Channel.Valid() {
		return EnqueueResult{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidInteraction, in.Channel)
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if _, ok := m.locate(in.ID); ok {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrDuplicate, in.ID)
	}

	now := m.clock.Now()
	if in.ArrivedAt.IsZero() {
		in.ArrivedAt = now
	}

	customer := m.customerContext(ctx, in.CustomerRef)
	d := m.router.Route(&in, customer)

	item := &types.QueueItem{
		ID:             in.ID,
		Channel:        in.Channel,
		CustomerRef:    in.CustomerRef,
		QueueName:      d.Queue,
		BasePriority:   in.BasePriority,
		EnqueuedAt:     now,
		Strategy:       d.Strategy,
		Unrouted:       d.Unrouted,
		RequestedAgent: in.RequestedAgent,
		Intent:         in.Intent,
		Seq:            m.seq.Add(1),
	}
	if d.Rule != nil {
		item.RuleID = d.Rule.ID
	}
	boost := m.booster.Boost(item, customer, m.rules.PriorityRules(), now)
	item.EffectivePriority = boost.Effective
	item.MatchedBoosts = boost.Matched

	metrics.Get().RecordEnqueue(d.Queue, in.Channel, d.Unrouted)
	if d.Unrouted {
		m.noteUnrouted(item)
	}

	if d.Overflow != nil && d.Overflow.Action != types.OverflowQueue {
		c := m.overflowOnArrival(item, *d.Overflow, now)
		return EnqueueResult{Item: c, Overflow: d.Overflow}, nil
	}

	ev := EventEnqueued
	if d.Overflow != nil {
		item.OverflowedFrom = item.QueueName
		item.QueueName = d.Overflow.Target
		ev = EventOverflow
	}
	if !m.insert(item, customer) {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrDuplicate, in.ID)
	}
	c := cloneItem(item)

	if d.Overflow != nil {
		metrics.Get().RecordOverflow(c.OverflowedFrom, d.Overflow.Action, d.Overflow.Fallback)
		m.emit(ev, Event{InteractionID: c.ID, Queue: c.OverflowedFrom, Channel: c.Channel, Action: d.Overflow.Action, Target: c.QueueName, Timestamp: now})
	} else {
		m.emit(ev, Event{InteractionID: c.ID, Queue: c.QueueName, Channel: c.Channel, Timestamp: now})
	}
	m.Kick()

	m.logger.Debug().
		Str("interaction_id", c.ID).
		Str("queue", c.QueueName).
		Str("rule_id", c.RuleID).
		Float64("effective_priority", c.EffectivePriority).
		Msg("interaction enqueued")

	return EnqueueResult{Item: c, Overflow: d.Overflow}, nil
}

// overflowOnArrival handles an interaction that leaves before ever waiting
func (m *Manager) overflowOnArrival(item *types.QueueItem, od routing.OverflowDecision, now time.Time) types.QueueItem {
	q := m.queueFor(item.QueueName)
	q.mu.Lock()
	q.Overflowed++
	if item.Unrouted {
		q.Unrouted++
	}
	q.mu.Unlock()

	item.Status = types.ItemOverflowed
	item.CompletedAt = &now
	item.OverflowFallback = od.Fallback
	c := cloneItem(item)
	m.finishOverflow(c, od, now)
	return c
}

// Dispatch matches waiting interactions to free agents. Queue heads are
// merged globally: priority_weighted items compete on effective priority,
// others on base priority, then enqueue time. Each assignment is atomic
// under the item's queue lock and the pool's check-and-set.
func (m *Manager) Dispatch() []Assignment {
	now := m.clock.Now()
	var out []Assignment
	for _, c := range m.candidates() {
		eligible := m.pool.Eligible(c.ID)
		if len(eligible) == 0 {
			continue
		}
		var rule *types.RoutingRule
		if c.RuleID != "" {
			if r, ok := m.rules.RoutingRule(c.RuleID); ok {
				rule = &r
			}
		}
		agent := m.router.SelectAgent(&c, rule, eligible)
		if agent == nil {
			continue
		}
		if a, ok := m.assign(c.ID, c.QueueName, agent.AgentID, now); ok {
			m.router.NoteAssigned(c.QueueName, agent.AgentID)
			out = append(out, a)
		}
	}
	return out
}

// candidates returns copies of all waiting items, each queue's order kept
func (m *Manager) candidates() []types.QueueItem {
	var lists [][]types.QueueItem
	for _, q := range m.queueList() {
		q.mu.Lock()
		if len(q.Waiting) > 0 {
			list := make([]types.QueueItem, len(q.Waiting))
			for i, item := range q.Waiting {
				list[i] = cloneItem(item)
			}
			lists = append(lists, list)
		}
		q.mu.Unlock()
	}

	var out []types.QueueItem
	pos := make([]int, len(lists))
	for {
		best := -1
		for i := range lists {
			if pos[i] >= len(lists[i]) {
				continue
			}
			if best < 0 || dispatchBefore(&lists[i][pos[i]], &lists[best][pos[best]]) {
				best = i
			}
		}
		if best < 0 {
			return out
		}
		out = append(out, lists[best][pos[best]])
		pos[best]++
	}
}

func contentionKey(item *types.QueueItem) float64 {
	if item.Strategy == types.StrategyPriorityWeighted {
		return item.EffectivePriority
	}
	return float64(item.BasePriority)
}

func dispatchBefore(a, b *types.QueueItem) bool {
	if ka, kb := contentionKey(a), contentionKey(b); ka != kb {
		return ka > kb
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	if a.QueueName != b.QueueName {
		return a.QueueName < b.QueueName
	}
	return a.Seq < b.Seq
}

func (m *Manager) assign(id, queue, agentID string, now time.Time) (Assignment, bool) {
	q := m.queue(queue)
	if q == nil {
		return Assignment{}, false
	}

	q.mu.Lock()
	if q.Find(id) == nil || !m.pool.TryAssign(agentID, id) {
		q.mu.Unlock()
		return Assignment{}, false
	}
	c := cloneItem(q.Assign(id, agentID, now))
	// written under the lock so a concurrent exit's delete lands after it
	m.persistItem(c)
	q.mu.Unlock()

	metrics.Get().RecordAssign(queue, c.Strategy, c.WaitTime(now))

	m.logger.Debug().
		Str("interaction_id", id).
		Str("agent_id", agentID).
		Str("queue", queue).
		Float64("wait_time", c.WaitTime(now).Seconds()).
		Msg("interaction routed to agent")

	return Assignment{Item: c, AgentID: agentID}, true
}

// Requeue returns an assigned interaction to its queue, keeping its place,
// after the assignment could not be delivered to the agent
func (m *Manager) Requeue(id string) bool {
	name, ok := m.locate(id)
	if !ok {
		return false
	}
	q := m.queue(name)
	if q == nil {
		return false
	}

	q.mu.Lock()
	active, ok := q.Active[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	agentID := active.AssignedAgent
	c := cloneItem(q.Unassign(id))
	m.persistItem(c)
	q.mu.Unlock()

	m.pool.Release(agentID, id, false)
	m.emit(EventRequeued, Event{InteractionID: id, Queue: name, Channel: c.Channel, AgentID: agentID, Timestamp: m.clock.Now()})
	m.logger.Warn().Str("interaction_id", id).Str("agent_id", agentID).Msg("assignment undelivered, requeued")
	return true
}

// Delivered announces an assignment the agent has received. Live calls are
// bridged on this event, so it must not fire for an undelivered assignment.
func (m *Manager) Delivered(a Assignment) {
	m.emit(EventAssigned, Event{
		InteractionID: a.Item.ID,
		Queue:         a.Item.QueueName,
		Channel:       a.Item.Channel,
		AgentID:       a.AgentID,
		Timestamp:     m.clock.Now(),
	})
}

// Abandon removes a waiting interaction the customer left
func (m *Manager) Abandon(id string) (types.QueueItem, bool) {
	now := m.clock.Now()
	for {
		name, ok := m.locate(id)
		if !ok {
			return types.QueueItem{}, false
		}
		q := m.queue(name)
		if q == nil {
			return types.QueueItem{}, false
		}

		q.mu.Lock()
		item := q.Abandon(id, now)
		if item == nil {
			q.mu.Unlock()
			// moved by overflow in between; anything else is not waiting
			if again, ok := m.locate(id); ok && again != name {
				continue
			}
			return types.QueueItem{}, false
		}
		m.dropIndex(id)
		c := cloneItem(item)
		q.mu.Unlock()

		metrics.Get().RecordAbandon(name)
		m.persistExit(c, types.NewInteractionRecord(&c, now))
		m.emit(EventAbandoned, Event{InteractionID: id, Queue: name, Channel: c.Channel, Timestamp: now})
		m.logger.Debug().Str("interaction_id", id).Str("queue", name).Msg("interaction abandoned")
		return c, true
	}
}

// Complete ends an assigned interaction and frees the agent
func (m *Manager) Complete(id string, talkTime float64) (types.QueueItem, bool) {
	return m.complete(id, &talkTime)
}

// ForceEnd completes an assigned interaction on operator request and
// returns the agent that held it
func (m *Manager) ForceEnd(id string) (agentID string, found bool) {
	c, ok := m.complete(id, nil)
	if !ok {
		return "", false
	}
	m.logger.Info().
		Str("interaction_id", id).
		Str("agent_id", c.AssignedAgent).
		Float64("talk_time", c.TalkTime).
		Msg("interaction force-ended")
	return c.AssignedAgent, true
}

// complete uses the elapsed time since assignment when talkTime is nil
func (m *Manager) complete(id string, talkTime *float64) (types.QueueItem, bool) {
	name, ok := m.locate(id)
	if !ok {
		return types.QueueItem{}, false
	}
	q := m.queue(name)
	if q == nil {
		return types.QueueItem{}, false
	}
	now := m.clock.Now()

	q.mu.Lock()
	active, ok := q.Active[id]
	if !ok {
		q.mu.Unlock()
		return types.QueueItem{}, false
	}
	talk := 0.0
	switch {
	case talkTime != nil:
		talk = *talkTime
	case active.AssignedAt != nil:
		talk = now.Sub(*active.AssignedAt).Seconds()
	}
	c := cloneItem(q.Complete(id, talk, now))
	m.dropIndex(id)
	q.mu.Unlock()

	m.pool.Release(c.AssignedAgent, id, false)
	m.persistExit(c, types.NewInteractionRecord(&c, now))
	m.emit(EventCompleted, Event{InteractionID: id, Queue: name, Channel: c.Channel, AgentID: c.AssignedAgent, Timestamp: now})
	m.logger.Debug().
		Str("interaction_id", id).
		Str("agent_id", c.AssignedAgent).
		Float64("talk_time", talk).
		Msg("interaction completed")
	return c, true
}

// EndAgentWork force-ends everything an agent holds, used on logout
func (m *Manager) EndAgentWork(agentID string) []string {
	var ids []string
	for _, q := range m.queueList() {
		q.mu.Lock()
		for id, item := range q.Active {
			if item.AssignedAgent == agentID {
				ids = append(ids, id)
			}
		}
		q.mu.Unlock()
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.complete(id, nil)
	}
	return ids
}

// RecomputePriorities refreshes effective priority of every waiting item.
// Boosts are computed on copies outside the queue locks.
func (m *Manager) RecomputePriorities() {
	now := m.clock.Now()
	rules := m.rules.PriorityRules()

	for _, q := range m.queueList() {
		q.mu.Lock()
		snap := make([]types.QueueItem, len(q.Waiting))
		for i, item := range q.Waiting {
			snap[i] = cloneItem(item)
		}
		q.mu.Unlock()
		if len(snap) == 0 {
			continue
		}

		results := make(map[string]priority.Result, len(snap))
		for i := range snap {
			results[snap[i].ID] = m.booster.Boost(&snap[i], m.customerFor(snap[i].ID), rules, now)
		}

		q.mu.Lock()
		changed := false
		for _, item := range q.Waiting {
			r, ok := results[item.ID]
			if !ok {
				continue
			}
			if r.Effective != item.EffectivePriority {
				item.EffectivePriority = r.Effective
				changed = true
			}
			item.MatchedBoosts = r.Matched
		}
		if changed {
			q.Resort()
		}
		q.mu.Unlock()
	}
}

// CheckOverflow applies threshold overflow to items that waited too long
// and offers callbacks where the winning rule enables them. Items already
// moved by overflow get one more stage: once they have waited twice the
// rule threshold they go to voicemail. Items without a rule go to voicemail
// after the fallback wait. Returns the number overflowed.
func (m *Manager) CheckOverflow() int {
	now := m.clock.Now()

	type due struct {
		id, queue string
		rule      *types.RoutingRule // nil takes the voicemail fallback
	}
	var dues []due
	var offers []types.QueueItem

	for _, q := range m.queueList() {
		q.mu.Lock()
		for _, item := range q.Waiting {
			wait := item.WaitTime(now)
			rule, ok := m.rules.RoutingRule(item.RuleID)
			if item.RuleID == "" || !ok {
				if m.fallbackAfter > 0 && wait >= m.fallbackAfter {
					dues = append(dues, due{id: item.ID, queue: q.Name})
				}
				continue
			}
			if cb := rule.Conditions.Callback; cb != nil && cb.Enabled && !item.CallbackOffered &&
				wait >= seconds(cb.ThresholdSeconds) {
				item.CallbackOffered = true
				c := cloneItem(item)
				m.persistItem(c)
				offers = append(offers, c)
			}
			switch {
			case item.OverflowedFrom == "":
				if rule.OverflowThresholdSeconds > 0 && wait >= seconds(rule.OverflowThresholdSeconds) {
					dues = append(dues, due{id: item.ID, queue: q.Name, rule: &rule})
				}
			case rule.OverflowThresholdSeconds > 0:
				if wait >= 2*seconds(rule.OverflowThresholdSeconds) {
					dues = append(dues, due{id: item.ID, queue: q.Name})
				}
			case m.fallbackAfter > 0 && wait >= m.fallbackAfter:
				dues = append(dues, due{id: item.ID, queue: q.Name})
			}
		}
		q.mu.Unlock()
	}

	for _, c := range offers {
		m.emit(EventCallbackOffered, Event{InteractionID: c.ID, Queue: c.QueueName, Channel: c.Channel, Action: types.OverflowCallback, Timestamp: now})
	}

	moved := 0
	for _, d := range dues {
		od := routing.FallbackDecision()
		if d.rule != nil {
			od = m.router.Overflow(d.rule, d.queue)
		}
		if m.applyOverflow(d.id, d.queue, od, now) {
			moved++
		}
	}
	return moved
}

func (m *Manager) applyOverflow(id, from string, od routing.OverflowDecision, now time.Time) bool {
	if od.Action == types.OverflowQueue {
		return m.move(id, from, od, now)
	}

	q := m.queue(from)
	if q == nil {
		return false
	}
	q.mu.Lock()
	item := q.Overflow(id, now)
	if item == nil {
		q.mu.Unlock()
		return false
	}
	item.OverflowFallback = od.Fallback
	m.dropIndex(id)
	c := cloneItem(item)
	q.mu.Unlock()

	m.finishOverflow(c, od, now)
	return true
}

// move transfers a waiting item to the backup queue, locking both queues
// in name order
func (m *Manager) move(id, from string, od routing.OverflowDecision, now time.Time) bool {
	src, dst := m.queue(from), m.queueFor(od.Target)
	if src == nil || src == dst {
		return false
	}
	first, second := src, dst
	if dst.Name < src.Name {
		first, second = dst, src
	}

	first.mu.Lock()
	second.mu.Lock()
	item := src.Remove(id)
	var c types.QueueItem
	if item != nil {
		src.Overflowed++
		item.OverflowedFrom = from
		dst.Insert(item)
		m.setIndex(id, dst.Name)
		c = cloneItem(item)
		m.persistItem(c)
	}
	second.mu.Unlock()
	first.mu.Unlock()
	if item == nil {
		return false
	}

	metrics.Get().RecordOverflow(from, od.Action, od.Fallback)
	m.emit(EventOverflow, Event{InteractionID: id, Queue: from, Channel: c.Channel, Action: od.Action, Target: dst.Name, Timestamp: now})
	m.logger.Info().Str("interaction_id", id).Str("from", from).Str("to", dst.Name).Msg("interaction overflowed to backup queue")
	m.Kick()
	return true
}

func (m *Manager) finishOverflow(c types.QueueItem, od routing.OverflowDecision, now time.Time) {
	rec := types.NewInteractionRecord(&c, now)
	rec.OverflowAction = od.Action
	m.persistExit(c, rec)

	metrics.Get().RecordOverflow(c.QueueName, od.Action, od.Fallback)
	m.emit(EventOverflow, Event{
		InteractionID: c.ID,
		Queue:         c.QueueName,
		Channel:       c.Channel,
		Action:        od.Action,
		Target:        od.Target,
		Fallback:      od.Fallback,
		Message:       od.Message,
		Timestamp:     now,
	})
	m.logger.Info().
		Str("interaction_id", c.ID).
		Str("queue", c.QueueName).
		Str("action", string(od.Action)).
		Bool("fallback", od.Fallback).
		Msg("interaction overflowed")

	if m.sink != nil {
		m.sink.HandleOverflow(c, od)
	}
}

// GetSnapshot returns the snapshot for a specific queue
func (m *Manager) GetSnapshot(name string) *types.QueueSnapshot {
	q := m.queue(name)
	if q == nil {
		return nil
	}
	available := countServing(m.pool.Eligible(""), name)
	now := m.clock.Now()
	q.mu.Lock()
	s := q.Snapshot(now, available)
	q.mu.Unlock()
	return &s
}

// GetAllSnapshots returns snapshots for all queues ordered by name
func (m *Manager) GetAllSnapshots() []types.QueueSnapshot {
	eligible := m.pool.Eligible("")
	now := m.clock.Now()
	queues := m.queueList()
	out := make([]types.QueueSnapshot, 0, len(queues))
	for _, q := range queues {
		available := countServing(eligible, q.Name)
		q.mu.Lock()
		out = append(out, q.Snapshot(now, available))
		q.mu.Unlock()
	}
	return out
}

// Waiting returns copies of the items waiting in a queue, head first
func (m *Manager) Waiting(name string) []types.QueueItem {
	q := m.queue(name)
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.QueueItem, len(q.Waiting))
	for i, item := range q.Waiting {
		out[i] = cloneItem(item)
	}
	return out
}

// Unrouted returns the most recent interactions that matched no rule
func (m *Manager) Unrouted() []types.QueueItem {
	m.unroutedMu.Lock()
	defer m.unroutedMu.Unlock()
	return append([]types.QueueItem(nil), m.unrouted...)
}

// WipeAll clears all waiting and active interactions from every queue
func (m *Manager) WipeAll() int {
	total := 0
	for _, q := range m.queueList() {
		q.mu.Lock()
		waiting, active := q.Wipe()
		q.mu.Unlock()

		for _, item := range waiting {
			m.forget(item.ID)
		}
		for _, item := range active {
			m.pool.Release(item.AssignedAgent, item.ID, false)
			m.forget(item.ID)
		}
		total += len(waiting) + len(active)
	}

	m.logger.Info().Int("cleared", total).Msg("wiped all interactions from all queues")
	return total
}

// SyncQueues adds queues that appeared in the catalog and refreshes
// service level targets. Queues dropped from the catalog keep their items.
func (m *Manager) SyncQueues() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range m.rules.Queues() {
		if q, ok := m.queues[cfg.Name]; ok {
			q.mu.Lock()
			q.SL.Configure(cfg.SLTarget, cfg.SLSeconds)
			q.mu.Unlock()
			continue
		}
		m.queues[cfg.Name] = NewQueue(cfg)
	}
}

// Restore reloads persisted waiting and assigned items after a restart.
// Assigned items go back to waiting since their agent session is gone.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	items, err := m.store.LoadQueueItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading queue items: %w", err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	restored := 0
	for i := range items {
		item := items[i]
		if item.Status != types.ItemWaiting && item.Status != types.ItemAssigned {
			continue
		}
		item.AssignedAgent = ""
		item.AssignedAt = nil
		if item.Seq > m.seq.Load() {
			m.seq.Store(item.Seq)
		}
		if m.insert(&item, m.customerContext(ctx, item.CustomerRef)) {
			restored++
		}
	}
	m.logger.Info().Int("restored", restored).Msg("queue items restored")
	m.Kick()
	return restored, nil
}

func countServing(agents []types.AgentInfo, queue string) int {
	n := 0
	for i := range agents {
		if agents[i].ServesQueue(queue) {
			n++
		}
	}
	return n
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// insert adds item to its queue unless the ID is already known and
// writes it while the queue lock is held
func (m *Manager) insert(item *types.QueueItem, customer *types.CustomerContext) bool {
	q := m.queueFor(item.QueueName)
	q.mu.Lock()
	if !m.reserveIndex(item.ID, q.Name) {
		q.mu.Unlock()
		return false
	}
	q.Insert(item)
	if item.Unrouted {
		q.Unrouted++
	}
	m.persistItem(cloneItem(item))
	q.mu.Unlock()

	if customer != nil {
		m.ctxMu.Lock()
		m.customers[item.ID] = customer
		m.ctxMu.Unlock()
	}
	return true
}

func (m *Manager) queue(name string) *Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queues[name]
}

// queueFor returns the named queue, creating it with default SL settings
func (m *Manager) queueFor(name string) *Queue {
	if q := m.queue(name); q != nil {
		return q
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	m.logger.Warn().Str("queue", name).Msg("queue not in catalog, created with defaults")
	q := NewQueue(types.DefaultQueueConfig(name))
	m.queues[name] = q
	return q
}

func (m *Manager) queueList() []*Queue {
	m.mu.RLock()
	out := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) locate(id string) (string, bool) {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	name, ok := m.index[id]
	return name, ok
}

func (m *Manager) reserveIndex(id, queue string) bool {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	if _, ok := m.index[id]; ok {
		return false
	}
	m.index[id] = queue
	return true
}

func (m *Manager) setIndex(id, queue string) {
	m.idxMu.Lock()
	m.index[id] = queue
	m.idxMu.Unlock()
}

func (m *Manager) dropIndex(id string) {
	m.idxMu.Lock()
	delete(m.index, id)
	m.idxMu.Unlock()
}

func (m *Manager) forget(id string) {
	m.dropIndex(id)
	m.ctxMu.Lock()
	delete(m.customers, id)
	m.ctxMu.Unlock()
	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.store.DeleteQueueItem(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("interaction_id", id).Msg("failed to delete queue item")
		}
	}
}

func (m *Manager) customerFor(id string) *types.CustomerContext {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()
	return m.customers[id]
}

func (m *Manager) customerContext(ctx context.Context, ref string) *types.CustomerContext {
	if m.lookup == nil || ref == "" {
		return nil
	}
	c, err := m.lookup.GetContext(ctx, ref)
	if err != nil {
		// conditions that need the customer fail closed
		m.logger.Warn().Err(err).Str("customer_ref", ref).Msg("customer context unavailable")
		return nil
	}
	return c
}

func (m *Manager) noteUnrouted(item *types.QueueItem) {
	c := cloneItem(item)
	m.unroutedMu.Lock()
	m.unrouted = append(m.unrouted, c)
	if len(m.unrouted) > maxUnrouted {
		m.unrouted = m.unrouted[len(m.unrouted)-maxUnrouted:]
	}
	m.unroutedMu.Unlock()
	m.emit(EventUnrouted, Event{InteractionID: c.ID, Queue: c.QueueName, Channel: c.Channel, Timestamp: c.EnqueuedAt})
}

func (m *Manager) emit(kind string, ev Event) {
	if m.events != nil {
		m.events.Emit(kind, ev)
	}
}

func (m *Manager) persistItem(item types.QueueItem) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.UpsertQueueItem(ctx, item); err != nil {
		m.logger.Error().Err(err).Str("interaction_id", item.ID).Msg("failed to save queue item")
	}
}

// persistExit records the outcome and drops the live item
func (m *Manager) persistExit(item types.QueueItem, rec types.InteractionRecord) {
	m.forget(item.ID)
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.AppendInteractionRecord(ctx, rec); err != nil {
		m.logger.Error().Err(err).Str("interaction_id", item.ID).Msg("failed to save interaction record")
	}
}
