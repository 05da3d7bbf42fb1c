package inbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/callqueue"
	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/condition"
	"github.com/dennisdiepolder/monti/contactcore/internal/ivr"
	"github.com/dennisdiepolder/monti/contactcore/internal/priority"
	"github.com/dennisdiepolder/monti/contactcore/internal/routing"
	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

type menuMap map[string]types.IVRMenu

func (m menuMap) Menu(id string) (types.IVRMenu, bool) {
	menu, ok := m[id]
	return menu, ok
}

var menus = menuMap{
	"main": {
		ID: "main", Greeting: "Hello", TimeoutSeconds: 5, MaxRetries: 2,
		Options: []types.IVROption{
			{OptionKey: "1", ActionType: types.ActionTransferQueue, ActionTarget: "billing"},
			{OptionKey: "2", ActionType: types.ActionTransferAgent, ActionTarget: "agent-7"},
			{OptionKey: "3", ActionType: types.ActionCallback},
			{OptionKey: "4", ActionType: types.ActionVoicemail},
		},
		Fallback: types.IVRFallback{ActionType: types.ActionTransferQueue, Target: "general"},
	},
}

// fakeQueue records interactions and can overflow them on arrival
type fakeQueue struct {
	mu       sync.Mutex
	got      []types.Interaction
	overflow *routing.OverflowDecision
	flow     *Flow
}

func (q *fakeQueue) Enqueue(_ context.Context, in types.Interaction) (callqueue.EnqueueResult, error) {
	q.mu.Lock()
	q.got = append(q.got, in)
	q.mu.Unlock()

	item := types.QueueItem{ID: in.ID, Channel: in.Channel, QueueName: in.RequestedQueue, Status: types.ItemWaiting}
	if q.overflow != nil {
		item.Status = types.ItemOverflowed
		q.flow.HandleOverflow(item, *q.overflow)
		return callqueue.EnqueueResult{Item: item, Overflow: q.overflow}, nil
	}
	return callqueue.EnqueueResult{Item: item}, nil
}

type fakeCallbacks struct{ numbers []string }

func (f *fakeCallbacks) ScheduleCallback(_ context.Context, number, _ string) error {
	f.numbers = append(f.numbers, number)
	return nil
}

func setup(t *testing.T) (*Flow, *fakeQueue, *telephony.Simulator) {
	t.Helper()
	cfg := telephony.DefaultSimConfig()
	cfg.RingTime = 0
	sim := telephony.NewSimulator(cfg, zerolog.Nop())
	q := &fakeQueue{}
	nav := ivr.NewNavigator(menus, nil, sim, zerolog.Nop())
	f := NewFlow(nav, q, sim, "main", zerolog.Nop())
	q.flow = f
	return f, q, sim
}

func TestTransferQueueEnqueues(t *testing.T) {
	f, q, sim := setup(t)
	h := sim.Inbound("+15550100")
	sim.ScriptInputs(h.ID, telephony.Input{Digits: "1"})

	res, err := f.Handle(context.Background(), Call{Handle: h, CustomerRef: "cust-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Enqueued)
	require.Len(t, q.got, 1)
	assert.Equal(t, "billing", q.got[0].RequestedQueue)
	assert.Equal(t, h.ID, q.got[0].ID)
	assert.Equal(t, types.ChannelVoice, q.got[0].Channel)
	assert.Equal(t, 1, q.got[0].BasePriority)
	assert.Equal(t, 1, f.Waiting())
}

func TestTransferAgentEnqueues(t *testing.T) {
	f, q, sim := setup(t)
	h := sim.Inbound("+15550100")
	sim.ScriptInputs(h.ID, telephony.Input{Digits: "2"})

	_, err := f.Handle(context.Background(), Call{Handle: h})
	require.NoError(t, err)
	require.Len(t, q.got, 1)
	assert.Equal(t, "agent-7", q.got[0].RequestedAgent)
}

func TestFallbackAfterRetriesEnqueuesFallbackQueue(t *testing.T) {
	f, q, sim := setup(t)
	h := sim.Inbound("+15550100")
	sim.ScriptInputs(h.ID, telephony.Input{TimedOut: true}, telephony.Input{Digits: "8"})

	res, err := f.Handle(context.Background(), Call{Handle: h})
	require.NoError(t, err)
	assert.True(t, res.IVR.Fallback)
	require.Len(t, q.got, 1)
	assert.Equal(t, "general", q.got[0].RequestedQueue)
}

func TestCallbackAndVoicemail(t *testing.T) {
	f, q, sim := setup(t)
	cb := &fakeCallbacks{}
	f.SetCallbackScheduler(cb)

	h := sim.Inbound("+15550101")
	sim.ScriptInputs(h.ID, telephony.Input{Digits: "3"})
	_, err := f.Handle(context.Background(), Call{Handle: h})
	require.NoError(t, err)
	assert.Equal(t, []string{"+15550101"}, cb.numbers)
	assert.True(t, sim.HungUp(h))
	assert.Contains(t, sim.Prompts(h), CallbackPrompt)

	h2 := sim.Inbound("+15550102")
	sim.ScriptInputs(h2.ID, telephony.Input{Digits: "4"})
	_, err = f.Handle(context.Background(), Call{Handle: h2})
	require.NoError(t, err)
	target, ok := sim.TransferTarget(h2)
	assert.True(t, ok)
	assert.Equal(t, VoicemailTarget, target)
	assert.Empty(t, q.got)
}

func TestOverflowOnArrivalActsOnCall(t *testing.T) {
	f, q, sim := setup(t)
	q.overflow = &routing.OverflowDecision{Action: types.OverflowVoicemail, Fallback: true, Message: routing.GenericOverflowMessage}
	h := sim.Inbound("+15550100")
	sim.ScriptInputs(h.ID, telephony.Input{Digits: "1"})

	_, err := f.Handle(context.Background(), Call{Handle: h})
	require.NoError(t, err)
	target, _ := sim.TransferTarget(h)
	assert.Equal(t, VoicemailTarget, target)
	assert.Contains(t, sim.Prompts(h), routing.GenericOverflowMessage)
	assert.Equal(t, 0, f.Waiting())
}

func TestAssignedCallIsBridged(t *testing.T) {
	f, _, sim := setup(t)
	h := sim.Inbound("+15550100")
	sim.ScriptInputs(h.ID, telephony.Input{Digits: "1"})
	_, err := f.Handle(context.Background(), Call{Handle: h})
	require.NoError(t, err)

	f.Emit(callqueue.EventAssigned, callqueue.Event{InteractionID: h.ID, AgentID: "agent-1"})
	target, ok := sim.TransferTarget(h)
	require.True(t, ok)
	assert.Equal(t, "agent/agent-1", target)
	assert.Equal(t, 0, f.Waiting())

	// unknown payloads are ignored
	f.Emit(callqueue.EventAssigned, "nope")
}

func TestNoMenuSkipsIVR(t *testing.T) {
	cfg := telephony.DefaultSimConfig()
	cfg.RingTime = 0
	sim := telephony.NewSimulator(cfg, zerolog.Nop())
	q := &fakeQueue{}
	f := NewFlow(ivr.NewNavigator(menus, nil, sim, zerolog.Nop()), q, sim, "", zerolog.Nop())

	h := sim.Inbound("+15550100")
	res, err := f.Handle(context.Background(), Call{Handle: h, BasePriority: 3})
	require.NoError(t, err)
	assert.Nil(t, res.IVR)
	require.Len(t, q.got, 1)
	assert.Equal(t, 3, q.got[0].BasePriority)
	assert.Empty(t, sim.Prompts(h))
}

type queuedCall struct {
	flow  *Flow
	mgr   *callqueue.Manager
	pool  *cache.AgentPool
	clock *clock.Fake
	sim   *telephony.Simulator
	h     telephony.CallHandle
}

// queueVoiceCall places one call into a real queue manager that sends calls
// to voicemail after a minute without an agent
func queueVoiceCall(t *testing.T) *queuedCall {
	t.Helper()
	set, report := rules.Validate(&rules.Set{
		Queues: []types.QueueConfig{{Name: "general"}},
		RoutingRules: []types.RoutingRule{
			{ID: "general", Priority: 5, Strategy: types.StrategyLongestIdle, TargetQueue: "general",
				OverflowAction: types.OverflowVoicemail, OverflowThresholdSeconds: 60, IsActive: true, CreatedSeq: 1},
		},
	})
	require.NoError(t, report.Err())

	fc := clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	store := rules.NewStore(zerolog.Nop())
	store.Replace(set)
	pool := cache.NewAgentPool(fc, time.Hour)
	cond := condition.NewEvaluator(fc, clock.AlwaysOpen{}, time.UTC, zerolog.Nop())
	router := routing.NewEvaluator(store, pool, cond, zerolog.Nop())
	mgr := callqueue.NewManager(store, pool, router, priority.NewBooster(cond), fc, zerolog.Nop())

	cfg := telephony.DefaultSimConfig()
	cfg.RingTime = 0
	sim := telephony.NewSimulator(cfg, zerolog.Nop())
	f := NewFlow(ivr.NewNavigator(menus, nil, sim, zerolog.Nop()), mgr, sim, "", zerolog.Nop())
	mgr.SetOverflowSink(f)
	mgr.SetEventEmitter(f)

	pool.RegisterAgent(&types.AgentRegister{AgentID: "a1", State: types.StateAvailable})
	fc.Advance(time.Second)

	h := sim.Inbound("+15550100")
	res, err := f.Handle(context.Background(), Call{Handle: h})
	require.NoError(t, err)
	require.Equal(t, types.ItemWaiting, res.Enqueued.Item.Status)
	require.Equal(t, 1, f.Waiting())

	return &queuedCall{flow: f, mgr: mgr, pool: pool, clock: fc, sim: sim, h: h}
}

func TestDeliveredAssignmentBridgesCall(t *testing.T) {
	qc := queueVoiceCall(t)

	assignments := qc.mgr.Dispatch()
	require.Len(t, assignments, 1)
	_, bridged := qc.sim.TransferTarget(qc.h)
	assert.False(t, bridged, "call must stay on hold until the agent has the assignment")

	qc.mgr.Delivered(assignments[0])
	target, ok := qc.sim.TransferTarget(qc.h)
	require.True(t, ok)
	assert.Equal(t, "agent/a1", target)
	assert.Equal(t, 0, qc.flow.Waiting())
}

func TestUndeliveredAssignmentKeepsCallForOverflow(t *testing.T) {
	qc := queueVoiceCall(t)

	require.Len(t, qc.mgr.Dispatch(), 1)
	require.True(t, qc.mgr.Requeue(qc.h.ID))

	_, bridged := qc.sim.TransferTarget(qc.h)
	assert.False(t, bridged)
	assert.Equal(t, 1, qc.flow.Waiting())
	assert.Len(t, qc.mgr.Waiting("general"), 1)

	qc.pool.Logout("a1")
	qc.clock.Advance(2 * time.Minute)
	require.Equal(t, 1, qc.mgr.CheckOverflow())

	target, ok := qc.sim.TransferTarget(qc.h)
	require.True(t, ok)
	assert.Equal(t, VoicemailTarget, target)
	assert.Equal(t, 0, qc.flow.Waiting())
}
