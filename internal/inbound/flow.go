// Package inbound runs voice calls through the IVR and hands them to the
// queue manager. It also carries out queue decisions on the live call.
package inbound

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/callqueue"
	"github.com/dennisdiepolder/monti/contactcore/internal/ivr"
	"github.com/dennisdiepolder/monti/contactcore/internal/routing"
	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Media targets understood by the telephony layer
const (
	VoicemailTarget = "voicemail"
	agentPrefix     = "agent/"
)

// CallbackPrompt is played before a caller is released with a callback
const CallbackPrompt = "Thank you. We will call you back as soon as an agent is available."

// Enqueuer is the subset of callqueue.Manager used by the flow
type Enqueuer interface {
	Enqueue(ctx context.Context, in types.Interaction) (callqueue.EnqueueResult, error)
}

// CallbackScheduler books an outbound callback, implemented by the dialer
type CallbackScheduler interface {
	ScheduleCallback(ctx context.Context, number, customerRef string) error
}

// Call is an inbound voice call entering the core
type Call struct {
	Handle       telephony.CallHandle
	CustomerRef  string
	BasePriority int
	MenuID       string // empty uses the default menu, or skips the IVR if there is none
}

// Result is what happened to a call
type Result struct {
	IVR      *ivr.Outcome
	Enqueued *callqueue.EnqueueResult
	Action   types.IVRActionType
}

type liveCall struct {
	handle telephony.CallHandle
	call   Call
}

// Flow orchestrates IVR, routing and queueing for voice calls
type Flow struct {
	nav         *ivr.Navigator
	queue       Enqueuer
	tel         telephony.Collaborator
	callbacks   CallbackScheduler
	defaultMenu string
	logger      zerolog.Logger

	mu    sync.Mutex
	calls map[string]liveCall // interactionID -> call waiting in queue
}

// NewFlow creates a Flow
func NewFlow(nav *ivr.Navigator, queue Enqueuer, tel telephony.Collaborator, defaultMenu string, logger zerolog.Logger) *Flow {
	return &Flow{
		nav:         nav,
		queue:       queue,
		tel:         tel,
		defaultMenu: defaultMenu,
		calls:       make(map[string]liveCall),
		logger:      logger.With().Str("component", "inbound").Logger(),
	}
}

// SetCallbackScheduler sets who books callbacks
func (f *Flow) SetCallbackScheduler(cb CallbackScheduler) {
	f.callbacks = cb
}

// Handle runs one call to its outcome. It blocks for the IVR traversal.
func (f *Flow) Handle(ctx context.Context, call Call) (Result, error) {
	menu := call.MenuID
	if menu == "" {
		menu = f.defaultMenu
	}
	if menu == "" {
		res, err := f.enqueue(ctx, call, types.Interaction{})
		return Result{Enqueued: res, Action: types.ActionTransferQueue}, err
	}

	o, err := f.nav.Run(ctx, call.Handle, menu)
	if err != nil {
		return Result{IVR: &o}, err
	}
	result := Result{IVR: &o, Action: o.Action}
	if o.Cancelled {
		return result, nil
	}

	// detached so the media action survives the request that started the call
	actx := context.WithoutCancel(ctx)
	switch o.Action {
	case types.ActionTransferQueue:
		res, err := f.enqueue(actx, call, types.Interaction{RequestedQueue: o.Target, Intent: o.Intent})
		result.Enqueued = res
		return result, err
	case types.ActionTransferAgent:
		res, err := f.enqueue(actx, call, types.Interaction{RequestedAgent: o.Target, Intent: o.Intent})
		result.Enqueued = res
		return result, err
	case types.ActionVoicemail:
		return result, f.tel.Transfer(actx, call.Handle, VoicemailTarget)
	case types.ActionCallback:
		return result, f.callback(actx, call.Handle, call.CustomerRef)
	default:
		return result, f.tel.Hangup(actx, call.Handle)
	}
}

func (f *Flow) enqueue(ctx context.Context, call Call, in types.Interaction) (*callqueue.EnqueueResult, error) {
	in.ID = call.Handle.ID
	in.Channel = types.ChannelVoice
	in.CustomerRef = call.CustomerRef
	in.BasePriority = call.BasePriority
	if in.BasePriority <= 0 {
		in.BasePriority = 1
	}

	// register first so an overflow on arrival finds the call
	f.mu.Lock()
	f.calls[in.ID] = liveCall{handle: call.Handle, call: call}
	f.mu.Unlock()

	res, err := f.queue.Enqueue(ctx, in)
	if err != nil {
		f.forget(in.ID)
		return nil, fmt.Errorf("enqueue call %s: %w", in.ID, err)
	}
	if res.Item.Status != types.ItemWaiting {
		f.forget(in.ID)
	}
	return &res, nil
}

func (f *Flow) callback(ctx context.Context, h telephony.CallHandle, customerRef string) error {
	if f.callbacks != nil {
		if err := f.callbacks.ScheduleCallback(ctx, h.Number, customerRef); err != nil {
			f.logger.Error().Err(err).Str("call_id", h.ID).Msg("failed to schedule callback")
		}
	}
	if err := f.tel.PlayPrompt(ctx, h, CallbackPrompt); err != nil {
		f.logger.Warn().Err(err).Str("call_id", h.ID).Msg("callback prompt not played")
	}
	return f.tel.Hangup(ctx, h)
}

// HandleOverflow carries out a queue overflow on the live call
func (f *Flow) HandleOverflow(item types.QueueItem, d routing.OverflowDecision) {
	lc, ok := f.take(item.ID)
	if !ok {
		// not a voice call placed through this flow
		return
	}
	ctx := context.Background()
	h := lc.handle
	log := f.logger.With().Str("call_id", h.ID).Str("action", string(d.Action)).Logger()

	if d.Message != "" {
		if err := f.tel.PlayPrompt(ctx, h, d.Message); err != nil {
			log.Warn().Err(err).Msg("overflow message not played")
		}
	}

	var err error
	switch d.Action {
	case types.OverflowVoicemail:
		err = f.tel.Transfer(ctx, h, VoicemailTarget)
	case types.OverflowCallback:
		err = f.callback(ctx, h, lc.call.CustomerRef)
	case types.OverflowRedirect:
		err = f.tel.Transfer(ctx, h, d.Target)
	case types.OverflowDisconnect:
		err = f.tel.Hangup(ctx, h)
	default:
		// queue moves keep the caller waiting
		f.mu.Lock()
		f.calls[item.ID] = lc
		f.mu.Unlock()
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("overflow action failed")
		return
	}
	log.Info().Msg("overflow action applied to call")
}

// Emit receives queue events. Assigned calls are bridged to their agent and
// finished calls are dropped.
func (f *Flow) Emit(kind string, payload any) {
	ev, ok := payload.(callqueue.Event)
	if !ok {
		return
	}
	switch kind {
	case callqueue.EventAssigned:
		lc, ok := f.take(ev.InteractionID)
		if !ok {
			return
		}
		if err := f.tel.Transfer(context.Background(), lc.handle, agentPrefix+ev.AgentID); err != nil {
			f.logger.Error().Err(err).Str("call_id", lc.handle.ID).Str("agent_id", ev.AgentID).Msg("failed to bridge call to agent")
		}
	case callqueue.EventAbandoned, callqueue.EventCompleted:
		f.forget(ev.InteractionID)
	}
}

// Waiting returns how many calls are held in queue
func (f *Flow) Waiting() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Flow) take(id string) (liveCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lc, ok := f.calls[id]
	if ok {
		delete(f.calls, id)
	}
	return lc, ok
}

func (f *Flow) forget(id string) {
	f.mu.Lock()
	delete(f.calls, id)
	f.mu.Unlock()
}
