package callqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// AgentSender sends messages to connected agents via WebSocket
type AgentSender interface {
	SendToAgent(agentID string, message []byte) bool
}

// RoutingLoop periodically dispatches waiting interactions, re-evaluates
// overflow and refreshes priorities
type RoutingLoop struct {
	mgr              *Manager
	sender           AgentSender
	clock            clock.Clock
	interval         time.Duration
	priorityInterval time.Duration
	logger           zerolog.Logger
}

// NewRoutingLoop creates a new RoutingLoop
func NewRoutingLoop(mgr *Manager, sender AgentSender, c clock.Clock, interval, priorityInterval time.Duration, logger zerolog.Logger) *RoutingLoop {
	if interval <= 0 {
		interval = time.Second
	}
	if priorityInterval <= 0 {
		priorityInterval = time.Second
	}
	return &RoutingLoop{
		mgr:              mgr,
		sender:           sender,
		clock:            c,
		interval:         interval,
		priorityInterval: priorityInterval,
		logger:           logger.With().Str("component", "routing_loop").Logger(),
	}
}

// Start runs the loop until the context is cancelled
func (rl *RoutingLoop) Start(ctx context.Context) {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()
	prio := time.NewTicker(rl.priorityInterval)
	defer prio.Stop()

	rl.logger.Info().
		Dur("interval", rl.interval).
		Dur("priority_interval", rl.priorityInterval).
		Msg("routing loop started")

	for {
		select {
		case <-ctx.Done():
			rl.logger.Info().Msg("routing loop stopped")
			return
		case <-prio.C:
			rl.mgr.RecomputePriorities()
		case <-ticker.C:
			rl.tick()
			rl.mgr.CheckOverflow()
		case <-rl.mgr.Kicks():
			rl.tick()
		}
	}
}

// tick performs a single dispatch pass and delivers the assignments
func (rl *RoutingLoop) tick() {
	start := time.Now()
	defer func() { metrics.Get().ObserveRoutingTick(time.Since(start)) }()

	for _, a := range rl.mgr.Dispatch() {
		msg := types.InteractionAssign{
			Type:          types.MsgInteractionAssign,
			AgentID:       a.AgentID,
			InteractionID: a.Item.ID,
			Channel:       a.Item.Channel,
			Queue:         a.Item.QueueName,
			CustomerRef:   a.Item.CustomerRef,
			Strategy:      a.Item.Strategy,
			Timestamp:     rl.clock.Now(),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			rl.logger.Error().Err(err).
				Str("interaction_id", a.Item.ID).
				Str("agent_id", a.AgentID).
				Msg("failed to marshal interaction_assign message")
			rl.mgr.Requeue(a.Item.ID)
			continue
		}

		if !rl.sender.SendToAgent(a.AgentID, data) {
			rl.logger.Warn().
				Str("interaction_id", a.Item.ID).
				Str("agent_id", a.AgentID).
				Msg("failed to send interaction_assign to agent")
			rl.mgr.Requeue(a.Item.ID)
			continue
		}
		rl.mgr.Delivered(a)
	}
}
