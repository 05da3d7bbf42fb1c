// Package websocket carries the agent desktop protocol: registration,
// heartbeats, state changes and outbound decisions in, assignments and
// preview contacts out.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/ingestion"
	"github.com/dennisdiepolder/monti/contactcore/internal/metrics"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// AgentHub maintains the set of active agent WebSocket connections
type AgentHub struct {
	// Registered agent clients
	agents map[string]*AgentClient // agentID -> client

	// Register requests from clients that sent their register message
	register chan *AgentClient

	// Unregister requests from agent clients
	unregister chan *AgentClient

	// Inbound agent messages
	agentRegister       chan *types.AgentRegister
	heartbeat           chan *types.AgentHeartbeat
	stateChange         chan *types.AgentStateChange
	interactionComplete chan *types.InteractionComplete

	// Outbound decisions are handled off the main loop since they reach the dialer
	wrapUp  chan *types.AgentWrapUp
	preview chan *types.PreviewDecision

	// closed when Run returns so client pumps stop blocking on the channels
	stopped chan struct{}

	mu     sync.RWMutex
	logger zerolog.Logger

	// Agent pool (for connection status management)
	pool *cache.AgentPool

	// Event processor (for processing agent events)
	processor ingestion.EventProcessor
}

// NewAgentHub creates a new AgentHub
func NewAgentHub(pool *cache.AgentPool, processor ingestion.EventProcessor, logger zerolog.Logger) *AgentHub {
	return &AgentHub{
		agents:              make(map[string]*AgentClient),
		register:            make(chan *AgentClient),
		unregister:          make(chan *AgentClient),
		agentRegister:       make(chan *types.AgentRegister, 100),
		heartbeat:           make(chan *types.AgentHeartbeat, 1000),
		stateChange:         make(chan *types.AgentStateChange, 500),
		interactionComplete: make(chan *types.InteractionComplete, 500),
		wrapUp:              make(chan *types.AgentWrapUp, 200),
		preview:             make(chan *types.PreviewDecision, 200),
		stopped:             make(chan struct{}),
		logger:              logger.With().Str("component", "agent_hub").Logger(),
		pool:                pool,
		processor:           processor,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled
func (h *AgentHub) Run(ctx context.Context) {
	defer close(h.stopped)
	m := metrics.Get()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runOutbound(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			// Replace an existing connection for the same agent
			if existing, ok := h.agents[client.agentID]; ok && existing != client {
				existing.Close()
			}
			h.agents[client.agentID] = client
			total := len(h.agents)
			h.mu.Unlock()

			h.pool.SetConnected(client.agentID, true)
			m.RecordWebSocketConnect()

			h.logger.Debug().
				Str("agent_id", client.agentID).
				Int("total_agents", total).
				Msg("agent connected")

		case client := <-h.unregister:
			h.mu.Lock()
			existing, ok := h.agents[client.agentID]
			if ok && existing == client {
				delete(h.agents, client.agentID)
			}
			total := len(h.agents)
			h.mu.Unlock()
			client.Close()

			if ok && existing == client {
				h.pool.SetDisconnected(client.agentID)
				m.RecordWebSocketDisconnect()
				h.logger.Debug().
					Str("agent_id", client.agentID).
					Int("total_agents", total).
					Msg("agent disconnected")
			}

		case reg := <-h.agentRegister:
			h.processor.ProcessRegister(reg)

		case hb := <-h.heartbeat:
			h.processor.ProcessHeartbeat(hb)

		case sc := <-h.stateChange:
			h.processor.ProcessStateChange(sc)

		case ic := <-h.interactionComplete:
			h.processor.ProcessInteractionComplete(ic)
		}
	}
}

func (h *AgentHub) runOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case wu := <-h.wrapUp:
			h.processor.ProcessWrapUp(wu)
		case pd := <-h.preview:
			h.processor.ProcessPreviewDecision(pd)
		}
	}
}

func (h *AgentHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.agents {
		client.Close()
		delete(h.agents, id)
	}
}

// ForceEnd tells an agent to end an interaction the core has closed
func (h *AgentHub) ForceEnd(agentID, interactionID string) bool {
	msg := types.ForceEnd{
		Type:          types.MsgForceEnd,
		AgentID:       agentID,
		InteractionID: interactionID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal force_end")
		return false
	}
	return h.SendToAgent(agentID, data)
}

// ForceDisconnect sends a force_disconnect message to the agent, then closes the connection
func (h *AgentHub) ForceDisconnect(agentID string) bool {
	msg := types.ForceDisconnect{
		Type:    types.MsgForceDisconnect,
		AgentID: agentID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal force_disconnect")
		return false
	}

	// Send the message first
	h.SendToAgent(agentID, data)

	// Then close the connection
	h.mu.Lock()
	client, ok := h.agents[agentID]
	if ok {
		delete(h.agents, agentID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
		h.pool.SetDisconnected(agentID)
		metrics.Get().RecordWebSocketDisconnect()
		h.logger.Info().Str("agent_id", agentID).Msg("agent force-disconnected")
	}
	return ok
}

// AgentCount returns the number of connected agents
func (h *AgentHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// SendToAgent sends a message to a specific agent
func (h *AgentHub) SendToAgent(agentID string, message []byte) bool {
	h.mu.RLock()
	client, ok := h.agents[agentID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	return client.safeSend(message)
}
