package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// AgentNotifier pushes control messages to agent desktops
type AgentNotifier interface {
	ForceEnd(agentID, interactionID string) bool
	ForceDisconnect(agentID string) bool
}

// InteractionEnder ends inbound work held by agents
type InteractionEnder interface {
	ForceEnd(id string) (agentID string, found bool)
	EndAgentWork(agentID string) []string
}

// SessionDirectory closes outbound sessions on logout
type SessionDirectory interface {
	Campaigns() []types.DialerCampaign
	Sessions(campaignID string) []types.DialerSession
	LeaveSession(ctx context.Context, campaignID, agentID string) (types.DialerSession, error)
}

// AgentActionsHandler provides REST endpoints for agent control actions
type AgentActionsHandler struct {
	hub      AgentNotifier
	queues   InteractionEnder
	pool     *cache.AgentPool
	sessions SessionDirectory
	logger   zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler. sessions may be nil.
func NewAgentActionsHandler(hub AgentNotifier, queues InteractionEnder, pool *cache.AgentPool, sessions SessionDirectory, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		hub:      hub,
		queues:   queues,
		pool:     pool,
		sessions: sessions,
		logger:   logger.With().Str("component", "agent_actions").Logger(),
	}
}

// EndInteraction handles POST /api/agents/{agentId}/interactions/{id}/end
func (h *AgentActionsHandler) EndInteraction(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	interactionID := chi.URLParam(r, "id")

	if agentID == "" || interactionID == "" {
		writeError(w, http.StatusBadRequest, "agentId and id are required")
		return
	}

	foundAgentID, found := h.queues.ForceEnd(interactionID)
	if !found {
		writeError(w, http.StatusNotFound, "interaction not active")
		return
	}
	if foundAgentID != agentID {
		h.logger.Warn().
			Str("agent_id", agentID).
			Str("assigned_agent", foundAgentID).
			Str("interaction_id", interactionID).
			Msg("ended interaction held by another agent")
	}

	h.hub.ForceEnd(foundAgentID, interactionID)

	h.logger.Info().
		Str("agent_id", foundAgentID).
		Str("interaction_id", interactionID).
		Msg("force-ended interaction via API")

	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "interaction ended",
		"agentId":       foundAgentID,
		"interactionId": interactionID,
	})
}

// Logout handles POST /api/agents/{agentId}/logout. The agent goes offline,
// its inbound work is closed, its outbound sessions end and its desktop is
// disconnected.
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	if _, ok := h.pool.Get(agentID); !ok {
		writeError(w, http.StatusNotFound, "agent not known")
		return
	}

	h.pool.Logout(agentID)
	ended := h.queues.EndAgentWork(agentID)

	var left []string
	if h.sessions != nil {
		for _, c := range h.sessions.Campaigns() {
			for _, sess := range h.sessions.Sessions(c.ID) {
				if sess.AgentID != agentID {
					continue
				}
				if _, err := h.sessions.LeaveSession(r.Context(), c.ID, agentID); err != nil {
					h.logger.Warn().Err(err).Str("campaign_id", c.ID).Msg("leaving session on logout")
					continue
				}
				left = append(left, c.ID)
			}
		}
	}

	connected := h.hub.ForceDisconnect(agentID)

	h.logger.Info().
		Str("agent_id", agentID).
		Int("interactions_ended", len(ended)).
		Strs("campaigns_left", left).
		Bool("was_connected", connected).
		Msg("agent logged out via API")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":           "agent logged out",
		"agentId":           agentID,
		"interactionsEnded": ended,
		"campaignsLeft":     left,
	})
}
