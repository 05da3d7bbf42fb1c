package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/cache"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	AgentID       string             `json:"agentId"`
	Queues        []string           `json:"queues,omitempty"`
	Skills        []types.AgentSkill `json:"skills,omitempty"`
	MaxConcurrent int                `json:"maxConcurrent,omitempty"`
}

// SkillSource supplies configured skills for roster entries that carry none
type SkillSource interface {
	SkillsFor(agentID string) []types.AgentSkill
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	pool   *cache.AgentPool
	skills SkillSource
	logger zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(pool *cache.AgentPool, skills SkillSource, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		pool:   pool,
		skills: skills,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	registered := 0
	for _, entry := range roster {
		if entry.AgentID == "" {
			continue
		}
		skills := entry.Skills
		if len(skills) == 0 && h.skills != nil {
			skills = h.skills.SkillsFor(entry.AgentID)
		}
		h.pool.RegisterOfflineAgent(entry.AgentID, entry.Queues, skills, entry.MaxConcurrent)
		registered++
	}

	h.logger.Info().Int("registered", registered).Msg("roster received")
	writeJSON(w, http.StatusOK, map[string]int{"registered": registered})
}
