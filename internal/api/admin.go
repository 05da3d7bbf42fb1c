package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/rules"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// RuleReloader reloads and activates the ruleset
type RuleReloader interface {
	Load(ctx context.Context) (*rules.Report, error)
}

// SnapshotSource returns the latest supervisor snapshot
type SnapshotSource interface {
	Latest() *types.Snapshot
}

// Truncater wipes persisted records
type Truncater interface {
	Truncate(ctx context.Context) error
}

// Wiper clears in-memory queue state
type Wiper interface {
	WipeAll() int
}

// AdminHandler serves operator maintenance endpoints
type AdminHandler struct {
	reloader  RuleReloader
	snapshots SnapshotSource
	store     Truncater
	queues    Wiper
	logger    zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(reloader RuleReloader, snapshots SnapshotSource, store Truncater, queues Wiper, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		reloader:  reloader,
		snapshots: snapshots,
		store:     store,
		queues:    queues,
		logger:    logger.With().Str("component", "admin").Logger(),
	}
}

// ReloadRules handles POST /api/rules/reload. Quarantined records are
// reported but do not fail the reload.
func (h *AdminHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	report, err := h.reloader.Load(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("rules reload failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.logger.Info().Int("quarantined", len(report.Quarantined)).Msg("rules reloaded via admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "rules reloaded",
		"quarantined": report.Quarantined,
		"warnings":    report.Warnings,
	})
}

// GetSnapshot handles GET /api/snapshot
func (h *AdminHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Latest()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResetStore handles DELETE /api/admin/store. It clears the queues and
// truncates every persisted record.
func (h *AdminHandler) ResetStore(w http.ResponseWriter, r *http.Request) {
	cleared := h.queues.WipeAll()
	if err := h.store.Truncate(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate store")
		writeError(w, http.StatusInternalServerError, "failed to truncate store")
		return
	}

	h.logger.Info().Int("calls_cleared", cleared).Msg("store truncated via admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":             "store truncated",
		"interactionsCleared": cleared,
	})
}
