package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// RecordLoader reads finished interaction records for one day
type RecordLoader interface {
	LoadInteractionRecords(ctx context.Context, date string) ([]types.InteractionRecord, error)
}

// HistoryHandler provides REST endpoints for finished inbound interactions
type HistoryHandler struct {
	store  RecordLoader
	clock  clock.Clock
	logger zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(store RecordLoader, c clock.Clock, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		clock:  c,
		logger: logger.With().Str("component", "history_handler").Logger(),
	}
}

// GetInteractions returns the records of a day, optionally for one queue
// GET /api/interactions?date=YYYY-MM-DD&queue=...
func (h *HistoryHandler) GetInteractions(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("queue")
	h.serve(w, r, func(rec types.InteractionRecord) bool {
		return queue == "" || rec.Queue == queue
	})
}

// GetAgentInteractions returns the records an agent handled on a day
// GET /api/agents/{agentId}/interactions?date=YYYY-MM-DD
func (h *HistoryHandler) GetAgentInteractions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	h.serve(w, r, func(rec types.InteractionRecord) bool {
		return rec.AgentID == agentID
	})
}

func (h *HistoryHandler) serve(w http.ResponseWriter, r *http.Request, keep func(types.InteractionRecord) bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.clock.Now().UTC().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.store.LoadInteractionRecords(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to load interaction records")
		writeError(w, http.StatusInternalServerError, "failed to retrieve interactions")
		return
	}

	out := make([]types.InteractionRecord, 0, len(records))
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
