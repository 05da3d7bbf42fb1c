package callqueue

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Handler handles HTTP requests for queue operations
type Handler struct {
	mgr    *Manager
	logger zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(mgr *Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		mgr:    mgr,
		logger: logger,
	}
}

// enqueueRequest is the JSON body for POST /internal/interactions
type enqueueRequest struct {
	ID             string            `json:"id,omitempty"`
	Channel        types.ChannelType `json:"channel"`
	CustomerRef    string            `json:"customerRef,omitempty"`
	BasePriority   int               `json:"basePriority"`
	RequestedQueue string            `json:"requestedQueue,omitempty"`
	RequestedAgent string            `json:"requestedAgent,omitempty"`
	Intent         string            `json:"intent,omitempty"`
}

// enqueueResponse is the JSON response for an accepted interaction
type enqueueResponse struct {
	InteractionID     string                `json:"interactionId"`
	Queue             string                `json:"queue"`
	Status            types.QueueItemStatus `json:"status"`
	RuleID            string                `json:"ruleId,omitempty"`
	Unrouted          bool                  `json:"unrouted,omitempty"`
	EffectivePriority float64               `json:"effectivePriority"`
	OverflowAction    types.OverflowAction  `json:"overflowAction,omitempty"`
	OverflowTarget    string                `json:"overflowTarget,omitempty"`
	OverflowFallback  bool                  `json:"overflowFallback,omitempty"`
}

// HandleEnqueue handles POST /internal/interactions
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		http.Error(w, "missing channel field", http.StatusBadRequest)
		return
	}

	res, err := h.mgr.Enqueue(r.Context(), types.Interaction{
		ID:             req.ID,
		Channel:        req.Channel,
		CustomerRef:    req.CustomerRef,
		BasePriority:   req.BasePriority,
		RequestedQueue: req.RequestedQueue,
		RequestedAgent: req.RequestedAgent,
		Intent:         req.Intent,
	})
	switch {
	case errors.Is(err, ErrInvalidInteraction):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("enqueue failed")
		http.Error(w, "failed to enqueue interaction", http.StatusInternalServerError)
		return
	}

	resp := enqueueResponse{
		InteractionID:     res.Item.ID,
		Queue:             res.Item.QueueName,
		Status:            res.Item.Status,
		RuleID:            res.Item.RuleID,
		Unrouted:          res.Item.Unrouted,
		EffectivePriority: res.Item.EffectivePriority,
	}
	if res.Overflow != nil {
		resp.OverflowAction = res.Overflow.Action
		resp.OverflowTarget = res.Overflow.Target
		resp.OverflowFallback = res.Overflow.Fallback
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// HandleAbandon handles POST /internal/interactions/{id}/abandon
func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := h.mgr.Abandon(id)
	if !ok {
		http.Error(w, "interaction not waiting", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"interactionId": item.ID,
		"queue":         item.QueueName,
		"status":        item.Status,
	})
}

// HandleWipeAll handles DELETE /internal/queues/all
func (h *Handler) HandleWipeAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := h.mgr.WipeAll()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "all interactions wiped",
		"cleared": count,
	})
}

// HandleStats returns queue statistics
// GET /internal/queues/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	snapshots := h.mgr.GetAllSnapshots()

	stats := map[string]interface{}{
		"totalQueues": len(snapshots),
		"queues":      snapshots,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// HandleUnrouted lists interactions no rule matched
// GET /api/unrouted
func (h *Handler) HandleUnrouted(w http.ResponseWriter, r *http.Request) {
	items := h.mgr.Unrouted()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}
