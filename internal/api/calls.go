package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/inbound"
	"github.com/dennisdiepolder/monti/contactcore/internal/telephony"
)

// CallRunner runs an inbound voice call through IVR and routing
type CallRunner interface {
	Handle(ctx context.Context, call inbound.Call) (inbound.Result, error)
}

// InboundHandler accepts voice calls announced by the media layer
type InboundHandler struct {
	flow   CallRunner
	base   context.Context
	logger zerolog.Logger
}

// NewInboundHandler creates a new InboundHandler. Calls run under base so
// they end with the server rather than with the announcing request.
func NewInboundHandler(flow CallRunner, base context.Context, logger zerolog.Logger) *InboundHandler {
	return &InboundHandler{
		flow:   flow,
		base:   base,
		logger: logger.With().Str("component", "inbound_handler").Logger(),
	}
}

type inboundRequest struct {
	CallID       string `json:"callId,omitempty"`
	Number       string `json:"number"`
	CustomerRef  string `json:"customerRef,omitempty"`
	BasePriority int    `json:"basePriority,omitempty"`
	MenuID       string `json:"menuId,omitempty"`
}

// HandleInbound handles POST /internal/calls/inbound. The call runs in the
// background and the response is 202, unless ?wait=true asks for the
// outcome.
func (h *InboundHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CallID == "" {
		req.CallID = uuid.New().String()
	}

	call := inbound.Call{
		Handle:       telephony.CallHandle{ID: req.CallID, Number: req.Number},
		CustomerRef:  req.CustomerRef,
		BasePriority: req.BasePriority,
		MenuID:       req.MenuID,
	}
	log := h.logger.With().Str("call_id", req.CallID).Logger()

	if r.URL.Query().Get("wait") == "true" {
		res, err := h.flow.Handle(r.Context(), call)
		if err != nil {
			log.Error().Err(err).Msg("inbound call failed")
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"callId": req.CallID, "result": res})
		return
	}

	go func() {
		res, err := h.flow.Handle(h.base, call)
		if err != nil {
			log.Error().Err(err).Msg("inbound call failed")
			return
		}
		log.Debug().Str("action", string(res.Action)).Msg("inbound call handled")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"callId": req.CallID})
}
