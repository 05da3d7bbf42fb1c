package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dennisdiepolder/monti/contactcore/internal/dialer"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Dialer is the subset of the outbound scheduler exposed over HTTP
type Dialer interface {
	AddCampaign(ctx context.Context, cfg types.DialerCampaign) error
	StartCampaign(ctx context.Context, id string) error
	PauseCampaign(ctx context.Context, id string) error
	AddItems(ctx context.Context, campaignID string, items []types.CallListItem) error
	JoinSession(ctx context.Context, campaignID, agentID string) (types.DialerSession, error)
	LeaveSession(ctx context.Context, campaignID, agentID string) (types.DialerSession, error)
	WrapUp(ctx context.Context, campaignID, itemID string, w types.WrapUp) (types.CallResult, error)
	ConfirmPreview(ctx context.Context, campaignID, agentID string) error
	SkipPreview(ctx context.Context, campaignID, agentID string) error
	Campaign(id string) (types.DialerCampaign, bool)
	Campaigns() []types.DialerCampaign
	Items(campaignID string) []types.CallListItem
	Results(campaignID string) []types.CallResult
	Sessions(campaignID string) []types.DialerSession
	Pacing(campaignID string) (ratio, abandonRate float64, ok bool)
}

// CampaignHandler serves the outbound campaign endpoints
type CampaignHandler struct {
	dialer Dialer
	logger zerolog.Logger
}

// NewCampaignHandler creates a new CampaignHandler
func NewCampaignHandler(d Dialer, logger zerolog.Logger) *CampaignHandler {
	return &CampaignHandler{
		dialer: d,
		logger: logger.With().Str("component", "campaign_handler").Logger(),
	}
}

// dialerStatus maps dialer errors onto HTTP status codes
func dialerStatus(err error) int {
	switch {
	case errors.Is(err, dialer.ErrUnknownCampaign), errors.Is(err, dialer.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, dialer.ErrInvalidCampaign), errors.Is(err, dialer.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, dialer.ErrNoSession), errors.Is(err, dialer.ErrNoPreview),
		errors.Is(err, dialer.ErrNotConnected), errors.Is(err, dialer.ErrNotDialable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *CampaignHandler) fail(w http.ResponseWriter, op string, err error) {
	status := dialerStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("op", op).Msg("campaign operation failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// List handles GET /api/campaigns
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dialer.Campaigns())
}

// campaignView adds live pacing to a campaign
type campaignView struct {
	types.DialerCampaign
	PacingRatio float64 `json:"pacingRatio"`
	AbandonRate float64 `json:"abandonRate"`
	Items       int     `json:"items"`
}

// Get handles GET /api/campaigns/{id}
func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.dialer.Campaign(id)
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	ratio, abandon, _ := h.dialer.Pacing(id)
	writeJSON(w, http.StatusOK, campaignView{
		DialerCampaign: c,
		PacingRatio:    ratio,
		AbandonRate:    abandon,
		Items:          len(h.dialer.Items(id)),
	})
}

// Put handles PUT /api/campaigns/{id}
func (h *CampaignHandler) Put(w http.ResponseWriter, r *http.Request) {
	var c types.DialerCampaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c.ID = chi.URLParam(r, "id")
	if err := h.dialer.AddCampaign(r.Context(), c); err != nil {
		h.fail(w, "put", err)
		return
	}
	stored, _ := h.dialer.Campaign(c.ID)
	writeJSON(w, http.StatusOK, stored)
}

// AddItems handles POST /api/campaigns/{id}/items
func (h *CampaignHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	var items []types.CallListItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.dialer.AddItems(r.Context(), id, items); err != nil {
		h.fail(w, "add_items", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": len(items)})
}

// Start handles POST /api/campaigns/{id}/start
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, "start", h.dialer.StartCampaign)
}

// Pause handles POST /api/campaigns/{id}/pause
func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, "pause", h.dialer.PauseCampaign)
}

func (h *CampaignHandler) setStatus(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		h.fail(w, op, err)
		return
	}
	c, _ := h.dialer.Campaign(id)
	h.logger.Info().Str("campaign_id", id).Str("status", string(c.Status)).Msg("campaign status changed via API")
	writeJSON(w, http.StatusOK, map[string]string{"campaignId": id, "status": string(c.Status)})
}

// Join handles POST /api/campaigns/{id}/agents/{agentId}
func (h *CampaignHandler) Join(w http.ResponseWriter, r *http.Request) {
	sess, err := h.dialer.JoinSession(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "agentId"))
	if err != nil {
		h.fail(w, "join", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Leave handles DELETE /api/campaigns/{id}/agents/{agentId}
func (h *CampaignHandler) Leave(w http.ResponseWriter, r *http.Request) {
	sess, err := h.dialer.LeaveSession(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "agentId"))
	if err != nil {
		h.fail(w, "leave", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// WrapUp handles POST /api/campaigns/{id}/items/{itemId}/wrapup
func (h *CampaignHandler) WrapUp(w http.ResponseWriter, r *http.Request) {
	var wu types.WrapUp
	if err := json.NewDecoder(r.Body).Decode(&wu); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if wu.AgentID == "" || wu.Disposition == "" {
		writeError(w, http.StatusBadRequest, "agentId and disposition are required")
		return
	}
	res, err := h.dialer.WrapUp(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), wu)
	if err != nil {
		h.fail(w, "wrapup", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmPreview handles POST /api/campaigns/{id}/preview/{agentId}/confirm
func (h *CampaignHandler) ConfirmPreview(w http.ResponseWriter, r *http.Request) {
	h.preview(w, r, "confirm", h.dialer.ConfirmPreview)
}

// SkipPreview handles POST /api/campaigns/{id}/preview/{agentId}/skip
func (h *CampaignHandler) SkipPreview(w http.ResponseWriter, r *http.Request) {
	h.preview(w, r, "skip", h.dialer.SkipPreview)
}

func (h *CampaignHandler) preview(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string, string) error) {
	id := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentId")
	if err := fn(r.Context(), id, agentID); err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"campaignId": id, "agentId": agentID, "decision": op})
}

// Results handles GET /api/campaigns/{id}/results
func (h *CampaignHandler) Results(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.dialer.Campaign(id); !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	results := h.dialer.Results(id)
	if results == nil {
		results = []types.CallResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Sessions handles GET /api/campaigns/{id}/sessions
func (h *CampaignHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.dialer.Campaign(id); !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	sessions := h.dialer.Sessions(id)
	if sessions == nil {
		sessions = []types.DialerSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Routes mounts the campaign endpoints on r
func (h *CampaignHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Put)
		r.Post("/items", h.AddItems)
		r.Post("/start", h.Start)
		r.Post("/pause", h.Pause)
		r.Post("/agents/{agentId}", h.Join)
		r.Delete("/agents/{agentId}", h.Leave)
		r.Post("/items/{itemId}/wrapup", h.WrapUp)
		r.Post("/preview/{agentId}/confirm", h.ConfirmPreview)
		r.Post("/preview/{agentId}/skip", h.SkipPreview)
		r.Get("/results", h.Results)
		r.Get("/sessions", h.Sessions)
	})
}
